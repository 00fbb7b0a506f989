// Package model defines the entities shared by the local store, the sync
// client and the remote authority.
//
// The shapes are flat and timestamped for last-writer-wins conflict
// resolution: every syncable entity carries updated_at, and the remote side
// adds user_id plus a deleted_at soft-delete marker. A write always carries
// the full entity snapshot, never a partial diff.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task statuses.
const (
	TaskPlanned = "planned"
	TaskActive  = "active"
	TaskOverdue = "overdue"
	TaskDone    = "done"
)

// Recurrence values.
const (
	RecurrenceNone    = "none"
	RecurrenceDaily   = "daily"
	RecurrenceWeekly  = "weekly"
	RecurrenceMonthly = "monthly"
)

// Subtask statuses (wire literals kept uppercase for compatibility with
// existing installs).
const (
	SubtaskPending = "PENDING"
	SubtaskDone    = "DONE"
)

// Plan statuses.
const (
	PlanActive   = "active"
	PlanDone     = "done"
	PlanArchived = "archived"
)

// Subtask is one checklist entry inside a task.
type Subtask struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Task is a calendar-bound unit of work.
//
// A task with Recurrence != none and no RecurrenceParentID is a template:
// it is never completed or timed directly, but materialized into a concrete
// instance (Recurrence none, parent id set) the first time it is touched
// for a given day.
type Task struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	TimeLabel          string    `json:"timeLabel"`
	TimeStart          string    `json:"timeStart"`
	TimeEnd            string    `json:"timeEnd"`
	Status             string    `json:"status"`
	DayKey             string    `json:"dayKey"`
	Recurrence         string    `json:"recurrence"`
	RecurrenceParentID string    `json:"recurrenceParentId,omitempty"`
	Subtasks           []Subtask `json:"subtasks"`
	LinkedNoteIDs      []string  `json:"linkedNoteIds"`
	TimeSpent          int64     `json:"timeSpent"`
	IsTimerRunning     bool      `json:"isTimerRunning"`
	LastTimerStart     *int64    `json:"lastTimerStart"`
	UpdatedAt          string    `json:"updatedAt"`
	DeletedAt          string    `json:"deletedAt,omitempty"`
}

// IsTemplate reports whether the task is a recurring template rather than a
// concrete instance.
func (t *Task) IsTemplate() bool {
	return t.Recurrence != RecurrenceNone && t.RecurrenceParentID == ""
}

// Note is a free-form text note with an optional color tag.
type Note struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Color     string `json:"color,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	DeletedAt string `json:"deletedAt,omitempty"`
}

// Link joins a task and a note. It has no identity beyond the pair; the
// remote keys it as "taskID:noteID".
type Link struct {
	TaskID    string `json:"taskId"`
	NoteID    string `json:"noteId"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	DeletedAt string `json:"deletedAt,omitempty"`
}

// Key returns the composite remote key for the link.
func (l Link) Key() string {
	return LinkKey(l.TaskID, l.NoteID)
}

// LinkKey builds the composite remote key for a task/note pair.
func LinkKey(taskID, noteID string) string {
	return fmt.Sprintf("%s:%s", taskID, noteID)
}

// InboxItem is an unprocessed capture awaiting triage into a task or note.
type InboxItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	DeletedAt string `json:"deletedAt,omitempty"`
}

// PlanGoal is a numeric target tracked inside a plan.
type PlanGoal struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	CurrentValue float64 `json:"currentValue"`
	TargetValue  float64 `json:"targetValue"`
	Unit         string  `json:"unit"`
}

// PlanBlock is a free-text section of a plan.
type PlanBlock struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PlanPhase is a dated stage of a plan.
type PlanPhase struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Status    string `json:"status"`
}

// PlanDecision records a decision taken during a plan.
type PlanDecision struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	DecidedAt string `json:"decidedAt"`
}

// Plan is a long-running initiative with goals, phases and decisions.
type Plan struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Subtitle      string         `json:"subtitle"`
	Status        string         `json:"status"`
	StartDate     string         `json:"startDate"`
	EndDate       string         `json:"endDate"`
	Goals         []PlanGoal     `json:"goals"`
	Blocks        []PlanBlock    `json:"blocks"`
	Phases        []PlanPhase    `json:"phases"`
	Decisions     []PlanDecision `json:"decisions"`
	LinkedTaskIDs []string       `json:"linkedTaskIds"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
	DeletedAt     string         `json:"deletedAt,omitempty"`
}

// MetaItem is a process-wide key/value setting. UpdatedAt is optional and
// only present for keys that participate in sync.
type MetaItem struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	DeletedAt string `json:"deletedAt,omitempty"`
}

// Well-known meta keys seeded on first run.
const (
	MetaDeviceID            = "deviceId"
	MetaUserID              = "userId"
	MetaSelectedDayKey      = "selectedDayKey"
	MetaWakeTime            = "wakeTime"
	MetaSleepTime           = "sleepTime"
	MetaApplyRoutineAllDays = "applyRoutineAllDays"
	MetaWarnOverbooked      = "warnOverbooked"
	MetaBlockOverbooked     = "blockOverbooked"
	MetaLastSyncCursor      = "lastSyncCursor"
	MetaPlansBootstrapped   = "plansSyncBootstrapped"
)

// SyncableMetaKeys are the only meta keys that travel through sync; device
// identity and the cursor itself stay local.
var SyncableMetaKeys = map[string]bool{
	MetaSelectedDayKey:      true,
	MetaWakeTime:            true,
	MetaSleepTime:           true,
	MetaApplyRoutineAllDays: true,
	MetaWarnOverbooked:      true,
	MetaBlockOverbooked:     true,
}

// NewID returns a prefixed unique id for a new entity.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// DayKey formats t as a calendar day key (YYYY-MM-DD) in local time.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// TimeLabel builds the display label for a start/end time pair.
func TimeLabel(start, end string) string {
	switch {
	case start != "" && end != "":
		return start + " - " + end
	case start != "":
		return start
	default:
		return "Sem horário"
	}
}
