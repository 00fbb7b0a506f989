package model

import (
	"encoding/json"

	"organiza/internal/lww"
)

// Row is one untyped entity row as returned by the remote authority.
//
// Servers emit snake_case column names; older clients pushed camelCase
// payloads that the authority stores verbatim inside JSON columns, so the
// normalizer accepts both spellings for every field. This is the single
// place field-name fallbacks live; business logic only ever sees the typed
// entities.
type Row map[string]any

func (r Row) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t
				}
			case json.Number:
				return t.String()
			case float64:
				return json.Number(jsonFloat(t)).String()
			}
		}
	}
	return ""
}

func (r Row) num(keys ...string) float64 {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			switch t := v.(type) {
			case float64:
				return t
			case int64:
				return float64(t)
			case json.Number:
				if f, err := t.Float64(); err == nil {
					return f
				}
			}
		}
	}
	return 0
}

func (r Row) boolish(keys ...string) bool {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			switch t := v.(type) {
			case bool:
				return t
			case float64:
				return t != 0
			case int64:
				return t != 0
			case string:
				return t == "true" || t == "1"
			case json.Number:
				return t.String() != "0"
			}
		}
	}
	return false
}

// intPtr reads an optional integer field (Unix-millisecond timer start).
func (r Row) intPtr(keys ...string) *int64 {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			switch t := v.(type) {
			case float64:
				n := int64(t)
				return &n
			case int64:
				n := t
				return &n
			case json.Number:
				if n, err := t.Int64(); err == nil {
					return &n
				}
			}
		}
	}
	return nil
}

// jsonList decodes a field that may arrive either as a JSON array or as a
// string containing serialized JSON (SQL TEXT columns). A missing or
// malformed value yields the zero slice.
func jsonList[T any](r Row, keys ...string) []T {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var raw []byte
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
			raw = []byte(t)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			raw = b
		}
		var out []T
		if err := json.Unmarshal(raw, &out); err == nil && out != nil {
			return out
		}
	}
	return []T{}
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// NormalizeTask builds a Task from a raw row, recomputing the derived time
// label and defaulting missing fields the way older clients expect.
func NormalizeTask(r Row) Task {
	start := r.str("time_start", "timeStart")
	end := r.str("time_end", "timeEnd")
	status := r.str("status")
	if status == "" {
		status = TaskPlanned
	}
	recurrence := r.str("recurrence")
	if recurrence == "" {
		recurrence = RecurrenceNone
	}
	updatedAt := r.str("updated_at", "updatedAt")
	if updatedAt == "" {
		updatedAt = lww.Now()
	}
	return Task{
		ID:                 r.str("id"),
		Title:              r.str("title"),
		TimeLabel:          TimeLabel(start, end),
		TimeStart:          start,
		TimeEnd:            end,
		Status:             status,
		DayKey:             r.str("day_key", "dayKey"),
		Recurrence:         recurrence,
		RecurrenceParentID: r.str("recurrence_parent_id", "recurrenceParentId"),
		Subtasks:           jsonList[Subtask](r, "subtasks"),
		LinkedNoteIDs:      jsonList[string](r, "linked_note_ids", "linkedNoteIds"),
		TimeSpent:          int64(r.num("time_spent", "timeSpent")),
		IsTimerRunning:     r.boolish("is_timer_running", "isTimerRunning"),
		LastTimerStart:     r.intPtr("last_timer_start", "lastTimerStart"),
		UpdatedAt:          updatedAt,
		DeletedAt:          r.str("deleted_at", "deletedAt"),
	}
}

// NormalizeNote builds a Note from a raw row.
func NormalizeNote(r Row) Note {
	updatedAt := r.str("updated_at", "updatedAt")
	if updatedAt == "" {
		updatedAt = lww.Now()
	}
	createdAt := r.str("created_at", "createdAt")
	if createdAt == "" {
		createdAt = updatedAt
	}
	return Note{
		ID:        r.str("id"),
		Title:     r.str("title"),
		Body:      r.str("body"),
		Color:     r.str("color"),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		DeletedAt: r.str("deleted_at", "deletedAt"),
	}
}

// NormalizeLink builds a Link from a raw row.
func NormalizeLink(r Row) Link {
	return Link{
		TaskID:    r.str("task_id", "taskId"),
		NoteID:    r.str("note_id", "noteId"),
		UpdatedAt: r.str("updated_at", "updatedAt"),
		DeletedAt: r.str("deleted_at", "deletedAt"),
	}
}

// NormalizeInboxItem builds an InboxItem from a raw row.
func NormalizeInboxItem(r Row) InboxItem {
	createdAt := r.str("created_at", "createdAt")
	if createdAt == "" {
		createdAt = lww.Now()
	}
	return InboxItem{
		ID:        r.str("id"),
		Text:      r.str("text"),
		CreatedAt: createdAt,
		UpdatedAt: r.str("updated_at", "updatedAt"),
		DeletedAt: r.str("deleted_at", "deletedAt"),
	}
}

// NormalizePlan builds a Plan from a raw row.
func NormalizePlan(r Row) Plan {
	status := r.str("status")
	if status == "" {
		status = PlanActive
	}
	updatedAt := r.str("updated_at", "updatedAt")
	if updatedAt == "" {
		updatedAt = lww.Now()
	}
	createdAt := r.str("created_at", "createdAt")
	if createdAt == "" {
		createdAt = updatedAt
	}
	return Plan{
		ID:            r.str("id"),
		Title:         r.str("title"),
		Subtitle:      r.str("subtitle"),
		Status:        status,
		StartDate:     r.str("start_date", "startDate"),
		EndDate:       r.str("end_date", "endDate"),
		Goals:         jsonList[PlanGoal](r, "goals"),
		Blocks:        jsonList[PlanBlock](r, "blocks"),
		Phases:        jsonList[PlanPhase](r, "phases"),
		Decisions:     jsonList[PlanDecision](r, "decisions"),
		LinkedTaskIDs: jsonList[string](r, "linked_task_ids", "linkedTaskIds"),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		DeletedAt:     r.str("deleted_at", "deletedAt"),
	}
}

// NormalizeMetaItem builds a MetaItem from a raw row.
func NormalizeMetaItem(r Row) MetaItem {
	return MetaItem{
		Key:       r.str("meta_key", "key"),
		Value:     r.str("value"),
		UpdatedAt: r.str("updated_at", "updatedAt"),
		DeletedAt: r.str("deleted_at", "deletedAt"),
	}
}
