package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// ErrNotFound is returned when a mutation targets an entity that does not
// exist locally.
var ErrNotFound = errors.New("not found")

// CreateTask inserts a new planned task for dayKey and enqueues its create
// op in the same transaction.
func (s *Store) CreateTask(ctx context.Context, title, dayKey string) (*model.Task, error) {
	now := lww.Now()
	task := &model.Task{
		ID:            model.NewID("task"),
		Title:         title,
		TimeLabel:     model.TimeLabel("", ""),
		Status:        model.TaskPlanned,
		DayKey:        dayKey,
		Recurrence:    model.RecurrenceNone,
		Subtasks:      []model.Subtask{},
		LinkedNoteIDs: []string{},
		UpdatedAt:     now,
	}
	err := s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putTaskTx(tx, task); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityTask, task.ID, model.OpCreate, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask loads one task by id, or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	tasks, err := s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return &tasks[0], nil
}

// Tasks returns every task ordered by day then start time.
func (s *Store) Tasks(ctx context.Context) ([]model.Task, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY day_key, time_start, id")
}

// TasksForDay returns the tasks scheduled on dayKey.
func (s *Store) TasksForDay(ctx context.Context, dayKey string) ([]model.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE day_key = ? ORDER BY time_start, id", dayKey)
}

// TaskUpdate carries the mutable task fields; nil fields are untouched.
type TaskUpdate struct {
	Title         *string
	TimeStart     *string
	TimeEnd       *string
	DayKey        *string
	Recurrence    *string
	Subtasks      *[]model.Subtask
	LinkedNoteIDs *[]string
}

// UpdateTask merges upd into the stored task and enqueues an update op.
// When the schedule changes the display label is recomputed, and a task
// that was active or overdue is demoted back to planned if its new slot
// has not started yet.
func (s *Store) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (*model.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		task.Title = *upd.Title
	}
	if upd.Recurrence != nil {
		task.Recurrence = *upd.Recurrence
	}
	if upd.Subtasks != nil {
		task.Subtasks = *upd.Subtasks
	}
	if upd.LinkedNoteIDs != nil {
		task.LinkedNoteIDs = *upd.LinkedNoteIDs
	}

	if upd.TimeStart != nil || upd.TimeEnd != nil || upd.DayKey != nil {
		if upd.TimeStart != nil {
			task.TimeStart = *upd.TimeStart
		}
		if upd.TimeEnd != nil {
			task.TimeEnd = *upd.TimeEnd
		}
		if upd.DayKey != nil {
			task.DayKey = *upd.DayKey
		}
		task.TimeLabel = model.TimeLabel(task.TimeStart, task.TimeEnd)
		if task.Status == model.TaskActive || task.Status == model.TaskOverdue {
			today := model.DayKey(time.Now())
			if task.TimeStart == "" || task.TimeEnd == "" {
				if task.DayKey >= today {
					task.Status = model.TaskPlanned
				}
			} else if isFutureTime(task.DayKey, task.TimeStart, time.Now()) {
				task.Status = model.TaskPlanned
			}
		}
	}

	task.UpdatedAt = lww.Now()
	err = s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putTaskTx(tx, task); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityTask, task.ID, model.OpUpdate, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ToggleTaskDone flips a task between done and planned. Completing a task
// marks every subtask done, stops a running timer and folds the elapsed
// time into time_spent. On a recurring template the toggle lands on the
// materialized instance for the selected day instead.
func (s *Store) ToggleTaskDone(ctx context.Context, id string) (*model.Task, error) {
	now := lww.Now()
	task, isNew, err := s.resolveInstance(ctx, id, now)
	if err != nil {
		return nil, err
	}

	isDone := task.Status == model.TaskDone
	if isDone {
		task.Status = model.TaskPlanned
	} else {
		task.Status = model.TaskDone
		if task.IsTimerRunning && task.LastTimerStart != nil {
			elapsed := time.Now().UnixMilli() - *task.LastTimerStart
			if elapsed > 0 {
				task.TimeSpent += elapsed
			}
		}
		task.IsTimerRunning = false
		task.LastTimerStart = nil
		for i := range task.Subtasks {
			task.Subtasks[i].Status = model.SubtaskDone
		}
	}
	task.UpdatedAt = now

	if err := s.putTaskWithOp(ctx, task, isNew); err != nil {
		return nil, err
	}
	return task, nil
}

// StartTimer starts the task timer if it is not already running. A
// recurring template is materialized first.
func (s *Store) StartTimer(ctx context.Context, id string) (*model.Task, error) {
	now := lww.Now()
	task, isNew, err := s.resolveInstance(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if task.IsTimerRunning {
		return task, nil
	}

	startedAt := time.Now().UnixMilli()
	task.IsTimerRunning = true
	task.LastTimerStart = &startedAt
	task.UpdatedAt = now

	if err := s.putTaskWithOp(ctx, task, isNew); err != nil {
		return nil, err
	}
	return task, nil
}

// StopTimer stops a running timer and accumulates the elapsed time. On a
// template it targets the existing instance for the selected day; with no
// instance there is nothing running and the call is a no-op.
func (s *Store) StopTimer(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.IsTemplate() {
		dayKey, err := s.selectedDayKey(ctx)
		if err != nil {
			return nil, err
		}
		task, err = s.recurringInstance(ctx, id, dayKey)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, nil
		}
	}
	if !task.IsTimerRunning || task.LastTimerStart == nil {
		return task, nil
	}

	elapsed := time.Now().UnixMilli() - *task.LastTimerStart
	if elapsed > 0 {
		task.TimeSpent += elapsed
	}
	task.IsTimerRunning = false
	task.LastTimerStart = nil
	task.UpdatedAt = lww.Now()

	if err := s.putTaskWithOp(ctx, task, false); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes the task and its links, enqueueing a delete op for
// the task and one per removed link, all in a single transaction.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	now := lww.Now()
	noteIDs, err := s.linkedNoteIDs(ctx, id)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete task %s: %w", id, err)
		}
		if _, err := tx.Exec("DELETE FROM links WHERE task_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete links for task %s: %w", id, err)
		}
		if err := enqueueTx(tx, model.EntityTask, id, model.OpDelete, model.DeleteMarker{UpdatedAt: now}); err != nil {
			return err
		}
		for _, noteID := range noteIDs {
			key := model.LinkKey(id, noteID)
			if err := enqueueTx(tx, model.EntityLink, key, model.OpDelete, model.DeleteMarker{UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunTimeTick rolls today's timed tasks between planned, active and
// overdue against the wall clock. Templates, done tasks and tasks without
// a full time range are skipped. Returns the number of tasks that changed.
func (s *Store) RunTimeTick(ctx context.Context, now time.Time) (int, error) {
	todayKey := model.DayKey(now)
	nowMinutes := now.Hour()*60 + now.Minute()

	tasks, err := s.TasksForDay(ctx, todayKey)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range tasks {
		task := &tasks[i]
		if task.Status == model.TaskDone || task.IsTemplate() {
			continue
		}
		if task.TimeStart == "" || task.TimeEnd == "" {
			continue
		}
		start, okStart := parseTimeToMinutes(task.TimeStart)
		end, okEnd := parseTimeToMinutes(task.TimeEnd)
		if !okStart || !okEnd {
			continue
		}
		next := task.Status
		switch {
		case nowMinutes > end:
			next = model.TaskOverdue
		case nowMinutes >= start:
			next = model.TaskActive
		default:
			next = model.TaskPlanned
		}
		if next == task.Status {
			continue
		}
		task.Status = next
		task.UpdatedAt = lww.Now()
		if err := s.putTaskWithOp(ctx, task, false); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// resolveInstance returns the task to mutate: the task itself, or for a
// recurring template the instance for the selected day, building a fresh
// one when none exists yet.
func (s *Store) resolveInstance(ctx context.Context, id, now string) (*model.Task, bool, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !task.IsTemplate() {
		return task, false, nil
	}

	dayKey, err := s.selectedDayKey(ctx)
	if err != nil {
		return nil, false, err
	}
	instance, err := s.recurringInstance(ctx, id, dayKey)
	if err != nil {
		return nil, false, err
	}
	if instance != nil {
		return instance, false, nil
	}
	return materializeInstance(task, dayKey, now), true, nil
}

// materializeInstance derives a concrete task from a recurring template
// for one day. The instance starts fresh: planned, no accumulated time,
// subtasks copied.
func materializeInstance(template *model.Task, dayKey, now string) *model.Task {
	instance := *template
	instance.ID = model.NewID("task")
	instance.DayKey = dayKey
	instance.Recurrence = model.RecurrenceNone
	instance.RecurrenceParentID = template.ID
	instance.Status = model.TaskPlanned
	instance.TimeSpent = 0
	instance.IsTimerRunning = false
	instance.LastTimerStart = nil
	instance.Subtasks = append([]model.Subtask(nil), template.Subtasks...)
	instance.LinkedNoteIDs = append([]string(nil), template.LinkedNoteIDs...)
	instance.UpdatedAt = now
	return &instance
}

func (s *Store) recurringInstance(ctx context.Context, templateID, dayKey string) (*model.Task, error) {
	tasks, err := s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE recurrence_parent_id = ? AND day_key = ?",
		templateID, dayKey)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

func (s *Store) selectedDayKey(ctx context.Context) (string, error) {
	dayKey, err := s.GetMeta(ctx, model.MetaSelectedDayKey)
	if err != nil {
		return "", err
	}
	if dayKey == "" {
		dayKey = model.DayKey(time.Now())
	}
	return dayKey, nil
}

func (s *Store) linkedNoteIDs(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT note_id FROM links WHERE task_id = ?", taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links for task %s: %w", taskID, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) putTaskWithOp(ctx context.Context, task *model.Task, isNew bool) error {
	opType := model.OpUpdate
	if isNew {
		opType = model.OpCreate
	}
	return s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putTaskTx(tx, task); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityTask, task.ID, opType, task)
	})
}

const taskColumns = `id, title, time_start, time_end, status, day_key,
	recurrence, recurrence_parent_id, subtasks, linked_note_ids,
	time_spent, is_timer_running, last_timer_start, updated_at`

func putTaskTx(tx *sql.Tx, task *model.Task) error {
	subtasks, err := json.Marshal(task.Subtasks)
	if err != nil {
		return fmt.Errorf("failed to marshal subtasks for task %s: %w", task.ID, err)
	}
	noteIDs, err := json.Marshal(task.LinkedNoteIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal linked notes for task %s: %w", task.ID, err)
	}
	var parentID sql.NullString
	if task.RecurrenceParentID != "" {
		parentID = sql.NullString{String: task.RecurrenceParentID, Valid: true}
	}
	var timerStart sql.NullInt64
	if task.LastTimerStart != nil {
		timerStart = sql.NullInt64{Int64: *task.LastTimerStart, Valid: true}
	}
	_, err = tx.Exec(`
		INSERT INTO tasks (id, title, time_start, time_end, status, day_key,
			recurrence, recurrence_parent_id, subtasks, linked_note_ids,
			time_spent, is_timer_running, last_timer_start, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			time_start = excluded.time_start,
			time_end = excluded.time_end,
			status = excluded.status,
			day_key = excluded.day_key,
			recurrence = excluded.recurrence,
			recurrence_parent_id = excluded.recurrence_parent_id,
			subtasks = excluded.subtasks,
			linked_note_ids = excluded.linked_note_ids,
			time_spent = excluded.time_spent,
			is_timer_running = excluded.is_timer_running,
			last_timer_start = excluded.last_timer_start,
			updated_at = excluded.updated_at`,
		task.ID, task.Title, task.TimeStart, task.TimeEnd, task.Status, task.DayKey,
		task.Recurrence, parentID, string(subtasks), string(noteIDs),
		task.TimeSpent, boolInt(task.IsTimerRunning), timerStart, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var parentID sql.NullString
		var timerStart sql.NullInt64
		var subtasks, noteIDs string
		var timerRunning int
		if err := rows.Scan(&t.ID, &t.Title, &t.TimeStart, &t.TimeEnd, &t.Status, &t.DayKey,
			&t.Recurrence, &parentID, &subtasks, &noteIDs,
			&t.TimeSpent, &timerRunning, &timerStart, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.RecurrenceParentID = parentID.String
		t.IsTimerRunning = timerRunning != 0
		if timerStart.Valid {
			v := timerStart.Int64
			t.LastTimerStart = &v
		}
		if err := json.Unmarshal([]byte(subtasks), &t.Subtasks); err != nil {
			return nil, fmt.Errorf("failed to decode subtasks for task %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(noteIDs), &t.LinkedNoteIDs); err != nil {
			return nil, fmt.Errorf("failed to decode linked notes for task %s: %w", t.ID, err)
		}
		t.TimeLabel = model.TimeLabel(t.TimeStart, t.TimeEnd)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// isFutureTime reports whether dayKey+start is after now.
func isFutureTime(dayKey, start string, now time.Time) bool {
	today := model.DayKey(now)
	if dayKey > today {
		return true
	}
	if dayKey < today {
		return false
	}
	minutes, ok := parseTimeToMinutes(start)
	if !ok {
		return false
	}
	return minutes > now.Hour()*60+now.Minute()
}

func parseTimeToMinutes(value string) (int, bool) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return hours*60 + minutes, true
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
