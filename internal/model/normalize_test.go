package model

import (
	"encoding/json"
	"testing"
)

func rowFromJSON(t *testing.T, raw string) Row {
	t.Helper()
	var r Row
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("bad row fixture: %v", err)
	}
	return r
}

func TestNormalizeTask_SnakeCase(t *testing.T) {
	r := rowFromJSON(t, `{
		"id": "task-1",
		"title": "Buy milk",
		"time_start": "09:00",
		"time_end": "09:30",
		"status": "planned",
		"day_key": "2024-01-10",
		"recurrence": "none",
		"subtasks": "[{\"id\":\"s1\",\"title\":\"pay\",\"status\":\"PENDING\"}]",
		"linked_note_ids": "[\"note-1\"]",
		"time_spent": 1500,
		"is_timer_running": 0,
		"updated_at": "2024-01-10T08:00:00.000Z"
	}`)

	task := NormalizeTask(r)
	if task.ID != "task-1" || task.Title != "Buy milk" {
		t.Fatalf("unexpected identity fields: %+v", task)
	}
	if task.DayKey != "2024-01-10" {
		t.Errorf("DayKey = %q", task.DayKey)
	}
	if task.TimeLabel != "09:00 - 09:30" {
		t.Errorf("TimeLabel = %q", task.TimeLabel)
	}
	if len(task.Subtasks) != 1 || task.Subtasks[0].Status != SubtaskPending {
		t.Errorf("Subtasks = %+v", task.Subtasks)
	}
	if len(task.LinkedNoteIDs) != 1 || task.LinkedNoteIDs[0] != "note-1" {
		t.Errorf("LinkedNoteIDs = %+v", task.LinkedNoteIDs)
	}
	if task.TimeSpent != 1500 {
		t.Errorf("TimeSpent = %d", task.TimeSpent)
	}
	if task.IsTimerRunning {
		t.Error("IsTimerRunning should be false")
	}
}

func TestNormalizeTask_CamelCaseFallback(t *testing.T) {
	r := rowFromJSON(t, `{
		"id": "task-2",
		"title": "Call dentist",
		"timeStart": "14:00",
		"timeEnd": "",
		"dayKey": "2024-02-01",
		"recurrenceParentId": "task-base",
		"linkedNoteIds": ["note-9"],
		"isTimerRunning": true,
		"lastTimerStart": 1704900000000,
		"updatedAt": "2024-02-01T12:00:00.000Z"
	}`)

	task := NormalizeTask(r)
	if task.TimeStart != "14:00" || task.DayKey != "2024-02-01" {
		t.Fatalf("camelCase fields not read: %+v", task)
	}
	if task.TimeLabel != "14:00" {
		t.Errorf("TimeLabel = %q, want start-only label", task.TimeLabel)
	}
	if task.RecurrenceParentID != "task-base" {
		t.Errorf("RecurrenceParentID = %q", task.RecurrenceParentID)
	}
	if !task.IsTimerRunning {
		t.Error("IsTimerRunning should be true")
	}
	if task.LastTimerStart == nil || *task.LastTimerStart != 1704900000000 {
		t.Errorf("LastTimerStart = %v", task.LastTimerStart)
	}
	if task.Status != TaskPlanned {
		t.Errorf("Status default = %q", task.Status)
	}
	if task.Recurrence != RecurrenceNone {
		t.Errorf("Recurrence default = %q", task.Recurrence)
	}
}

func TestNormalizeTask_NoTimesLabel(t *testing.T) {
	task := NormalizeTask(Row{"id": "task-3"})
	if task.TimeLabel != "Sem horário" {
		t.Errorf("TimeLabel = %q", task.TimeLabel)
	}
	if task.Subtasks == nil || task.LinkedNoteIDs == nil {
		t.Error("slices should be non-nil after normalization")
	}
}

func TestNormalizeNote_CreatedAtFallsBackToUpdatedAt(t *testing.T) {
	note := NormalizeNote(Row{
		"id":         "note-1",
		"title":      "Weekly review",
		"body":       "notes",
		"updated_at": "2024-01-10T08:00:00.000Z",
	})
	if note.CreatedAt != "2024-01-10T08:00:00.000Z" {
		t.Errorf("CreatedAt = %q", note.CreatedAt)
	}
}

func TestNormalizeLink_BothSpellings(t *testing.T) {
	snake := NormalizeLink(Row{"task_id": "t1", "note_id": "n1"})
	camel := NormalizeLink(Row{"taskId": "t1", "noteId": "n1"})
	if snake != camel {
		t.Errorf("snake %+v != camel %+v", snake, camel)
	}
	if snake.Key() != "t1:n1" {
		t.Errorf("Key() = %q", snake.Key())
	}
}

func TestNormalizePlan_NestedCollections(t *testing.T) {
	r := rowFromJSON(t, `{
		"id": "plan-1",
		"title": "Q1",
		"status": "active",
		"goals": "[{\"id\":\"g1\",\"label\":\"MRR\",\"currentValue\":30,\"targetValue\":50,\"unit\":\"k\"}]",
		"phases": [{"id":"p1","title":"Research","startDate":"","endDate":"","status":"active"}],
		"linked_task_ids": "[]",
		"updated_at": "2024-01-05T10:00:00.000Z"
	}`)
	plan := NormalizePlan(r)
	if len(plan.Goals) != 1 || plan.Goals[0].TargetValue != 50 {
		t.Errorf("Goals = %+v", plan.Goals)
	}
	if len(plan.Phases) != 1 || plan.Phases[0].Title != "Research" {
		t.Errorf("Phases = %+v", plan.Phases)
	}
	if plan.CreatedAt != plan.UpdatedAt {
		t.Errorf("CreatedAt fallback: %q vs %q", plan.CreatedAt, plan.UpdatedAt)
	}
}

func TestNormalizeMetaItem_KeyAliases(t *testing.T) {
	fromServer := NormalizeMetaItem(Row{"meta_key": "wakeTime", "value": "06:30"})
	fromClient := NormalizeMetaItem(Row{"key": "wakeTime", "value": "06:30"})
	if fromServer != fromClient {
		t.Errorf("meta_key/key mismatch: %+v vs %+v", fromServer, fromClient)
	}
}

func TestNormalizeInboxItem_DeleteMarker(t *testing.T) {
	item := NormalizeInboxItem(Row{
		"id":         "inbox-1",
		"text":       "old idea",
		"deleted_at": "2024-01-11T09:00:00.000Z",
	})
	if item.DeletedAt == "" {
		t.Error("DeletedAt should be carried through")
	}
}
