package store

import (
	"context"
	"testing"

	"organiza/internal/model"
)

func remoteTask(id, title, updatedAt, deletedAt string) model.Task {
	return model.Task{
		ID:            id,
		Title:         title,
		Status:        model.TaskPlanned,
		DayKey:        "2024-01-10",
		Recurrence:    model.RecurrenceNone,
		Subtasks:      []model.Subtask{},
		LinkedNoteIDs: []string{},
		UpdatedAt:     updatedAt,
		DeletedAt:     deletedAt,
	}
}

func TestApplyRemoteTasksIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := remoteTask("task-r1", "remote", "2024-01-10T10:00:00.000Z", "")
	for i := 0; i < 2; i++ {
		if _, err := s.ApplyRemoteTasks(ctx, []model.Task{row}); err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
	}

	tasks, err := s.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if tasks[0].Title != "remote" || tasks[0].UpdatedAt != row.UpdatedAt {
		t.Errorf("stored task = %+v", tasks[0])
	}

	// Remote-originated rows must not feed back into the outbox.
	ops, _ := s.PendingOps(ctx)
	if len(ops) != 0 {
		t.Errorf("apply enqueued ops: %+v", ops)
	}
}

func TestApplyRemoteTasksLWWBothOrders(t *testing.T) {
	older := remoteTask("task-lww", "older", "2024-01-10T10:00:00.000Z", "")
	newer := remoteTask("task-lww", "newer", "2024-01-10T11:00:00.000Z", "")

	for name, sequence := range map[string][]model.Task{
		"older-then-newer": {older, newer},
		"newer-then-older": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			for _, row := range sequence {
				if _, err := s.ApplyRemoteTasks(ctx, []model.Task{row}); err != nil {
					t.Fatalf("apply failed: %v", err)
				}
			}
			stored, err := s.GetTask(ctx, "task-lww")
			if err != nil {
				t.Fatalf("GetTask failed: %v", err)
			}
			if stored.Title != "newer" {
				t.Errorf("converged to %q, want newer", stored.Title)
			}
		})
	}
}

func TestApplyRemoteTaskTieGoesToIncoming(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stamp := "2024-01-10T10:00:00.000Z"
	first := remoteTask("task-tie", "first", stamp, "")
	second := remoteTask("task-tie", "second", stamp, "")
	if _, err := s.ApplyRemoteTasks(ctx, []model.Task{first}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := s.ApplyRemoteTasks(ctx, []model.Task{second}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	stored, err := s.GetTask(ctx, "task-tie")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if stored.Title != "second" {
		t.Errorf("tie resolved to %q, want second (reapply allowed)", stored.Title)
	}
}

func TestApplyRemoteNoteDeleteWinsOverOlderUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	update := model.Note{ID: "note-d", Title: "kept?", Body: "b",
		CreatedAt: "2024-01-10T09:00:00.000Z", UpdatedAt: "2024-01-10T09:00:00.000Z"}
	tombstone := model.Note{ID: "note-d",
		UpdatedAt: "2024-01-10T09:00:00.000Z", DeletedAt: "2024-01-10T10:00:00.000Z"}

	if _, err := s.ApplyRemoteNotes(ctx, []model.Note{update}); err != nil {
		t.Fatalf("apply update failed: %v", err)
	}
	if _, err := s.ApplyRemoteNotes(ctx, []model.Note{tombstone}); err != nil {
		t.Fatalf("apply delete failed: %v", err)
	}
	notes, _ := s.Notes(ctx)
	if len(notes) != 0 {
		t.Errorf("note survived newer delete: %+v", notes)
	}
}

func TestApplyRemoteNoteNewerUpdateRevivesDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tombstone := model.Note{ID: "note-r",
		UpdatedAt: "2024-01-10T09:00:00.000Z", DeletedAt: "2024-01-10T09:00:00.000Z"}
	revive := model.Note{ID: "note-r", Title: "back", Body: "again",
		CreatedAt: "2024-01-10T08:00:00.000Z", UpdatedAt: "2024-01-10T10:00:00.000Z"}

	if _, err := s.ApplyRemoteNotes(ctx, []model.Note{tombstone}); err != nil {
		t.Fatalf("apply delete failed: %v", err)
	}
	if _, err := s.ApplyRemoteNotes(ctx, []model.Note{revive}); err != nil {
		t.Fatalf("apply revive failed: %v", err)
	}
	note, err := s.GetNote(ctx, "note-r")
	if err != nil {
		t.Fatalf("note not revived: %v", err)
	}
	if note.Title != "back" {
		t.Errorf("revived note = %+v", note)
	}
}

func TestApplyRemoteMetaRestrictedToSyncableKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx, ""); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	before, _ := s.GetMeta(ctx, model.MetaDeviceID)

	applied, err := s.ApplyRemoteMeta(ctx, []model.MetaItem{
		{Key: model.MetaWakeTime, Value: "06:30", UpdatedAt: "2024-01-10T10:00:00.000Z"},
		{Key: model.MetaDeviceID, Value: "attacker-device", UpdatedAt: "2099-01-01T00:00:00.000Z"},
		{Key: model.MetaLastSyncCursor, Value: "2099-01-01T00:00:00.000Z", UpdatedAt: "2099-01-01T00:00:00.000Z"},
	})
	if err != nil {
		t.Fatalf("ApplyRemoteMeta failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}

	wake, _ := s.GetMeta(ctx, model.MetaWakeTime)
	if wake != "06:30" {
		t.Errorf("wakeTime = %q, want 06:30", wake)
	}
	device, _ := s.GetMeta(ctx, model.MetaDeviceID)
	if device != before {
		t.Error("deviceId overwritten from remote")
	}
}

func TestApplyRemoteLinksDeleteAndCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	create := model.Link{TaskID: "t1", NoteID: "n1"}
	if _, err := s.ApplyRemoteLinks(ctx, []model.Link{create, create}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	links, _ := s.Links(ctx)
	if len(links) != 1 {
		t.Fatalf("links = %+v, want one", links)
	}

	tombstone := model.Link{TaskID: "t1", NoteID: "n1", DeletedAt: "2024-01-10T10:00:00.000Z"}
	if _, err := s.ApplyRemoteLinks(ctx, []model.Link{tombstone}); err != nil {
		t.Fatalf("apply delete failed: %v", err)
	}
	links, _ = s.Links(ctx)
	if len(links) != 0 {
		t.Errorf("link survived delete: %+v", links)
	}
}
