package store

import (
	"context"
	"database/sql"
	"fmt"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// AddInboxItem captures free text into the inbox and enqueues its create op.
func (s *Store) AddInboxItem(ctx context.Context, text string) (*model.InboxItem, error) {
	now := lww.Now()
	item := &model.InboxItem{
		ID:        model.NewID("inbox"),
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putInboxTx(tx, item); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityInbox, item.ID, model.OpCreate, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetInboxItem loads one inbox item, or ErrNotFound.
func (s *Store) GetInboxItem(ctx context.Context, id string) (*model.InboxItem, error) {
	items, err := s.queryInbox(ctx, "SELECT "+inboxColumns+" FROM inbox_items WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("inbox item %s: %w", id, ErrNotFound)
	}
	return &items[0], nil
}

// InboxItems returns the inbox, newest first.
func (s *Store) InboxItems(ctx context.Context) ([]model.InboxItem, error) {
	return s.queryInbox(ctx, "SELECT "+inboxColumns+" FROM inbox_items ORDER BY created_at DESC, id")
}

// UpdateInboxItem replaces the item text and enqueues an update op.
func (s *Store) UpdateInboxItem(ctx context.Context, id, text string) (*model.InboxItem, error) {
	item, err := s.GetInboxItem(ctx, id)
	if err != nil {
		return nil, err
	}
	item.Text = text
	item.UpdatedAt = lww.Now()

	err = s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putInboxTx(tx, item); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityInbox, item.ID, model.OpUpdate, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteInboxItem removes the item and enqueues its delete op.
func (s *Store) DeleteInboxItem(ctx context.Context, id string) error {
	now := lww.Now()
	return s.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM inbox_items WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete inbox item %s: %w", id, err)
		}
		return enqueueTx(tx, model.EntityInbox, id, model.OpDelete, model.DeleteMarker{UpdatedAt: now})
	})
}

// PromoteInboxToTask converts a capture into a planned task on dayKey. The
// item delete and the task create commit in one transaction, producing an
// inbox delete op and a task create op.
func (s *Store) PromoteInboxToTask(ctx context.Context, id, dayKey string) (*model.Task, error) {
	item, err := s.GetInboxItem(ctx, id)
	if err != nil {
		return nil, err
	}
	now := lww.Now()
	task := &model.Task{
		ID:            model.NewID("task"),
		Title:         item.Text,
		TimeLabel:     model.TimeLabel("", ""),
		Status:        model.TaskPlanned,
		DayKey:        dayKey,
		Recurrence:    model.RecurrenceNone,
		Subtasks:      []model.Subtask{},
		LinkedNoteIDs: []string{},
		UpdatedAt:     now,
	}
	err = s.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM inbox_items WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete inbox item %s: %w", id, err)
		}
		if err := putTaskTx(tx, task); err != nil {
			return err
		}
		if err := enqueueTx(tx, model.EntityInbox, id, model.OpDelete, model.DeleteMarker{UpdatedAt: now}); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityTask, task.ID, model.OpCreate, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// PromoteInboxToNote converts a capture into a note, same transactional
// shape as PromoteInboxToTask.
func (s *Store) PromoteInboxToNote(ctx context.Context, id, title, body, color string) (*model.Note, error) {
	if _, err := s.GetInboxItem(ctx, id); err != nil {
		return nil, err
	}
	now := lww.Now()
	note := &model.Note{
		ID:        model.NewID("note"),
		Title:     title,
		Body:      body,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM inbox_items WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete inbox item %s: %w", id, err)
		}
		if err := putNoteTx(tx, note); err != nil {
			return err
		}
		if err := enqueueTx(tx, model.EntityInbox, id, model.OpDelete, model.DeleteMarker{UpdatedAt: now}); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityNote, note.ID, model.OpCreate, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

const inboxColumns = "id, text, created_at, updated_at"

func putInboxTx(tx *sql.Tx, item *model.InboxItem) error {
	_, err := tx.Exec(`
		INSERT INTO inbox_items (id, text, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		item.ID, item.Text, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store inbox item %s: %w", item.ID, err)
	}
	return nil
}

func (s *Store) queryInbox(ctx context.Context, query string, args ...any) ([]model.InboxItem, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbox: %w", err)
	}
	defer rows.Close()

	var items []model.InboxItem
	for rows.Next() {
		var item model.InboxItem
		if err := rows.Scan(&item.ID, &item.Text, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inbox item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inbox: %w", err)
	}
	return items, nil
}
