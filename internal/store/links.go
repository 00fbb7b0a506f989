package store

import (
	"context"
	"database/sql"
	"fmt"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// LinkNoteToTask joins a note to a task. The link row is idempotent; the
// task row is touched either way so the pairing survives a full-snapshot
// sync. Enqueues a link create op and a task update op together.
func (s *Store) LinkNoteToTask(ctx context.Context, noteID, taskID string) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	now := lww.Now()
	if !containsString(task.LinkedNoteIDs, noteID) {
		task.LinkedNoteIDs = append(task.LinkedNoteIDs, noteID)
	}
	task.UpdatedAt = now

	return s.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO links (task_id, note_id) VALUES (?, ?)", taskID, noteID); err != nil {
			return fmt.Errorf("failed to store link %s: %w", model.LinkKey(taskID, noteID), err)
		}
		if err := putTaskTx(tx, task); err != nil {
			return err
		}
		link := model.Link{TaskID: taskID, NoteID: noteID, UpdatedAt: now}
		if err := enqueueTx(tx, model.EntityLink, link.Key(), model.OpCreate, link); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityTask, task.ID, model.OpUpdate, task)
	})
}

// Links returns every task/note pairing.
func (s *Store) Links(ctx context.Context) ([]model.Link, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT task_id, note_id FROM links ORDER BY task_id, note_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var l model.Link
		if err := rows.Scan(&l.TaskID, &l.NoteID); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}
	return links, nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
