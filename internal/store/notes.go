package store

import (
	"context"
	"database/sql"
	"fmt"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// CreateNote inserts a note and enqueues its create op.
func (s *Store) CreateNote(ctx context.Context, title, body, color string) (*model.Note, error) {
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
		if err := putNoteTx(tx, note); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityNote, note.ID, model.OpCreate, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// GetNote loads one note by id, or ErrNotFound.
func (s *Store) GetNote(ctx context.Context, id string) (*model.Note, error) {
	notes, err := s.queryNotes(ctx, "SELECT "+noteColumns+" FROM notes WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	return &notes[0], nil
}

// Notes returns every note, most recently updated first.
func (s *Store) Notes(ctx context.Context) ([]model.Note, error) {
	return s.queryNotes(ctx, "SELECT "+noteColumns+" FROM notes ORDER BY updated_at DESC, id")
}

// NoteUpdate carries the mutable note fields; nil fields are untouched.
type NoteUpdate struct {
	Title *string
	Body  *string
	Color *string
}

// UpdateNote merges upd into the stored note and enqueues an update op.
func (s *Store) UpdateNote(ctx context.Context, id string, upd NoteUpdate) (*model.Note, error) {
	note, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		note.Title = *upd.Title
	}
	if upd.Body != nil {
		note.Body = *upd.Body
	}
	if upd.Color != nil {
		note.Color = *upd.Color
	}
	note.UpdatedAt = lww.Now()

	err = s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putNoteTx(tx, note); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityNote, note.ID, model.OpUpdate, note)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// DeleteNote removes the note and cascades: its links are deleted (one
// delete op per link), and the note id is stripped from every task that
// referenced it (one task update op per affected task). Everything commits
// in a single transaction.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	now := lww.Now()

	affected, err := s.queryTasks(ctx, "SELECT "+taskColumns+" FROM tasks WHERE linked_note_ids LIKE ?",
		"%"+id+"%")
	if err != nil {
		return err
	}
	linkedTaskIDs, err := s.linkedTaskIDs(ctx, id)
	if err != nil {
		return err
	}

	return s.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM notes WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete note %s: %w", id, err)
		}
		if _, err := tx.Exec("DELETE FROM links WHERE note_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete links for note %s: %w", id, err)
		}
		if err := enqueueTx(tx, model.EntityNote, id, model.OpDelete, model.DeleteMarker{UpdatedAt: now}); err != nil {
			return err
		}
		for i := range affected {
			task := &affected[i]
			if !removeString(&task.LinkedNoteIDs, id) {
				continue
			}
			task.UpdatedAt = now
			if err := putTaskTx(tx, task); err != nil {
				return err
			}
			if err := enqueueTx(tx, model.EntityTask, task.ID, model.OpUpdate, task); err != nil {
				return err
			}
		}
		for _, taskID := range linkedTaskIDs {
			key := model.LinkKey(taskID, id)
			if err := enqueueTx(tx, model.EntityLink, key, model.OpDelete, model.DeleteMarker{UpdatedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) linkedTaskIDs(ctx context.Context, noteID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT task_id FROM links WHERE note_id = ?", noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links for note %s: %w", noteID, err)
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

// removeString drops value from the slice in place, reporting whether it
// was present.
func removeString(values *[]string, value string) bool {
	for i, v := range *values {
		if v == value {
			*values = append((*values)[:i], (*values)[i+1:]...)
			return true
		}
	}
	return false
}

const noteColumns = "id, title, body, color, created_at, updated_at"

func putNoteTx(tx *sql.Tx, note *model.Note) error {
	_, err := tx.Exec(`
		INSERT INTO notes (id, title, body, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			color = excluded.color,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		note.ID, note.Title, note.Body, note.Color, note.CreatedAt, note.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store note %s: %w", note.ID, err)
	}
	return nil
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]model.Note, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []model.Note
	for rows.Next() {
		var n model.Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Color, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}
