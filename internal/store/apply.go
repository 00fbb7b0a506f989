package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// Remote apply: merges rows received from a pull into the local tables.
// Each table is applied in its own transaction. A row lands only when the
// stored version is not newer (shared last-writer-wins policy); rows
// carrying a delete marker remove the local row under the same check.
// Nothing here touches the outbox, since these changes originate remotely.

// ApplyRemoteTasks merges pulled task rows.
func (s *Store) ApplyRemoteTasks(ctx context.Context, tasks []model.Task) (int, error) {
	applied := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range tasks {
			task := &tasks[i]
			current, err := storedStamp(tx, "tasks", "id", task.ID)
			if err != nil {
				return err
			}
			if !lww.Accept(current, effectiveStamp(task.UpdatedAt, task.DeletedAt)) {
				continue
			}
			if task.DeletedAt != "" {
				if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", task.ID); err != nil {
					return fmt.Errorf("failed to apply task delete %s: %w", task.ID, err)
				}
			} else if err := putTaskTx(tx, task); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// ApplyRemoteNotes merges pulled note rows.
func (s *Store) ApplyRemoteNotes(ctx context.Context, notes []model.Note) (int, error) {
	applied := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range notes {
			note := &notes[i]
			current, err := storedStamp(tx, "notes", "id", note.ID)
			if err != nil {
				return err
			}
			if !lww.Accept(current, effectiveStamp(note.UpdatedAt, note.DeletedAt)) {
				continue
			}
			if note.DeletedAt != "" {
				if _, err := tx.Exec("DELETE FROM notes WHERE id = ?", note.ID); err != nil {
					return fmt.Errorf("failed to apply note delete %s: %w", note.ID, err)
				}
			} else if err := putNoteTx(tx, note); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// ApplyRemoteLinks merges pulled link rows. Links carry no content beyond
// the pair, so there is no stored timestamp to compare against; creates
// are idempotent inserts and delete markers remove the pair.
func (s *Store) ApplyRemoteLinks(ctx context.Context, links []model.Link) (int, error) {
	applied := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, link := range links {
			if link.TaskID == "" || link.NoteID == "" {
				continue
			}
			if link.DeletedAt != "" {
				if _, err := tx.Exec("DELETE FROM links WHERE task_id = ? AND note_id = ?",
					link.TaskID, link.NoteID); err != nil {
					return fmt.Errorf("failed to apply link delete %s: %w", link.Key(), err)
				}
			} else if _, err := tx.Exec("INSERT OR IGNORE INTO links (task_id, note_id) VALUES (?, ?)",
				link.TaskID, link.NoteID); err != nil {
				return fmt.Errorf("failed to apply link %s: %w", link.Key(), err)
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// ApplyRemoteInboxItems merges pulled inbox rows.
func (s *Store) ApplyRemoteInboxItems(ctx context.Context, items []model.InboxItem) (int, error) {
	applied := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range items {
			item := &items[i]
			current, err := storedStamp(tx, "inbox_items", "id", item.ID)
			if err != nil {
				return err
			}
			if !lww.Accept(current, effectiveStamp(item.UpdatedAt, item.DeletedAt)) {
				continue
			}
			if item.DeletedAt != "" {
				if _, err := tx.Exec("DELETE FROM inbox_items WHERE id = ?", item.ID); err != nil {
					return fmt.Errorf("failed to apply inbox delete %s: %w", item.ID, err)
				}
			} else if err := putInboxTx(tx, item); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// ApplyRemotePlans merges pulled plan rows.
func (s *Store) ApplyRemotePlans(ctx context.Context, plans []model.Plan) (int, error) {
	applied := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range plans {
			plan := &plans[i]
			current, err := storedStamp(tx, "plans", "id", plan.ID)
			if err != nil {
				return err
			}
			if !lww.Accept(current, effectiveStamp(plan.UpdatedAt, plan.DeletedAt)) {
				continue
			}
			if plan.DeletedAt != "" {
				if _, err := tx.Exec("DELETE FROM plans WHERE id = ?", plan.ID); err != nil {
					return fmt.Errorf("failed to apply plan delete %s: %w", plan.ID, err)
				}
			} else if err := putPlanTx(tx, plan); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// ApplyRemoteMeta merges pulled settings. Only keys in the syncable set
// are accepted; device identity and the cursor never come from remote.
func (s *Store) ApplyRemoteMeta(ctx context.Context, items []model.MetaItem) (int, error) {
	applied := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			if !model.SyncableMetaKeys[item.Key] {
				continue
			}
			current, err := storedStamp(tx, "meta", "key", item.Key)
			if err != nil {
				return err
			}
			if !lww.Accept(current, effectiveStamp(item.UpdatedAt, item.DeletedAt)) {
				continue
			}
			if item.DeletedAt != "" {
				if _, err := tx.Exec("DELETE FROM meta WHERE key = ?", item.Key); err != nil {
					return fmt.Errorf("failed to apply meta delete %s: %w", item.Key, err)
				}
			} else if err := setMetaTx(tx, item.Key, item.Value, item.UpdatedAt); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// storedStamp reads the updated_at for one row, "" when absent.
func storedStamp(tx *sql.Tx, table, keyColumn, key string) (string, error) {
	var stamp sql.NullString
	err := tx.QueryRow(
		fmt.Sprintf("SELECT updated_at FROM %s WHERE %s = ?", table, keyColumn), key).Scan(&stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s stamp for %s: %w", table, key, err)
	}
	return stamp.String, nil
}

// effectiveStamp picks the timestamp an incoming row competes with: the
// deletion stamp when it is the later event.
func effectiveStamp(updatedAt, deletedAt string) string {
	if deletedAt > updatedAt {
		return deletedAt
	}
	return updatedAt
}
