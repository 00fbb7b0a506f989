package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// GetMeta returns the value for key, or "" when the key is absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a key/value pair with an optional conflict timestamp.
func (s *Store) SetMeta(ctx context.Context, key, value, updatedAt string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return setMetaTx(tx, key, value, updatedAt)
	})
}

func setMetaTx(tx *sql.Tx, key, value, updatedAt string) error {
	var stamp sql.NullString
	if updatedAt != "" {
		stamp = sql.NullString{String: updatedAt, Valid: true}
	}
	_, err := tx.Exec(`
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, stamp)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// UpdateRoutine applies the routine settings present in updates (nil fields
// untouched) and enqueues one meta op per changed key, all in one
// transaction.
type RoutineUpdate struct {
	WakeTime            *string
	SleepTime           *string
	ApplyRoutineAllDays *bool
	WarnOverbooked      *bool
	BlockOverbooked     *bool
}

// UpdateRoutine persists routine settings and mirrors each change into the
// outbox as a meta op.
func (s *Store) UpdateRoutine(ctx context.Context, updates RoutineUpdate) error {
	now := lww.Now()
	type change struct{ key, value string }
	var changes []change
	if updates.WakeTime != nil {
		changes = append(changes, change{model.MetaWakeTime, *updates.WakeTime})
	}
	if updates.SleepTime != nil {
		changes = append(changes, change{model.MetaSleepTime, *updates.SleepTime})
	}
	if updates.ApplyRoutineAllDays != nil {
		changes = append(changes, change{model.MetaApplyRoutineAllDays, boolString(*updates.ApplyRoutineAllDays)})
	}
	if updates.WarnOverbooked != nil {
		changes = append(changes, change{model.MetaWarnOverbooked, boolString(*updates.WarnOverbooked)})
	}
	if updates.BlockOverbooked != nil {
		changes = append(changes, change{model.MetaBlockOverbooked, boolString(*updates.BlockOverbooked)})
	}
	if len(changes) == 0 {
		return nil
	}

	return s.mutate(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			if err := setMetaTx(tx, c.key, c.value, now); err != nil {
				return err
			}
			item := model.MetaItem{Key: c.key, Value: c.value, UpdatedAt: now}
			if err := enqueueTx(tx, model.EntityMeta, c.key, model.OpUpdate, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetSelectedDayKey persists the selected day and enqueues the meta op.
func (s *Store) SetSelectedDayKey(ctx context.Context, dayKey string) error {
	now := lww.Now()
	return s.mutate(ctx, func(tx *sql.Tx) error {
		if err := setMetaTx(tx, model.MetaSelectedDayKey, dayKey, now); err != nil {
			return err
		}
		item := model.MetaItem{Key: model.MetaSelectedDayKey, Value: dayKey, UpdatedAt: now}
		return enqueueTx(tx, model.EntityMeta, model.MetaSelectedDayKey, model.OpUpdate, item)
	})
}

// Cursor returns the last sync cursor, defaulting to epoch.
func (s *Store) Cursor(ctx context.Context) (string, error) {
	cursor, err := s.GetMeta(ctx, model.MetaLastSyncCursor)
	if err != nil {
		return "", err
	}
	if cursor == "" {
		return lww.Epoch, nil
	}
	return cursor, nil
}

// SetCursor persists the sync cursor.
func (s *Store) SetCursor(ctx context.Context, cursor string) error {
	return s.SetMeta(ctx, model.MetaLastSyncCursor, cursor, "")
}

// Seed writes the default metadata on first run. Each key is checked and
// set independently, so a partially seeded database heals on the next run
// instead of being corrupted by it.
func (s *Store) Seed(ctx context.Context, defaultUserID string) error {
	if defaultUserID == "" {
		defaultUserID = "shared-user"
	}
	defaults := []struct{ key, value string }{
		{model.MetaDeviceID, model.NewID("device")},
		{model.MetaUserID, defaultUserID},
		{model.MetaSelectedDayKey, model.DayKey(time.Now())},
		{model.MetaWakeTime, "07:00"},
		{model.MetaSleepTime, "23:00"},
		{model.MetaApplyRoutineAllDays, "false"},
		{model.MetaWarnOverbooked, "true"},
		{model.MetaBlockOverbooked, "false"},
		{model.MetaLastSyncCursor, lww.Epoch},
	}
	for _, d := range defaults {
		exists, err := s.hasMeta(ctx, d.key)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := s.SetMeta(ctx, d.key, d.value, ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) hasMeta(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM meta WHERE key = ?", key).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check meta %s: %w", key, err)
	}
	return n > 0, nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
