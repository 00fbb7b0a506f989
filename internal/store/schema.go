package store

import (
	"context"
	"fmt"
)

// Schema migrations are additive and driven by PRAGMA user_version. Each
// step may only add tables and indexes; existing tables are never altered
// destructively, so an old database upgrades in place.
var migrations = []string{
	// v1: core tables.
	`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		time_start TEXT NOT NULL DEFAULT '',
		time_end TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'planned',
		day_key TEXT NOT NULL DEFAULT '',
		recurrence TEXT NOT NULL DEFAULT 'none',
		recurrence_parent_id TEXT,
		subtasks TEXT NOT NULL DEFAULT '[]',
		linked_note_ids TEXT NOT NULL DEFAULT '[]',
		time_spent INTEGER NOT NULL DEFAULT 0,
		is_timer_running INTEGER NOT NULL DEFAULT 0,
		last_timer_start INTEGER,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS links (
		task_id TEXT NOT NULL,
		note_id TEXT NOT NULL,
		PRIMARY KEY (task_id, note_id)
	);

	CREATE TABLE IF NOT EXISTS inbox_items (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS ops_queue (
		op_id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT '',
		updated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_day_key ON tasks(day_key);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_recurrence_parent ON tasks(recurrence_parent_id);
	CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at);
	CREATE INDEX IF NOT EXISTS idx_links_note ON links(note_id);
	CREATE INDEX IF NOT EXISTS idx_ops_queue_status ON ops_queue(status);
	CREATE INDEX IF NOT EXISTS idx_ops_queue_entity ON ops_queue(entity_type, entity_id);
	`,

	// v2: plans.
	`
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		subtitle TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		start_date TEXT NOT NULL DEFAULT '',
		end_date TEXT NOT NULL DEFAULT '',
		goals TEXT NOT NULL DEFAULT '[]',
		blocks TEXT NOT NULL DEFAULT '[]',
		phases TEXT NOT NULL DEFAULT '[]',
		decisions TEXT NOT NULL DEFAULT '[]',
		linked_task_ids TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
	CREATE INDEX IF NOT EXISTS idx_plans_updated_at ON plans(updated_at);
	`,
}

// migrate applies every migration step past the recorded user_version.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.conn.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("failed to apply schema migration %d: %w", i+1, err)
		}
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaVersion returns the applied schema version, mainly for status output.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
