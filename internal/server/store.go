// Package server implements the remote sync authority: stateless HTTP
// handlers over a shared relational store. Incoming ops are applied with
// the same last-writer-wins policy the clients use, and deletions are kept
// as soft-delete tombstones so delta pulls can propagate them.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// Store is the authority's relational store. Every entity row carries
// user_id, updated_at and a nullable deleted_at.
type Store struct {
	conn *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
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
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE TABLE IF NOT EXISTS links (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	note_id TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE TABLE IF NOT EXISTS inbox_items (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
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
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE TABLE IF NOT EXISTS meta (
	user_id TEXT NOT NULL,
	meta_key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	deleted_at TEXT,
	PRIMARY KEY (user_id, meta_key)
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_updated ON tasks(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_notes_user_updated ON notes(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_links_user_updated ON links(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_inbox_user_updated ON inbox_items(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_plans_user_updated ON plans(user_id, updated_at);
`

// OpenStore opens the authority database at path, creating the schema on
// first use.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// EnsureUser registers userID if it is not known yet.
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)", userID, lww.Now())
	if err != nil {
		return fmt.Errorf("failed to register user %s: %w", userID, err)
	}
	return nil
}

// ApplyOps applies a pushed batch for one user and returns the op-ids that
// were received and evaluated, stale ones included. Ops with an unknown
// entity type are skipped and never acked; the client is expected to drop
// them on its side.
func (s *Store) ApplyOps(ctx context.Context, userID string, ops []model.Op) ([]string, error) {
	acked := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.OpID == "" || !model.SyncableEntityTypes[op.EntityType] {
			continue
		}
		row := decodePayload(op.Payload)
		stamp := opTimestamp(row)
		var err error
		if op.OpType == model.OpDelete {
			err = s.markDeleted(ctx, op.EntityType, userID, op.EntityID, stamp)
		} else {
			err = s.upsert(ctx, op.EntityType, userID, op.EntityID, row, stamp)
		}
		if err != nil {
			return acked, err
		}
		acked = append(acked, op.OpID)
	}
	return acked, nil
}

func decodePayload(payload json.RawMessage) model.Row {
	row := model.Row{}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &row)
	}
	return row
}

// opTimestamp resolves the conflict timestamp an op carries; a payload
// without one competes at server time.
func opTimestamp(row model.Row) string {
	for _, key := range []string{"updatedAt", "updated_at"} {
		if v, ok := row[key].(string); ok && v != "" {
			return v
		}
	}
	return lww.Now()
}

// notStale reports whether a write stamped opStamp may land on the row
// currently keyed by id in table. The stored row competes with the later
// of its update and delete stamps so a newer tombstone survives an older
// update arriving late.
func (s *Store) notStale(ctx context.Context, table, id, opStamp string) (bool, error) {
	var updated, deleted sql.NullString
	err := s.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT updated_at, deleted_at FROM %s WHERE id = ?", table), id).
		Scan(&updated, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s %s: %w", table, id, err)
	}
	current := updated.String
	if deleted.String > current {
		current = deleted.String
	}
	return lww.Accept(current, opStamp), nil
}

func (s *Store) upsert(ctx context.Context, entityType, userID, entityID string, row model.Row, stamp string) error {
	switch entityType {
	case model.EntityTask:
		return s.upsertTask(ctx, userID, model.NormalizeTask(row), stamp)
	case model.EntityNote:
		return s.upsertNote(ctx, userID, model.NormalizeNote(row), stamp)
	case model.EntityLink:
		return s.upsertLink(ctx, userID, model.NormalizeLink(row), stamp)
	case model.EntityInbox:
		return s.upsertInboxItem(ctx, userID, model.NormalizeInboxItem(row), stamp)
	case model.EntityPlan:
		return s.upsertPlan(ctx, userID, model.NormalizePlan(row), stamp)
	case model.EntityMeta:
		item := model.NormalizeMetaItem(row)
		if item.Key == "" {
			item.Key = entityID
		}
		return s.upsertMeta(ctx, userID, item, stamp)
	}
	return nil
}

func (s *Store) upsertTask(ctx context.Context, userID string, task model.Task, stamp string) error {
	if task.ID == "" {
		return nil
	}
	ok, err := s.notStale(ctx, "tasks", task.ID, stamp)
	if err != nil || !ok {
		return err
	}
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
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, title, time_start, time_end, status, day_key,
			recurrence, recurrence_parent_id, subtasks, linked_note_ids,
			time_spent, is_timer_running, last_timer_start, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		task.ID, userID, task.Title, task.TimeStart, task.TimeEnd, task.Status, task.DayKey,
		task.Recurrence, parentID, string(subtasks), string(noteIDs),
		task.TimeSpent, boolInt(task.IsTimerRunning), timerStart, stamp)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) upsertNote(ctx context.Context, userID string, note model.Note, stamp string) error {
	if note.ID == "" {
		return nil
	}
	ok, err := s.notStale(ctx, "notes", note.ID, stamp)
	if err != nil || !ok {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO notes (id, user_id, title, body, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			color = excluded.color,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		note.ID, userID, note.Title, note.Body, note.Color, note.CreatedAt, stamp)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", note.ID, err)
	}
	return nil
}

func (s *Store) upsertLink(ctx context.Context, userID string, link model.Link, stamp string) error {
	if link.TaskID == "" || link.NoteID == "" {
		return nil
	}
	id := link.Key()
	ok, err := s.notStale(ctx, "links", id, stamp)
	if err != nil || !ok {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO links (id, user_id, task_id, note_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			note_id = excluded.note_id,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		id, userID, link.TaskID, link.NoteID, stamp)
	if err != nil {
		return fmt.Errorf("failed to upsert link %s: %w", id, err)
	}
	return nil
}

func (s *Store) upsertInboxItem(ctx context.Context, userID string, item model.InboxItem, stamp string) error {
	if item.ID == "" {
		return nil
	}
	ok, err := s.notStale(ctx, "inbox_items", item.ID, stamp)
	if err != nil || !ok {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO inbox_items (id, user_id, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		item.ID, userID, item.Text, item.CreatedAt, stamp)
	if err != nil {
		return fmt.Errorf("failed to upsert inbox item %s: %w", item.ID, err)
	}
	return nil
}

func (s *Store) upsertPlan(ctx context.Context, userID string, plan model.Plan, stamp string) error {
	if plan.ID == "" {
		return nil
	}
	ok, err := s.notStale(ctx, "plans", plan.ID, stamp)
	if err != nil || !ok {
		return err
	}
	goals, err := json.Marshal(plan.Goals)
	if err != nil {
		return fmt.Errorf("failed to marshal goals for plan %s: %w", plan.ID, err)
	}
	blocks, err := json.Marshal(plan.Blocks)
	if err != nil {
		return fmt.Errorf("failed to marshal blocks for plan %s: %w", plan.ID, err)
	}
	phases, err := json.Marshal(plan.Phases)
	if err != nil {
		return fmt.Errorf("failed to marshal phases for plan %s: %w", plan.ID, err)
	}
	decisions, err := json.Marshal(plan.Decisions)
	if err != nil {
		return fmt.Errorf("failed to marshal decisions for plan %s: %w", plan.ID, err)
	}
	taskIDs, err := json.Marshal(plan.LinkedTaskIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal linked tasks for plan %s: %w", plan.ID, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO plans (id, user_id, title, subtitle, status, start_date, end_date,
			goals, blocks, phases, decisions, linked_task_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			subtitle = excluded.subtitle,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			goals = excluded.goals,
			blocks = excluded.blocks,
			phases = excluded.phases,
			decisions = excluded.decisions,
			linked_task_ids = excluded.linked_task_ids,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		plan.ID, userID, plan.Title, plan.Subtitle, plan.Status, plan.StartDate, plan.EndDate,
		string(goals), string(blocks), string(phases), string(decisions), string(taskIDs),
		plan.CreatedAt, stamp)
	if err != nil {
		return fmt.Errorf("failed to upsert plan %s: %w", plan.ID, err)
	}
	return nil
}

func (s *Store) upsertMeta(ctx context.Context, userID string, item model.MetaItem, stamp string) error {
	if item.Key == "" {
		return nil
	}
	var updated, deleted sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT updated_at, deleted_at FROM meta WHERE user_id = ? AND meta_key = ?",
		userID, item.Key).Scan(&updated, &deleted)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read meta %s: %w", item.Key, err)
	}
	current := updated.String
	if deleted.String > current {
		current = deleted.String
	}
	if !lww.Accept(current, stamp) {
		return nil
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO meta (user_id, meta_key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, meta_key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at,
			deleted_at = NULL`,
		userID, item.Key, item.Value, stamp)
	if err != nil {
		return fmt.Errorf("failed to upsert meta %s: %w", item.Key, err)
	}
	return nil
}

// markDeleted stamps a soft delete onto the entity unless the stored
// version is newer. A delete for an id the server has never seen still
// records a tombstone, so an older update arriving later cannot resurrect
// the entity.
func (s *Store) markDeleted(ctx context.Context, entityType, userID, entityID, stamp string) error {
	if entityType == model.EntityMeta {
		var updated, deleted sql.NullString
		err := s.conn.QueryRowContext(ctx,
			"SELECT updated_at, deleted_at FROM meta WHERE user_id = ? AND meta_key = ?",
			userID, entityID).Scan(&updated, &deleted)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read meta %s: %w", entityID, err)
		}
		current := updated.String
		if deleted.String > current {
			current = deleted.String
		}
		if !lww.Accept(current, stamp) {
			return nil
		}
		_, err = s.conn.ExecContext(ctx, `
			INSERT INTO meta (user_id, meta_key, value, updated_at, deleted_at)
			VALUES (?, ?, '', ?, ?)
			ON CONFLICT(user_id, meta_key) DO UPDATE SET
				updated_at = excluded.updated_at,
				deleted_at = excluded.deleted_at`,
			userID, entityID, stamp, stamp)
		if err != nil {
			return fmt.Errorf("failed to delete meta %s: %w", entityID, err)
		}
		return nil
	}

	table, ok := entityTables[entityType]
	if !ok {
		return nil
	}
	notStale, err := s.notStale(ctx, table, entityID, stamp)
	if err != nil || !notStale {
		return err
	}
	if table == "links" {
		taskID, noteID, found := strings.Cut(entityID, ":")
		if !found {
			return nil
		}
		_, err = s.conn.ExecContext(ctx, `
			INSERT INTO links (id, user_id, task_id, note_id, updated_at, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				updated_at = excluded.updated_at,
				deleted_at = excluded.deleted_at`,
			entityID, userID, taskID, noteID, stamp, stamp)
		if err != nil {
			return fmt.Errorf("failed to delete link %s: %w", entityID, err)
		}
		return nil
	}
	_, err = s.conn.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, updated_at, deleted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`, table),
		entityID, userID, stamp, stamp)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, entityID, err)
	}
	return nil
}

var entityTables = map[string]string{
	model.EntityTask:  "tasks",
	model.EntityNote:  "notes",
	model.EntityLink:  "links",
	model.EntityInbox: "inbox_items",
	model.EntityPlan:  "plans",
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
