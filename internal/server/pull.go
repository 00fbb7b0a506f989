package server

import (
	"context"
	"fmt"
	"strings"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// Delta returns every row for userID touched since cursor, one array per
// table in snake_case, plus the next cursor (server time). Tombstoned rows
// are included with deleted_at set so clients can drop them.
//
// Cursors have millisecond precision and the filter is a strict
// greater-than, so a row stamped in the same millisecond the cursor is
// minted stays invisible to holders of that cursor until its next write.
func (s *Store) Delta(ctx context.Context, userID, cursor string) (*model.PullResponse, error) {
	if cursor == "" {
		cursor = lww.Epoch
	}

	resp := &model.PullResponse{NewCursor: lww.Now()}
	var err error

	if resp.Tasks, err = s.deltaRows(ctx, "tasks", taskRowColumns, userID, cursor); err != nil {
		return nil, err
	}
	if resp.Notes, err = s.deltaRows(ctx, "notes", noteRowColumns, userID, cursor); err != nil {
		return nil, err
	}
	if resp.Links, err = s.deltaRows(ctx, "links", linkRowColumns, userID, cursor); err != nil {
		return nil, err
	}
	if resp.InboxItems, err = s.deltaRows(ctx, "inbox_items", inboxRowColumns, userID, cursor); err != nil {
		return nil, err
	}
	if resp.Plans, err = s.deltaRows(ctx, "plans", planRowColumns, userID, cursor); err != nil {
		return nil, err
	}
	if resp.Meta, err = s.deltaRows(ctx, "meta", metaRowColumns, userID, cursor); err != nil {
		return nil, err
	}
	return resp, nil
}

var (
	taskRowColumns = []string{"id", "title", "time_start", "time_end", "status", "day_key",
		"recurrence", "recurrence_parent_id", "subtasks", "linked_note_ids",
		"time_spent", "is_timer_running", "last_timer_start", "updated_at", "deleted_at"}
	noteRowColumns  = []string{"id", "title", "body", "color", "created_at", "updated_at", "deleted_at"}
	linkRowColumns  = []string{"task_id", "note_id", "updated_at", "deleted_at"}
	inboxRowColumns = []string{"id", "text", "created_at", "updated_at", "deleted_at"}
	planRowColumns  = []string{"id", "title", "subtitle", "status", "start_date", "end_date",
		"goals", "blocks", "phases", "decisions", "linked_task_ids",
		"created_at", "updated_at", "deleted_at"}
	metaRowColumns = []string{"meta_key", "value", "updated_at", "deleted_at"}
)

// deltaRows runs the per-table cursor query and shapes each result row as
// a generic column map, which marshals as snake_case JSON.
func (s *Store) deltaRows(ctx context.Context, table string, columns []string, userID, cursor string) ([]model.Row, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE user_id = ? AND (updated_at > ? OR deleted_at > ?)",
		strings.Join(columns, ", "), table)
	rows, err := s.conn.QueryContext(ctx, query, userID, cursor, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s delta: %w", table, err)
	}
	defer rows.Close()

	out := []model.Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan %s delta row: %w", table, err)
		}
		row := make(model.Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s delta: %w", table, err)
	}
	return out, nil
}

// normalizeValue flattens driver scan values into JSON-friendly types;
// NULLs are dropped to nil so omitted fields stay omitted on the wire.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}
