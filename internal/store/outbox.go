package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// enqueueTx appends one pending op to the outbox inside the caller's
// transaction. Payload is serialized as the full entity snapshot. Ops for
// entity types outside the syncable set are silently ignored.
func enqueueTx(tx *sql.Tx, entityType, entityID, opType string, payload any) error {
	if !model.SyncableEntityTypes[entityType] {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal op payload for %s %s: %w", entityType, entityID, err)
	}
	_, err = tx.Exec(`
		INSERT INTO ops_queue (op_id, entity_type, entity_id, op_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), entityType, entityID, opType, string(raw), model.OpPending, lww.Now())
	if err != nil {
		return fmt.Errorf("failed to enqueue op for %s %s: %w", entityType, entityID, err)
	}
	return nil
}

// Enqueue appends a standalone pending op outside an entity mutation. Used
// by the plan bootstrap; normal entity writes go through the transactional
// mutation helpers instead.
func (s *Store) Enqueue(ctx context.Context, entityType, entityID, opType string, payload any) error {
	return s.mutate(ctx, func(tx *sql.Tx) error {
		return enqueueTx(tx, entityType, entityID, opType, payload)
	})
}

// PendingOps returns every pending outbox entry in enqueue order.
func (s *Store) PendingOps(ctx context.Context) ([]model.QueuedOp, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT op_id, entity_type, entity_id, op_type, payload, status, created_at
		FROM ops_queue WHERE status = ? ORDER BY created_at ASC, op_id ASC`, model.OpPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending ops: %w", err)
	}
	defer rows.Close()

	var ops []model.QueuedOp
	for rows.Next() {
		var op model.QueuedOp
		var payload string
		if err := rows.Scan(&op.OpID, &op.EntityType, &op.EntityID, &op.OpType, &payload, &op.Status, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan op: %w", err)
		}
		op.Payload = json.RawMessage(payload)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ops: %w", err)
	}
	return ops, nil
}

// DeleteOps removes the given op-ids from the outbox. Called with the
// acked set after a successful push, and with unsupported op-ids before
// transmission.
func (s *Store) DeleteOps(ctx context.Context, opIDs []string) error {
	if len(opIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opIDs)), ",")
	args := make([]any, len(opIDs))
	for i, id := range opIDs {
		args[i] = id
	}
	_, err := s.conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM ops_queue WHERE op_id IN (%s)", placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to delete ops: %w", err)
	}
	return nil
}

// OutboxStats summarizes the queue for status reporting.
type OutboxStats struct {
	Pending       int
	OldestPending string
}

// OutboxStats returns the pending depth and the enqueue time of the oldest
// pending op. There is no dead-letter state; an op the server never acks
// stays pending forever, and this is how that shows up.
func (s *Store) OutboxStats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(created_at), '')
		FROM ops_queue WHERE status = ?`, model.OpPending).
		Scan(&stats.Pending, &stats.OldestPending)
	if err != nil {
		return stats, fmt.Errorf("failed to read outbox stats: %w", err)
	}
	return stats, nil
}

// BootstrapPlans backfills a create op for every plan that predates sync
// wiring, exactly once per database, guarded by the plansSyncBootstrapped
// meta flag. Plans that already have a pending op are skipped.
func (s *Store) BootstrapPlans(ctx context.Context) error {
	done, err := s.GetMeta(ctx, model.MetaPlansBootstrapped)
	if err != nil {
		return err
	}
	if done == "true" {
		return nil
	}

	plans, err := s.Plans(ctx)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		return s.SetMeta(ctx, model.MetaPlansBootstrapped, "true", "")
	}

	pending, err := s.PendingOps(ctx)
	if err != nil {
		return err
	}
	pendingPlanIDs := make(map[string]bool)
	for _, op := range pending {
		if op.EntityType == model.EntityPlan {
			pendingPlanIDs[op.EntityID] = true
		}
	}

	err = s.mutate(ctx, func(tx *sql.Tx) error {
		for _, plan := range plans {
			if pendingPlanIDs[plan.ID] {
				continue
			}
			if err := enqueueTx(tx, model.EntityPlan, plan.ID, model.OpCreate, plan); err != nil {
				return err
			}
		}
		return setMetaTx(tx, model.MetaPlansBootstrapped, "true", "")
	})
	return err
}
