package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"organiza/internal/lww"
	"organiza/internal/model"
)

// CreatePlan inserts a fresh active plan and enqueues its create op.
func (s *Store) CreatePlan(ctx context.Context, title string) (*model.Plan, error) {
	now := lww.Now()
	if title == "" {
		title = "Novo planejamento"
	}
	plan := &model.Plan{
		ID:            model.NewID("plan"),
		Title:         title,
		Status:        model.PlanActive,
		Goals:         []model.PlanGoal{},
		Blocks:        []model.PlanBlock{},
		Phases:        []model.PlanPhase{},
		Decisions:     []model.PlanDecision{},
		LinkedTaskIDs: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putPlanTx(tx, plan); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityPlan, plan.ID, model.OpCreate, plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// GetPlan loads one plan, or ErrNotFound.
func (s *Store) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	plans, err := s.queryPlans(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	return &plans[0], nil
}

// Plans returns every plan, most recently updated first.
func (s *Store) Plans(ctx context.Context) ([]model.Plan, error) {
	return s.queryPlans(ctx, "SELECT "+planColumns+" FROM plans ORDER BY updated_at DESC, id")
}

// PlanUpdate carries the mutable plan fields; nil fields are untouched.
type PlanUpdate struct {
	Title         *string
	Subtitle      *string
	Status        *string
	StartDate     *string
	EndDate       *string
	Goals         *[]model.PlanGoal
	Blocks        *[]model.PlanBlock
	Phases        *[]model.PlanPhase
	Decisions     *[]model.PlanDecision
	LinkedTaskIDs *[]string
}

// UpdatePlan merges upd into the stored plan and enqueues an update op.
func (s *Store) UpdatePlan(ctx context.Context, id string, upd PlanUpdate) (*model.Plan, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		plan.Title = *upd.Title
	}
	if upd.Subtitle != nil {
		plan.Subtitle = *upd.Subtitle
	}
	if upd.Status != nil {
		plan.Status = *upd.Status
	}
	if upd.StartDate != nil {
		plan.StartDate = *upd.StartDate
	}
	if upd.EndDate != nil {
		plan.EndDate = *upd.EndDate
	}
	if upd.Goals != nil {
		plan.Goals = *upd.Goals
	}
	if upd.Blocks != nil {
		plan.Blocks = *upd.Blocks
	}
	if upd.Phases != nil {
		plan.Phases = *upd.Phases
	}
	if upd.Decisions != nil {
		plan.Decisions = *upd.Decisions
	}
	if upd.LinkedTaskIDs != nil {
		plan.LinkedTaskIDs = *upd.LinkedTaskIDs
	}
	plan.UpdatedAt = lww.Now()

	err = s.mutate(ctx, func(tx *sql.Tx) error {
		if err := putPlanTx(tx, plan); err != nil {
			return err
		}
		return enqueueTx(tx, model.EntityPlan, plan.ID, model.OpUpdate, plan)
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// DeletePlan removes the plan and enqueues its delete op.
func (s *Store) DeletePlan(ctx context.Context, id string) error {
	now := lww.Now()
	return s.mutate(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM plans WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete plan %s: %w", id, err)
		}
		return enqueueTx(tx, model.EntityPlan, id, model.OpDelete, model.DeleteMarker{UpdatedAt: now})
	})
}

const planColumns = `id, title, subtitle, status, start_date, end_date,
	goals, blocks, phases, decisions, linked_task_ids, created_at, updated_at`

func putPlanTx(tx *sql.Tx, plan *model.Plan) error {
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
	_, err = tx.Exec(`
		INSERT INTO plans (id, title, subtitle, status, start_date, end_date,
			goals, blocks, phases, decisions, linked_task_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			updated_at = excluded.updated_at`,
		plan.ID, plan.Title, plan.Subtitle, plan.Status, plan.StartDate, plan.EndDate,
		string(goals), string(blocks), string(phases), string(decisions), string(taskIDs),
		plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store plan %s: %w", plan.ID, err)
	}
	return nil
}

func (s *Store) queryPlans(ctx context.Context, query string, args ...any) ([]model.Plan, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		var p model.Plan
		var goals, blocks, phases, decisions, taskIDs string
		if err := rows.Scan(&p.ID, &p.Title, &p.Subtitle, &p.Status, &p.StartDate, &p.EndDate,
			&goals, &blocks, &phases, &decisions, &taskIDs, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		if err := json.Unmarshal([]byte(goals), &p.Goals); err != nil {
			return nil, fmt.Errorf("failed to decode goals for plan %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(blocks), &p.Blocks); err != nil {
			return nil, fmt.Errorf("failed to decode blocks for plan %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(phases), &p.Phases); err != nil {
			return nil, fmt.Errorf("failed to decode phases for plan %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(decisions), &p.Decisions); err != nil {
			return nil, fmt.Errorf("failed to decode decisions for plan %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(taskIDs), &p.LinkedTaskIDs); err != nil {
			return nil, fmt.Errorf("failed to decode linked tasks for plan %s: %w", p.ID, err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}
