// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/randomparity/vpo-sub005/internal/plan"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

// PlanRecord is one persisted plan with its review status.
type PlanRecord struct {
	ID         string              `json:"id"`
	FilePath   string              `json:"file_path"`
	PolicyName string              `json:"policy_name"`
	Status     vpotypes.PlanStatus `json:"status"`
	Plan       *plan.Plan          `json:"plan"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// SavePlan persists a freshly evaluated plan in pending state and
// returns its id.
func (s *Store) SavePlan(ctx context.Context, policyName string, p *plan.Plan) (string, error) {
	data, err := p.Marshal()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := nowUTC()
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO plans (id, file_path, policy_name, status, plan_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, p.Path, policyName, string(vpotypes.PlanStatusPending), string(data), now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetPlan loads one plan by id, or nil when absent.
func (s *Store) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	var (
		rec                  PlanRecord
		status, jsonBlob     string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT id, file_path, policy_name, status, plan_json, created_at, updated_at
	FROM plans WHERE id = ?
	`, id).Scan(&rec.ID, &rec.FilePath, &rec.PolicyName, &status, &jsonBlob, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Status = vpotypes.PlanStatus(status)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.Plan, err = plan.Unmarshal([]byte(jsonBlob))
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", id, err)
	}
	return &rec, nil
}

// LatestPlanForFile returns the most recent plan for a path, or nil.
func (s *Store) LatestPlanForFile(ctx context.Context, path string) (*PlanRecord, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
	SELECT id FROM plans WHERE file_path = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetPlan(ctx, id)
}

// TransitionPlan moves a plan to a new status, enforcing the legal
// transition graph with a compare-and-swap on the current status.
func (s *Store) TransitionPlan(ctx context.Context, id string, from, to vpotypes.PlanStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("plan %s: illegal transition %s -> %s", id, from, to)
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE plans SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(to), nowUTC(), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("plan %s: not in %s state", id, from)
	}
	return nil
}
