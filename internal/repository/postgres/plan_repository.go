package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/domain"
)

// PlanRepository stores plan records in PostgreSQL.
type PlanRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPlanRepository creates a new PostgreSQL plan repository.
func NewPlanRepository(db *DB, logger *zap.Logger) *PlanRepository {
	return &PlanRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "plan")),
	}
}

const planColumns = `id, priority, reason, outcome, objective, duration, actions, substitutions,
	status, created_at, approved_at, applied_at, applied_by`

// Create stores a new plan record.
func (r *PlanRepository) Create(ctx context.Context, rec *domain.PlanRecord) (*domain.PlanRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	actionsJSON, err := json.Marshal(rec.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	substitutionsJSON, err := json.Marshal(rec.Substitutions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal substitutions: %w", err)
	}

	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.pool.Exec(ctx, query,
		rec.ID,
		string(rec.Priority),
		rec.Reason,
		rec.Outcome,
		rec.Objective,
		rec.Duration,
		actionsJSON,
		substitutionsJSON,
		string(rec.Status),
		rec.CreatedAt,
		rec.ApprovedAt,
		rec.AppliedAt,
		rec.AppliedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create plan", zap.Error(err), zap.String("id", rec.ID))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert plan: %w", err)
	}

	r.logger.Info("Created plan",
		zap.String("id", rec.ID),
		zap.String("priority", string(rec.Priority)),
		zap.Int("actions", len(rec.Actions)),
	)
	return rec, nil
}

// Get retrieves a plan record by ID.
func (r *PlanRepository) Get(ctx context.Context, id string) (*domain.PlanRecord, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	rec, err := scanPlan(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return rec, nil
}

// List returns the records with the given status, newest first. An empty status matches
// every record and a non-positive limit returns them all.
func (r *PlanRepository) List(ctx context.Context, status domain.PlanStatus, limit int) ([]*domain.PlanRecord, error) {
	query := `
		SELECT ` + planColumns + ` FROM plans
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id
	`
	args := []interface{}{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []*domain.PlanRecord
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Update saves the workflow fields of a plan record.
func (r *PlanRepository) Update(ctx context.Context, rec *domain.PlanRecord) (*domain.PlanRecord, error) {
	query := `
		UPDATE plans
		SET status = $2, approved_at = $3, applied_at = $4, applied_by = $5
		WHERE id = $1
	`

	result, err := r.db.pool.Exec(ctx, query,
		rec.ID,
		string(rec.Status),
		rec.ApprovedAt,
		rec.AppliedAt,
		rec.AppliedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// DeleteOld removes the applied and rejected records created before olderThan.
func (r *PlanRepository) DeleteOld(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		DELETE FROM plans
		WHERE created_at < $1 AND status IN ('APPLIED', 'REJECTED')
	`

	result, err := r.db.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old plans: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func scanPlan(row pgx.Row) (*domain.PlanRecord, error) {
	rec := &domain.PlanRecord{}
	var priority, status string
	var actionsJSON, substitutionsJSON []byte

	err := row.Scan(
		&rec.ID,
		&priority,
		&rec.Reason,
		&rec.Outcome,
		&rec.Objective,
		&rec.Duration,
		&actionsJSON,
		&substitutionsJSON,
		&status,
		&rec.CreatedAt,
		&rec.ApprovedAt,
		&rec.AppliedAt,
		&rec.AppliedBy,
	)
	if err != nil {
		return nil, err
	}

	rec.Priority = domain.PlanPriority(priority)
	rec.Status = domain.PlanStatus(status)
	if err := unmarshalJSON(actionsJSON, &rec.Actions); err != nil {
		return nil, fmt.Errorf("plan %s actions: %w", rec.ID, err)
	}
	if err := unmarshalJSON(substitutionsJSON, &rec.Substitutions); err != nil {
		return nil, fmt.Errorf("plan %s substitutions: %w", rec.ID, err)
	}
	return rec, nil
}
