package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tryliate/byoi/domain"
)

// SagaMarkerRepository persists the last completed step of the credential
// persistence saga per user, so a resumed operation skips writes that already
// applied.
type SagaMarkerRepository struct {
	db *sqlx.DB
}

// NewSagaMarkerRepository creates the repository over an open database handle.
func NewSagaMarkerRepository(db *sqlx.DB) *SagaMarkerRepository {
	return &SagaMarkerRepository{db: db}
}

// MarkCompleted records a completed step. Idempotent.
func (r *SagaMarkerRepository) MarkCompleted(ctx context.Context, userID string, step domain.SagaStep) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vault_saga_markers (user_id, step) VALUES ($1, $2)
		 ON CONFLICT (user_id, step) DO UPDATE SET completed_at = now()`,
		userID, string(step))
	if err != nil {
		return fmt.Errorf("mark saga step %s: %w", step, err)
	}
	return nil
}

// Completed reports whether a step already ran for this user.
func (r *SagaMarkerRepository) Completed(ctx context.Context, userID string, step domain.SagaStep) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT count(*) FROM vault_saga_markers WHERE user_id = $1 AND step = $2`,
		userID, string(step))
	if err != nil {
		return false, fmt.Errorf("check saga step %s: %w", step, err)
	}
	return count > 0, nil
}

// Clear removes all markers for a user, starting the next connect from a
// clean slate.
func (r *SagaMarkerRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM vault_saga_markers WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear saga markers: %w", err)
	}
	return nil
}

var _ domain.SagaMarkerRepository = (*SagaMarkerRepository)(nil)
