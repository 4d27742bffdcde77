package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-practice/internal/model"
)

// EntitlementRepository handles entitlement grant data access.
type EntitlementRepository struct {
	pool *pgxpool.Pool
}

// NewEntitlementRepository creates a new EntitlementRepository.
func NewEntitlementRepository(pool *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{pool: pool}
}

// ListByPrincipal returns every grant of a principal, unlimited grants first,
// then by soonest expiry.
func (r *EntitlementRepository) ListByPrincipal(ctx context.Context, principalID int) ([]model.EntitlementGrant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, principal_id, status, remaining_attempts, expires_at
		 FROM entitlement_grants
		 WHERE principal_id = $1
		 ORDER BY (remaining_attempts IS NULL) DESC, expires_at ASC NULLS LAST, id ASC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []model.EntitlementGrant
	for rows.Next() {
		var g model.EntitlementGrant
		if err := rows.Scan(&g.ID, &g.PrincipalID, &g.Status, &g.RemainingAttempts, &g.ExpiresAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Decrement consumes one attempt from a limited, active, unexpired grant and
// returns the remaining count. A grant that no longer qualifies yields
// ErrStateChanged so the caller can re-evaluate.
func (r *EntitlementRepository) Decrement(ctx context.Context, grantID int64, principalID int) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx,
		`UPDATE entitlement_grants
		 SET remaining_attempts = remaining_attempts - 1
		 WHERE id = $1 AND principal_id = $2 AND status = 'active'
		   AND remaining_attempts > 0
		   AND (expires_at IS NULL OR expires_at > NOW())
		 RETURNING remaining_attempts`, grantID, principalID,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrStateChanged
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Increment gives back one attempt on a limited grant.
func (r *EntitlementRepository) Increment(ctx context.Context, grantID int64, principalID int) (int, error) {
	var remaining int
	err := r.pool.QueryRow(ctx,
		`UPDATE entitlement_grants
		 SET remaining_attempts = remaining_attempts + 1
		 WHERE id = $1 AND principal_id = $2 AND remaining_attempts IS NOT NULL
		 RETURNING remaining_attempts`, grantID, principalID,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}
