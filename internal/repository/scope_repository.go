package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-practice/internal/model"
)

// ScopeRepository reads principal subject allow-lists.
type ScopeRepository struct {
	pool *pgxpool.Pool
}

// NewScopeRepository creates a new ScopeRepository.
func NewScopeRepository(pool *pgxpool.Pool) *ScopeRepository {
	return &ScopeRepository{pool: pool}
}

// ScopeOf returns the principal's allow-list. A principal without rows is
// unrestricted.
func (r *ScopeRepository) ScopeOf(ctx context.Context, principalID int) (model.Scope, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT subject_id FROM principal_scopes WHERE principal_id = $1 ORDER BY subject_id`, principalID)
	if err != nil {
		return model.Scope{}, err
	}
	defer rows.Close()

	var subjects []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return model.Scope{}, err
		}
		subjects = append(subjects, id)
	}
	if err := rows.Err(); err != nil {
		return model.Scope{}, err
	}

	if len(subjects) == 0 {
		return model.Scope{Unrestricted: true}, nil
	}
	return model.Scope{SubjectIDs: subjects}, nil
}
