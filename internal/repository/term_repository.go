package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-practice/internal/model"
)

// TermRepository reads the taxonomy hierarchy.
type TermRepository struct {
	pool *pgxpool.Pool
}

// NewTermRepository creates a new TermRepository.
func NewTermRepository(pool *pgxpool.Pool) *TermRepository {
	return &TermRepository{pool: pool}
}

// GetByID retrieves a single term.
func (r *TermRepository) GetByID(ctx context.Context, id int64) (*model.Term, error) {
	t := &model.Term{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, taxonomy, parent_id, name FROM terms WHERE id = $1`, id,
	).Scan(&t.ID, &t.Taxonomy, &t.ParentID, &t.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// ChildrenOf returns the direct children ids of each given parent.
func (r *TermRepository) ChildrenOf(ctx context.Context, parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM terms WHERE parent_id = ANY($1) ORDER BY id`, parentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
