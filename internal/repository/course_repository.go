package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CourseRepository answers course access questions from enrollments.
type CourseRepository struct {
	pool *pgxpool.Pool
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(pool *pgxpool.Pool) *CourseRepository {
	return &CourseRepository{pool: pool}
}

// CanAccessCourse reports whether the principal holds a live enrollment.
func (r *CourseRepository) CanAccessCourse(ctx context.Context, principalID int, courseID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM course_enrollments
			WHERE principal_id = $1 AND course_id = $2
			  AND (expires_at IS NULL OR expires_at > NOW()))`,
		principalID, courseID,
	).Scan(&ok)
	return ok, err
}
