package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-practice/internal/model"
)

// AttemptRepository handles per-question attempt rows.
// There is at most one row per (session, question).
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Upsert inserts or overwrites the attempt for its (session, question) pair.
// A nil mock status keeps the existing palette state.
func (r *AttemptRepository) Upsert(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO practice_attempts
		   (session_id, question_id, selected_option_id, correct, status, mock_status, remaining_seconds, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (session_id, question_id) DO UPDATE SET
		   selected_option_id = EXCLUDED.selected_option_id,
		   correct            = EXCLUDED.correct,
		   status             = EXCLUDED.status,
		   mock_status        = COALESCE(EXCLUDED.mock_status, practice_attempts.mock_status),
		   remaining_seconds  = EXCLUDED.remaining_seconds,
		   recorded_at        = EXCLUDED.recorded_at`,
		a.SessionID, a.QuestionID, a.SelectedOptionID, a.Correct, a.Status, a.MockStatus,
		a.RemainingSeconds, a.RecordedAt,
	)
	return err
}

// SetMockStatus changes only the palette state, creating a viewed row when
// the question has no attempt yet.
func (r *AttemptRepository) SetMockStatus(ctx context.Context, a *model.Attempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO practice_attempts (session_id, question_id, status, mock_status, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, question_id) DO UPDATE SET
		   mock_status = EXCLUDED.mock_status,
		   recorded_at = EXCLUDED.recorded_at`,
		a.SessionID, a.QuestionID, a.Status, a.MockStatus, a.RecordedAt,
	)
	return err
}

// Get retrieves the attempt for a question of a session.
func (r *AttemptRepository) Get(ctx context.Context, sessionID uuid.UUID, questionID int64) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, question_id, selected_option_id, correct, status, mock_status, remaining_seconds, recorded_at
		 FROM practice_attempts
		 WHERE session_id = $1 AND question_id = $2`, sessionID, questionID,
	).Scan(&a.SessionID, &a.QuestionID, &a.SelectedOptionID, &a.Correct, &a.Status, &a.MockStatus,
		&a.RemainingSeconds, &a.RecordedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListBySession returns every attempt row of a session.
func (r *AttemptRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, selected_option_id, correct, status, mock_status, remaining_seconds, recorded_at
		 FROM practice_attempts
		 WHERE session_id = $1
		 ORDER BY recorded_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.SelectedOptionID, &a.Correct, &a.Status,
			&a.MockStatus, &a.RemainingSeconds, &a.RecordedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// SetCorrectness grades many attempts of one session in a single round trip.
func (r *AttemptRepository) SetCorrectness(ctx context.Context, sessionID uuid.UUID, grades map[int64]bool) error {
	if len(grades) == 0 {
		return nil
	}

	questionIDs := make([]int64, 0, len(grades))
	correct := make([]bool, 0, len(grades))
	for qid, ok := range grades {
		questionIDs = append(questionIDs, qid)
		correct = append(correct, ok)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE practice_attempts AS a
		 SET correct = u.correct
		 FROM UNNEST($2::bigint[], $3::boolean[]) AS u(question_id, correct)
		 WHERE a.session_id = $1 AND a.question_id = u.question_id`,
		sessionID, questionIDs, correct)
	return err
}
