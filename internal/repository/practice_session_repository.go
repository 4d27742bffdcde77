package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-practice/internal/model"
)

const sessionColumns = `id, principal_id, status, is_mock, started_at, last_activity_at, ended_at,
	deadline_at, settings, question_ids, total_attempted, correct_count, incorrect_count,
	skipped_count, marks_obtained, end_reason`

// PracticeSessionRepository handles practice session and pause interval data access.
type PracticeSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPracticeSessionRepository creates a new PracticeSessionRepository.
func NewPracticeSessionRepository(pool *pgxpool.Pool) *PracticeSessionRepository {
	return &PracticeSessionRepository{pool: pool}
}

// Create inserts a new session with its immutable snapshots.
func (r *PracticeSessionRepository) Create(ctx context.Context, s *model.PracticeSession) error {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO practice_sessions
		   (id, principal_id, status, is_mock, section_id, started_at, last_activity_at, deadline_at, settings, question_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.PrincipalID, s.Status, s.IsMock, sectionIDOf(s), s.StartedAt, s.LastActivityAt,
		s.DeadlineAt, settings, s.QuestionIDs,
	)
	return err
}

// GetByID retrieves a session by its UUID.
func (r *PracticeSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.PracticeSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM practice_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// FindResumableSection returns the latest paused or completed section-wise
// session of the principal for the section.
func (r *PracticeSessionRepository) FindResumableSection(ctx context.Context, principalID int, sectionID int64) (*model.PracticeSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM practice_sessions
		 WHERE principal_id = $1 AND section_id = $2 AND status IN ('paused', 'completed')
		 ORDER BY last_activity_at DESC
		 LIMIT 1`, principalID, sectionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ReplaceSnapshot reactivates a paused or completed session with a refreshed
// pool. The time since the session was last left is recorded as a closed
// pause: a paused session's open interval is closed at `at`, a completed
// session gets a new interval from its end time to `at`.
func (r *PracticeSessionRepository) ReplaceSnapshot(ctx context.Context, s *model.PracticeSession, from model.SessionStatus, at time.Time) error {
	settings, err := json.Marshal(s.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var endedAt *time.Time
		err := tx.QueryRow(ctx,
			`SELECT ended_at FROM practice_sessions WHERE id = $1 AND status = $2 FOR UPDATE`,
			s.ID, from,
		).Scan(&endedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStateChanged
		}
		if err != nil {
			return err
		}

		switch from {
		case model.SessionStatusPaused:
			if _, err := tx.Exec(ctx,
				`UPDATE session_pauses SET resumed_at = $2 WHERE session_id = $1 AND resumed_at IS NULL`,
				s.ID, at); err != nil {
				return err
			}
		case model.SessionStatusCompleted:
			gapStart := at
			if endedAt != nil {
				gapStart = *endedAt
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO session_pauses (session_id, paused_at, resumed_at) VALUES ($1, $2, $3)`,
				s.ID, gapStart, at); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE practice_sessions
			 SET status = 'active', settings = $2, question_ids = $3, last_activity_at = $4,
			     ended_at = NULL, total_attempted = NULL, correct_count = NULL,
			     incorrect_count = NULL, skipped_count = NULL, marks_obtained = NULL, end_reason = NULL
			 WHERE id = $1`,
			s.ID, settings, s.QuestionIDs, at)
		return err
	})
}

// Pause moves an active session to paused and opens a pause interval.
func (r *PracticeSessionRepository) Pause(ctx context.Context, id uuid.UUID, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE practice_sessions SET status = 'paused', last_activity_at = $2
			 WHERE id = $1 AND status = 'active'`, id, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStateChanged
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO session_pauses (session_id, paused_at) VALUES ($1, $2)`, id, at)
		if isUniqueViolation(err) {
			return ErrStateChanged
		}
		return err
	})
}

// Resume moves a paused session back to active and closes its open interval.
func (r *PracticeSessionRepository) Resume(ctx context.Context, id uuid.UUID, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE practice_sessions SET status = 'active', last_activity_at = $2
			 WHERE id = $1 AND status = 'paused'`, id, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStateChanged
		}

		_, err = tx.Exec(ctx,
			`UPDATE session_pauses SET resumed_at = $2 WHERE session_id = $1 AND resumed_at IS NULL`, id, at)
		return err
	})
}

// ListPauses returns all pause intervals of a session, oldest first.
func (r *PracticeSessionRepository) ListPauses(ctx context.Context, id uuid.UUID) ([]model.PauseInterval, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, paused_at, resumed_at
		 FROM session_pauses WHERE session_id = $1
		 ORDER BY paused_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pauses []model.PauseInterval
	for rows.Next() {
		var p model.PauseInterval
		if err := rows.Scan(&p.ID, &p.SessionID, &p.PausedAt, &p.ResumedAt); err != nil {
			return nil, err
		}
		pauses = append(pauses, p)
	}
	return pauses, rows.Err()
}

// Touch records activity on a session.
func (r *PracticeSessionRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE practice_sessions SET last_activity_at = $2 WHERE id = $1 AND status <> 'completed'`, id, at)
	return err
}

// Complete seals an active or paused session with its aggregated result.
// Any open pause is closed at the end time.
func (r *PracticeSessionRepository) Complete(ctx context.Context, id uuid.UUID, res model.SessionResult, endedAt time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE practice_sessions
			 SET status = 'completed', ended_at = $2, last_activity_at = $2,
			     total_attempted = $3, correct_count = $4, incorrect_count = $5,
			     skipped_count = $6, marks_obtained = $7, end_reason = $8
			 WHERE id = $1 AND status IN ('active', 'paused')`,
			id, endedAt, res.TotalAttempted, res.CorrectCount, res.IncorrectCount,
			res.SkippedCount, res.MarksObtained, res.EndReason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStateChanged
		}

		_, err = tx.Exec(ctx,
			`UPDATE session_pauses SET resumed_at = $2 WHERE session_id = $1 AND resumed_at IS NULL`, id, endedAt)
		return err
	})
}

// Delete discards a session that was never completed. Pauses and attempts
// cascade.
func (r *PracticeSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM practice_sessions WHERE id = $1 AND status <> 'completed'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

func scanSession(row pgx.Row) (*model.PracticeSession, error) {
	var (
		s         model.PracticeSession
		settings  []byte
		total     *int
		correct   *int
		incorrect *int
		skipped   *int
		marks     *float64
		endReason *string
	)
	if err := row.Scan(&s.ID, &s.PrincipalID, &s.Status, &s.IsMock, &s.StartedAt, &s.LastActivityAt,
		&s.EndedAt, &s.DeadlineAt, &settings, &s.QuestionIDs, &total, &correct, &incorrect,
		&skipped, &marks, &endReason); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settings, &s.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if total != nil {
		s.Result = &model.SessionResult{
			TotalAttempted: *total,
			CorrectCount:   deref(correct),
			IncorrectCount: deref(incorrect),
			SkippedCount:   deref(skipped),
			MarksObtained:  marks,
		}
		if endReason != nil {
			s.Result.EndReason = model.EndReason(*endReason)
		}
	}
	return &s, nil
}

func sectionIDOf(s *model.PracticeSession) *int64 {
	if sec := s.Settings.Section(); sec != nil {
		return &sec.SectionID
	}
	return nil
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
