package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-practice/internal/model"
)

const candidateSelect = `SELECT q.id, q.group_id, g.topic_id, g.section_seq,
	q.status = 'published',
	EXISTS (SELECT 1 FROM question_reports r WHERE r.question_id = q.id AND r.status = 'open')
	FROM questions q
	JOIN question_groups g ON g.id = q.group_id`

// QuestionRepository is the read-only question catalog used by the selector
// and the answer key cache.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// Candidates returns published questions matching the pool query, ordered by
// section sequence (when filtering by section) or id.
func (r *QuestionRepository) Candidates(ctx context.Context, q model.PoolQuery) ([]model.Candidate, error) {
	query := candidateSelect + ` WHERE q.status = 'published'`
	var args []interface{}

	if q.TopicIDs != nil {
		args = append(args, q.TopicIDs)
		query += fmt.Sprintf(" AND g.topic_id = ANY($%d)", len(args))
	}
	if q.PreviousYearOnly {
		query += " AND g.previous_year"
	}
	if q.SectionID != nil {
		args = append(args, *q.SectionID)
		query += fmt.Sprintf(" AND g.section_id = $%d", len(args))
	}
	if q.ExcludeAnsweredBy != nil {
		args = append(args, *q.ExcludeAnsweredBy)
		query += fmt.Sprintf(` AND NOT EXISTS (
			SELECT 1 FROM practice_attempts a
			JOIN practice_sessions s ON s.id = a.session_id
			WHERE a.question_id = q.id AND a.status = 'answered' AND s.principal_id = $%d)`, len(args))
	}

	if q.SectionID != nil {
		query += " ORDER BY g.section_seq ASC NULLS LAST, q.id ASC"
	} else {
		query += " ORDER BY q.id ASC"
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

// EverIncorrect returns every question the principal has answered
// incorrectly in any session.
func (r *QuestionRepository) EverIncorrect(ctx context.Context, principalID int) ([]model.Candidate, error) {
	rows, err := r.pool.Query(ctx, candidateSelect+`
		WHERE q.id IN (
			SELECT a.question_id FROM practice_attempts a
			JOIN practice_sessions s ON s.id = a.session_id
			WHERE s.principal_id = $1 AND a.correct = FALSE)
		ORDER BY q.id`, principalID)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

// NeverCorrect returns questions the principal has answered (graded) at least
// once without ever answering correctly.
func (r *QuestionRepository) NeverCorrect(ctx context.Context, principalID int) ([]model.Candidate, error) {
	rows, err := r.pool.Query(ctx, candidateSelect+`
		WHERE q.id IN (
			SELECT a.question_id FROM practice_attempts a
			JOIN practice_sessions s ON s.id = a.session_id
			WHERE s.principal_id = $1 AND a.correct IS NOT NULL
			GROUP BY a.question_id
			HAVING NOT BOOL_OR(a.correct))
		ORDER BY q.id`, principalID)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

// ReviewLater returns the principal's saved review queue in insertion order.
func (r *QuestionRepository) ReviewLater(ctx context.Context, principalID int) ([]model.Candidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT q.id, q.group_id, g.topic_id, g.section_seq,
		q.status = 'published',
		EXISTS (SELECT 1 FROM question_reports r WHERE r.question_id = q.id AND r.status = 'open')
		FROM review_later_items rl
		JOIN questions q ON q.id = rl.question_id
		JOIN question_groups g ON g.id = q.group_id
		WHERE rl.principal_id = $1
		ORDER BY rl.added_at ASC, rl.id ASC`, principalID)
	if err != nil {
		return nil, err
	}
	return collectCandidates(rows)
}

// CorrectOptions returns the marked-correct option of each question.
// Questions without a correct option are absent from the map.
func (r *QuestionRepository) CorrectOptions(ctx context.Context, questionIDs []int64) (map[int64]int64, error) {
	keys := make(map[int64]int64, len(questionIDs))
	if len(questionIDs) == 0 {
		return keys, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, id FROM question_options WHERE question_id = ANY($1) AND is_correct`,
		questionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var qid, oid int64
		if err := rows.Scan(&qid, &oid); err != nil {
			return nil, err
		}
		keys[qid] = oid
	}
	return keys, rows.Err()
}

// TopicOf returns the topic owning the question's group.
func (r *QuestionRepository) TopicOf(ctx context.Context, questionID int64) (int64, error) {
	var topicID int64
	err := r.pool.QueryRow(ctx,
		`SELECT g.topic_id FROM questions q JOIN question_groups g ON g.id = q.group_id WHERE q.id = $1`,
		questionID,
	).Scan(&topicID)
	if err != nil {
		return 0, notFound(err)
	}
	return topicID, nil
}

func collectCandidates(rows pgx.Rows) ([]model.Candidate, error) {
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ID, &c.GroupID, &c.TopicID, &c.SectionSeq, &c.Published, &c.Reported); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
