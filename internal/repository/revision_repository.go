package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-practice/internal/model"
)

// RevisionRepository tracks which questions a principal has already been
// shown per topic in revision mode.
type RevisionRepository struct {
	pool *pgxpool.Pool
}

// NewRevisionRepository creates a new RevisionRepository.
func NewRevisionRepository(pool *pgxpool.Pool) *RevisionRepository {
	return &RevisionRepository{pool: pool}
}

// ShownQuestionIDs returns the questions already shown under any of the topics.
func (r *RevisionRepository) ShownQuestionIDs(ctx context.Context, principalID int, topicIDs []int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT question_id FROM revision_records WHERE principal_id = $1 AND topic_id = ANY($2)`,
		principalID, topicIDs)
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

// Clear forgets the shown set of the topics so their questions cycle again.
func (r *RevisionRepository) Clear(ctx context.Context, principalID int, topicIDs []int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM revision_records WHERE principal_id = $1 AND topic_id = ANY($2)`,
		principalID, topicIDs)
	return err
}

// Upsert records a single exposure.
func (r *RevisionRepository) Upsert(ctx context.Context, rec model.RevisionRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO revision_records (principal_id, question_id, topic_id, shown_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (principal_id, question_id, topic_id) DO UPDATE SET shown_at = EXCLUDED.shown_at`,
		rec.PrincipalID, rec.QuestionID, rec.TopicID, rec.ShownAt)
	return err
}

// BulkUpsert records many exposures in one statement.
func (r *RevisionRepository) BulkUpsert(ctx context.Context, recs []model.RevisionRecord) error {
	if len(recs) == 0 {
		return nil
	}

	principals := make([]int32, len(recs))
	questions := make([]int64, len(recs))
	topics := make([]int64, len(recs))
	shownAt := make([]time.Time, len(recs))
	for i, rec := range recs {
		principals[i] = int32(rec.PrincipalID)
		questions[i] = rec.QuestionID
		topics[i] = rec.TopicID
		shownAt[i] = rec.ShownAt
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO revision_records (principal_id, question_id, topic_id, shown_at)
		 SELECT * FROM UNNEST($1::int[], $2::bigint[], $3::bigint[], $4::timestamptz[])
		 ON CONFLICT (principal_id, question_id, topic_id) DO UPDATE SET shown_at = EXCLUDED.shown_at`,
		principals, questions, topics, shownAt)
	return err
}
