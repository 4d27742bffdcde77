package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/config"
	"github.com/stemsi/exstem-practice/internal/model"
)

// RevisionWriter stores one revision exposure synchronously.
type RevisionWriter interface {
	Upsert(ctx context.Context, rec model.RevisionRecord) error
}

// RevisionQueue publishes revision exposures for the revision worker.
// When Redis rejects the push the record is written directly instead.
type RevisionQueue struct {
	rdb      *redis.Client
	fallback RevisionWriter
	log      zerolog.Logger
}

// NewRevisionQueue creates a new RevisionQueue.
func NewRevisionQueue(rdb *redis.Client, fallback RevisionWriter, log zerolog.Logger) *RevisionQueue {
	return &RevisionQueue{
		rdb:      rdb,
		fallback: fallback,
		log:      log.With().Str("component", "revision_queue").Logger(),
	}
}

// MarkShown enqueues an exposure record.
func (q *RevisionQueue) MarkShown(ctx context.Context, rec model.RevisionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pushErr := q.rdb.RPush(ctx, config.WorkerKey.PersistRevisionQueue, raw).Err()
	if pushErr == nil {
		return nil
	}

	q.log.Warn().Err(pushErr).
		Int("principal_id", rec.PrincipalID).
		Int64("question_id", rec.QuestionID).
		Msg("revision enqueue failed, writing directly")
	if err := q.fallback.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("enqueue revision record: %w (direct write: %v)", pushErr, err)
	}
	return nil
}
