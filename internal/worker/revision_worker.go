package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/config"
	"github.com/stemsi/exstem-practice/internal/model"
)

const (
	RevisionBatchSize    = 50
	RevisionBatchTimeout = 2 * time.Second
	RevisionPollTimeout  = 1 * time.Second
)

// RevisionStore persists revision exposure records.
type RevisionStore interface {
	BulkUpsert(ctx context.Context, recs []model.RevisionRecord) error
	Upsert(ctx context.Context, rec model.RevisionRecord) error
}

// RevisionWorker drains persist_revision_queue into revision_records.
type RevisionWorker struct {
	store RevisionStore
	rdb   *redis.Client
	log   zerolog.Logger
}

func NewRevisionWorker(store RevisionStore, rdb *redis.Client, log zerolog.Logger) *RevisionWorker {
	return &RevisionWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "revision_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *RevisionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("RevisionWorker started")

	batch := make([]model.RevisionRecord, 0, RevisionBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= RevisionBatchSize || time.Since(lastFlush) >= RevisionBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, RevisionPollTimeout, config.WorkerKey.PersistRevisionQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var rec model.RevisionRecord
			if err := json.Unmarshal([]byte(item[1]), &rec); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, rec)
		}
	}
}

// ----------------------------------------------------------------
// Batch upsert with single-row fallback
// ----------------------------------------------------------------

func (w *RevisionWorker) flushSafe(ctx context.Context, batch []model.RevisionRecord) {
	if len(batch) == 0 {
		return
	}

	recs := dedupeRevisions(batch)
	if err := w.store.BulkUpsert(ctx, recs); err != nil {
		w.log.Warn().Err(err).Int("count", len(recs)).Msg("bulk revision upsert failed, using fallback")

		for _, rec := range recs {
			if err := w.store.Upsert(ctx, rec); err != nil {
				w.log.Error().Err(err).
					Int("principal_id", rec.PrincipalID).
					Int64("question_id", rec.QuestionID).
					Msg("single revision upsert failed, requeueing")
				raw, _ := json.Marshal(rec)
				if err := w.rdb.RPush(ctx, config.WorkerKey.PersistRevisionQueue, raw).Err(); err != nil {
					w.log.Error().Err(err).Int64("question_id", rec.QuestionID).Msg("requeue failed, revision record dropped")
				}
			}
		}
		return
	}

	w.log.Debug().Int("count", len(recs)).Msg("revision batch persisted")
}

// dedupeRevisions keeps the latest exposure per (principal, question, topic).
// A single upsert statement may not touch the same row twice.
func dedupeRevisions(batch []model.RevisionRecord) []model.RevisionRecord {
	type key struct {
		principal int
		question  int64
		topic     int64
	}

	idx := make(map[key]int, len(batch))
	out := make([]model.RevisionRecord, 0, len(batch))
	for _, rec := range batch {
		k := key{rec.PrincipalID, rec.QuestionID, rec.TopicID}
		if i, ok := idx[k]; ok {
			if rec.ShownAt.After(out[i].ShownAt) {
				out[i] = rec
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, rec)
	}
	return out
}
