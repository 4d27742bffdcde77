package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/config"
)

// AnswerKeySource loads correct options from the catalog.
type AnswerKeySource interface {
	CorrectOptions(ctx context.Context, questionIDs []int64) (map[int64]int64, error)
}

// AnswerKeyCache serves the correct option of questions from a Redis hash,
// falling back to the catalog and healing the cache on a miss.
type AnswerKeyCache struct {
	source AnswerKeySource
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewAnswerKeyCache creates a new AnswerKeyCache. rdb may be nil to always
// read through to the catalog.
func NewAnswerKeyCache(source AnswerKeySource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *AnswerKeyCache {
	return &AnswerKeyCache{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "answer_key_cache").Logger(),
	}
}

// CorrectOptions returns question id -> correct option id for every question
// that has one.
func (c *AnswerKeyCache) CorrectOptions(ctx context.Context, questionIDs []int64) (map[int64]int64, error) {
	keys := make(map[int64]int64, len(questionIDs))
	if len(questionIDs) == 0 {
		return keys, nil
	}

	missing := questionIDs
	if c.rdb != nil {
		fields := make([]string, len(questionIDs))
		for i, id := range questionIDs {
			fields[i] = strconv.FormatInt(id, 10)
		}

		vals, err := c.rdb.HMGet(ctx, config.CacheKey.AnswerKeyHash(), fields...).Result()
		if err != nil {
			c.log.Warn().Err(err).Msg("answer key cache read failed, using database")
		} else {
			missing = missing[:0:0]
			for i, v := range vals {
				str, ok := v.(string)
				if !ok {
					missing = append(missing, questionIDs[i])
					continue
				}
				oid, err := strconv.ParseInt(str, 10, 64)
				if err != nil {
					missing = append(missing, questionIDs[i])
					continue
				}
				keys[questionIDs[i]] = oid
			}
		}
	}

	if len(missing) == 0 {
		return keys, nil
	}

	loaded, err := c.source.CorrectOptions(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load answer keys: %w", err)
	}
	for qid, oid := range loaded {
		keys[qid] = oid
	}
	c.heal(ctx, loaded)

	return keys, nil
}

func (c *AnswerKeyCache) heal(ctx context.Context, loaded map[int64]int64) {
	if c.rdb == nil || len(loaded) == 0 {
		return
	}
	values := make(map[string]interface{}, len(loaded))
	for qid, oid := range loaded {
		values[strconv.FormatInt(qid, 10)] = oid
	}

	key := config.CacheKey.AnswerKeyHash()
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Int("count", len(loaded)).Msg("answer key cache write failed")
	}
}
