package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-practice/internal/config"
)

// MockClock keeps mock-test deadlines in Redis for the live stream.
// PostgreSQL stays the source of truth.
type MockClock struct {
	rdb *redis.Client
}

// NewMockClock creates a new MockClock.
func NewMockClock(rdb *redis.Client) *MockClock {
	return &MockClock{rdb: rdb}
}

// Set stores the deadline until shortly after it passes.
func (c *MockClock) Set(ctx context.Context, sessionID uuid.UUID, deadline time.Time) error {
	ttl := time.Until(deadline) + time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}
	return c.rdb.Set(ctx, config.CacheKey.SessionClockKey(sessionID.String()), deadline.Unix(), ttl).Err()
}

// Deadline returns the cached deadline. ok is false on a cache miss.
func (c *MockClock) Deadline(ctx context.Context, sessionID uuid.UUID) (time.Time, bool, error) {
	val, err := c.rdb.Get(ctx, config.CacheKey.SessionClockKey(sessionID.String())).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis error getting deadline: %w", err)
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid deadline format in cache: %w", err)
	}
	return time.Unix(unix, 0), true, nil
}

// Clear drops the cached deadline of a finished session.
func (c *MockClock) Clear(ctx context.Context, sessionID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.SessionClockKey(sessionID.String())).Err()
}
