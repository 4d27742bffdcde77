package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/model"
)

func TestDedupeRevisionsKeepsLatest(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	batch := []model.RevisionRecord{
		{PrincipalID: 1, QuestionID: 10, TopicID: 100, ShownAt: t0},
		{PrincipalID: 1, QuestionID: 11, TopicID: 100, ShownAt: t0},
		{PrincipalID: 1, QuestionID: 10, TopicID: 100, ShownAt: t0.Add(time.Minute)},
		{PrincipalID: 2, QuestionID: 10, TopicID: 100, ShownAt: t0},
		{PrincipalID: 1, QuestionID: 10, TopicID: 100, ShownAt: t0.Add(-time.Minute)},
	}

	got := dedupeRevisions(batch)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(got), got)
	}
	if got[0].QuestionID != 10 || !got[0].ShownAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("first = %+v, want latest exposure of question 10", got[0])
	}
	if got[1].QuestionID != 11 || got[2].PrincipalID != 2 {
		t.Errorf("order not preserved: %+v", got)
	}
}

func TestDedupeRevisionsEmpty(t *testing.T) {
	if got := dedupeRevisions(nil); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

type fakeRevisionStore struct {
	mu      sync.Mutex
	bulkErr error
	failQID map[int64]bool
	bulk    [][]model.RevisionRecord
	single  []model.RevisionRecord
}

func (s *fakeRevisionStore) BulkUpsert(_ context.Context, recs []model.RevisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bulkErr != nil {
		return s.bulkErr
	}
	s.bulk = append(s.bulk, append([]model.RevisionRecord(nil), recs...))
	return nil
}

func (s *fakeRevisionStore) Upsert(_ context.Context, rec model.RevisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQID[rec.QuestionID] {
		return errors.New("row rejected")
	}
	s.single = append(s.single, rec)
	return nil
}

// newTestWorker points at a Redis that refuses connections, so requeues fail fast.
func newTestWorker(t *testing.T, store RevisionStore) *RevisionWorker {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return NewRevisionWorker(store, rdb, zerolog.Nop())
}

func revisionBatch() []model.RevisionRecord {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return []model.RevisionRecord{
		{PrincipalID: 1, QuestionID: 10, TopicID: 100, ShownAt: t0},
		{PrincipalID: 1, QuestionID: 11, TopicID: 100, ShownAt: t0},
		{PrincipalID: 1, QuestionID: 10, TopicID: 100, ShownAt: t0.Add(time.Minute)},
		{PrincipalID: 1, QuestionID: 12, TopicID: 100, ShownAt: t0},
	}
}

func TestFlushBulkUpsertsDedupedBatch(t *testing.T) {
	store := &fakeRevisionStore{}
	w := newTestWorker(t, store)

	w.flushSafe(context.Background(), revisionBatch())

	if len(store.bulk) != 1 || len(store.bulk[0]) != 3 {
		t.Fatalf("bulk calls = %+v, want one call with 3 records", store.bulk)
	}
	if len(store.single) != 0 {
		t.Errorf("single upserts = %d, want 0", len(store.single))
	}
}

func TestFlushFallsBackToSingleRows(t *testing.T) {
	store := &fakeRevisionStore{
		bulkErr: errors.New("deadlock detected"),
		failQID: map[int64]bool{11: true},
	}
	w := newTestWorker(t, store)

	w.flushSafe(context.Background(), revisionBatch())

	var got []int64
	for _, rec := range store.single {
		got = append(got, rec.QuestionID)
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 12 {
		t.Errorf("single upserts = %v, want [10 12] with 11 requeued", got)
	}
}

func TestFlushEmptyBatchIsNoop(t *testing.T) {
	store := &fakeRevisionStore{}
	newTestWorker(t, store).flushSafe(context.Background(), nil)
	if len(store.bulk) != 0 || len(store.single) != 0 {
		t.Errorf("store touched for an empty batch")
	}
}

func TestStartReturnsOnCancel(t *testing.T) {
	w := newTestWorker(t, &fakeRevisionStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
