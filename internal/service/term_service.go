package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/config"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/repository"
)

// MaxTermDepth bounds every walk over the term hierarchy.
const MaxTermDepth = 10

// TermSource reads the raw parent-pointer hierarchy.
type TermSource interface {
	GetByID(ctx context.Context, id int64) (*model.Term, error)
	ChildrenOf(ctx context.Context, parentIDs []int64) ([]int64, error)
}

// TermService answers hierarchy lookups with cycle and depth guards.
// Walk results are cached in Redis when a client is configured.
type TermService struct {
	source TermSource
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewTermService creates a new TermService. rdb may be nil to disable caching.
func NewTermService(source TermSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TermService {
	return &TermService{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "term_service").Logger(),
	}
}

// DescendantIDs returns every term below termID, breadth first, excluding
// termID itself. A root outside the taxonomy has no descendants.
func (s *TermService) DescendantIDs(ctx context.Context, taxonomy string, termID int64) ([]int64, error) {
	key := config.CacheKey.TermDescendantsKey(taxonomy, termID)
	if ids, ok := s.cached(ctx, key); ok {
		return ids, nil
	}

	root, err := s.source.GetByID(ctx, termID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get term %d: %w", termID, err)
	}
	if root.Taxonomy != taxonomy {
		return nil, nil
	}

	visited := map[int64]bool{termID: true}
	frontier := []int64{termID}
	var out []int64

	for depth := 0; depth < MaxTermDepth && len(frontier) > 0; depth++ {
		children, err := s.source.ChildrenOf(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("children of %v: %w", frontier, err)
		}
		frontier = frontier[:0]
		for _, id := range children {
			if visited[id] {
				continue
			}
			visited[id] = true
			out = append(out, id)
			frontier = append(frontier, id)
		}
	}
	if len(frontier) > 0 {
		s.log.Warn().Int64("term_id", termID).Int("max_depth", MaxTermDepth).Msg("descendant walk truncated at depth cap")
	}

	s.store(ctx, key, out)
	return out, nil
}

// Lineage returns termID followed by its ancestors up to the root.
func (s *TermService) Lineage(ctx context.Context, termID int64) ([]int64, error) {
	key := config.CacheKey.TermLineageKey(termID)
	if ids, ok := s.cached(ctx, key); ok {
		return ids, nil
	}

	visited := make(map[int64]bool)
	var out []int64
	current := &termID

	for depth := 0; current != nil && depth <= MaxTermDepth; depth++ {
		if visited[*current] {
			break
		}
		term, err := s.source.GetByID(ctx, *current)
		if errors.Is(err, repository.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("get term %d: %w", *current, err)
		}
		visited[term.ID] = true
		out = append(out, term.ID)
		current = term.ParentID
	}

	s.store(ctx, key, out)
	return out, nil
}

func (s *TermService) cached(ctx context.Context, key string) ([]int64, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Warn().Err(err).Str("key", key).Msg("term cache read failed")
		}
		return nil, false
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	return ids, true
}

func (s *TermService) store(ctx context.Context, key string, ids []int64) {
	if s.rdb == nil {
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("term cache write failed")
	}
}
