package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/model"
)

// QuestionCatalog is the read-only question/group catalog.
type QuestionCatalog interface {
	Candidates(ctx context.Context, q model.PoolQuery) ([]model.Candidate, error)
	EverIncorrect(ctx context.Context, principalID int) ([]model.Candidate, error)
	NeverCorrect(ctx context.Context, principalID int) ([]model.Candidate, error)
	ReviewLater(ctx context.Context, principalID int) ([]model.Candidate, error)
}

// TermLookup is the hierarchy view the selector needs.
type TermLookup interface {
	DescendantIDs(ctx context.Context, taxonomy string, termID int64) ([]int64, error)
	Lineage(ctx context.Context, termID int64) ([]int64, error)
}

// ShownSet reads and resets revision exposure per topic set.
type ShownSet interface {
	ShownQuestionIDs(ctx context.Context, principalID int, topicIDs []int64) ([]int64, error)
	Clear(ctx context.Context, principalID int, topicIDs []int64) error
}

// ScopeProvider returns a principal's subject allow-list.
type ScopeProvider interface {
	ScopeOf(ctx context.Context, principalID int) (model.Scope, error)
}

// SelectRequest is the input of one pool selection.
type SelectRequest struct {
	PrincipalID int
	Settings    model.SessionSettings
	Preferences model.PracticePreferences
	// SuppressExcludeAnswered disables the exclude-answered filter when a
	// section session is refreshed in place.
	SuppressExcludeAnswered bool
}

// Selection is an ordered question list with per-question metadata.
type Selection struct {
	QuestionIDs []int64
	// Sequence holds the declared in-section sequence for section mode.
	Sequence map[int64]int
	TopicOf  map[int64]int64
}

func (s *Selection) add(c model.Candidate) {
	s.QuestionIDs = append(s.QuestionIDs, c.ID)
	s.TopicOf[c.ID] = c.TopicID
	if c.SectionSeq != nil {
		s.Sequence[c.ID] = *c.SectionSeq
	}
}

func newSelection(capacity int) *Selection {
	return &Selection{
		QuestionIDs: make([]int64, 0, capacity),
		Sequence:    make(map[int64]int),
		TopicOf:     make(map[int64]int64, capacity),
	}
}

// QuestionSelector produces question pools for every practice mode.
// It never writes exposure records; the attempt recorder does.
type QuestionSelector struct {
	catalog   QuestionCatalog
	terms     TermLookup
	revisions ShownSet
	scopes    ScopeProvider
	log       zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewQuestionSelector creates a new QuestionSelector.
func NewQuestionSelector(
	catalog QuestionCatalog,
	terms TermLookup,
	revisions ShownSet,
	scopes ScopeProvider,
	log zerolog.Logger,
) *QuestionSelector {
	return &QuestionSelector{
		catalog:   catalog,
		terms:     terms,
		revisions: revisions,
		scopes:    scopes,
		log:       log.With().Str("component", "question_selector").Logger(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select runs the algorithm of the settings' mode.
func (s *QuestionSelector) Select(ctx context.Context, req SelectRequest) (*Selection, error) {
	scope, err := s.scopes.ScopeOf(ctx, req.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("load scope: %w", err)
	}

	topics, err := s.resolveTopics(ctx, scope, req.Settings.Filters)
	if err != nil {
		return nil, err
	}

	var sel *Selection
	switch req.Settings.Mode {
	case model.ModeNormal:
		sel, err = s.selectNormal(ctx, req, topics)
	case model.ModeSection:
		sel, err = s.selectSection(ctx, req, topics)
	case model.ModeRevision:
		sel, err = s.selectRevision(ctx, req, scope)
	case model.ModeMock:
		sel, err = s.selectMock(ctx, req, topics)
	case model.ModeIncorrect:
		sel, err = s.selectIncorrect(ctx, req, topics)
	case model.ModeReviewLater:
		sel, err = s.selectReviewLater(ctx, req, topics)
	default:
		return nil, invalid("mode", fmt.Sprintf("unknown mode %q", req.Settings.Mode))
	}
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Int("principal_id", req.PrincipalID).
		Str("mode", string(req.Settings.Mode)).
		Int("count", len(sel.QuestionIDs)).
		Msg("pool selected")
	return sel, nil
}

// ----------------------------------------------------------------
// Scope and topic resolution
// ----------------------------------------------------------------

// resolveTopics validates the selection against the scope and expands it to
// the full topic set. nil means no topic restriction.
func (s *QuestionSelector) resolveTopics(ctx context.Context, scope model.Scope, f model.SelectionFilters) ([]int64, error) {
	if err := s.checkScope(ctx, scope, f); err != nil {
		return nil, err
	}

	roots := append(append([]int64{}, f.SubjectIDs...), f.TopicIDs...)
	if len(roots) == 0 {
		if scope.Unrestricted {
			return nil, nil
		}
		roots = scope.SubjectIDs
	}
	return s.expand(ctx, roots)
}

// checkScope rejects any subject outside the allow-list and any topic whose
// lineage misses it. It runs before any catalog query.
func (s *QuestionSelector) checkScope(ctx context.Context, scope model.Scope, f model.SelectionFilters) error {
	if scope.Unrestricted {
		return nil
	}
	for _, id := range f.SubjectIDs {
		if !scope.Allows(id) {
			return fmt.Errorf("subject %d: %w", id, ErrScopeViolation)
		}
	}
	for _, id := range f.TopicIDs {
		lineage, err := s.terms.Lineage(ctx, id)
		if err != nil {
			return fmt.Errorf("lineage of %d: %w", id, err)
		}
		allowed := false
		for _, anc := range lineage {
			if scope.Allows(anc) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("topic %d: %w", id, ErrScopeViolation)
		}
	}
	return nil
}

// expand returns each root plus its descendants, deduplicated.
func (s *QuestionSelector) expand(ctx context.Context, roots []int64) ([]int64, error) {
	out := make([]int64, 0, len(roots))
	for _, id := range roots {
		desc, err := s.terms.DescendantIDs(ctx, model.TaxonomySubject, id)
		if err != nil {
			return nil, fmt.Errorf("descendants of %d: %w", id, err)
		}
		out = append(out, id)
		out = append(out, desc...)
	}
	return uniqueKeepOrder(out), nil
}

// ----------------------------------------------------------------
// Modes
// ----------------------------------------------------------------

func (s *QuestionSelector) selectNormal(ctx context.Context, req SelectRequest, topics []int64) (*Selection, error) {
	pool, err := s.eligible(ctx, s.poolQuery(req, topics))
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, ErrNoQuestionsFound
	}

	if req.Preferences.QuestionOrder == model.OrderAscending {
		sortByID(pool)
	} else {
		s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	}
	return collect(pool), nil
}

func (s *QuestionSelector) selectSection(ctx context.Context, req SelectRequest, topics []int64) (*Selection, error) {
	extras := req.Settings.Section()
	if extras == nil || extras.SectionID <= 0 {
		return nil, invalid("section_id", "required for section mode")
	}

	q := s.poolQuery(req, topics)
	q.SectionID = &extras.SectionID
	pool, err := s.eligible(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, ErrNoQuestionsFound
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i].SectionSeq, pool[j].SectionSeq
		switch {
		case a != nil && b != nil && *a != *b:
			return *a < *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return pool[i].ID < pool[j].ID
	})
	return collect(pool), nil
}

func (s *QuestionSelector) selectRevision(ctx context.Context, req SelectRequest, scope model.Scope) (*Selection, error) {
	extras := req.Settings.Revision()
	if extras == nil {
		return nil, invalid("mode", "revision extras missing")
	}
	perTopic := extras.PerTopic
	if perTopic <= 0 {
		perTopic = req.Preferences.RevisionPerTopic
	}
	if perTopic <= 0 {
		return nil, invalid("per_topic", "must be positive")
	}

	units, err := s.revisionUnits(ctx, scope, req.Settings.Filters)
	if err != nil {
		return nil, err
	}

	merged := make([]model.Candidate, 0, perTopic*len(units))
	for _, unit := range units {
		topics, err := s.expand(ctx, []int64{unit})
		if err != nil {
			return nil, err
		}
		pool, err := s.eligible(ctx, model.PoolQuery{
			TopicIDs:         topics,
			PreviousYearOnly: req.Settings.Filters.PreviousYearOnly,
		})
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			continue
		}

		shown, err := s.revisions.ShownQuestionIDs(ctx, req.PrincipalID, topics)
		if err != nil {
			return nil, fmt.Errorf("shown set of topic %d: %w", unit, err)
		}
		remainder := subtract(pool, shown)
		if len(remainder) == 0 {
			if err := s.revisions.Clear(ctx, req.PrincipalID, topics); err != nil {
				return nil, fmt.Errorf("reset shown set of topic %d: %w", unit, err)
			}
			s.log.Debug().Int("principal_id", req.PrincipalID).Int64("topic_id", unit).Msg("revision cycle restarted")
			remainder = pool
		}

		if extras.Random {
			s.shuffle(len(remainder), func(i, j int) { remainder[i], remainder[j] = remainder[j], remainder[i] })
		} else {
			sortByID(remainder)
		}
		merged = append(merged, takeFirst(remainder, perTopic)...)
	}

	merged = uniqueCandidates(merged)
	if len(merged) == 0 {
		return nil, ErrNoQuestionsFound
	}
	s.shuffle(len(merged), func(i, j int) { merged[i], merged[j] = merged[j], merged[i] })
	return collect(merged), nil
}

// revisionUnits returns the terms revision draws from independently: the
// selected topics, else the selected subjects, else the allowed subjects.
// Each unit covers its whole subtree.
func (s *QuestionSelector) revisionUnits(ctx context.Context, scope model.Scope, f model.SelectionFilters) ([]int64, error) {
	if len(f.TopicIDs) > 0 {
		return uniqueKeepOrder(f.TopicIDs), nil
	}
	subjects := f.SubjectIDs
	if len(subjects) == 0 && !scope.Unrestricted {
		subjects = scope.SubjectIDs
	}
	if len(subjects) == 0 {
		return nil, invalid("topic_ids", "revision needs at least one topic or subject")
	}
	return uniqueKeepOrder(subjects), nil
}

func (s *QuestionSelector) selectMock(ctx context.Context, req SelectRequest, topics []int64) (*Selection, error) {
	extras := req.Settings.Mock()
	if extras == nil || extras.TotalQuestions <= 0 {
		return nil, invalid("total_questions", "must be positive for mock tests")
	}

	pool, err := s.eligible(ctx, model.PoolQuery{
		TopicIDs:         topics,
		PreviousYearOnly: req.Settings.Filters.PreviousYearOnly,
	})
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, ErrInsufficientQuestions
	}

	var drawn []model.Candidate
	switch extras.Strategy {
	case model.StrategyRandom:
		s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		drawn = takeFirst(pool, extras.TotalQuestions)
	default:
		drawn = s.distributeEqual(pool, extras.TotalQuestions)
	}
	if len(drawn) == 0 {
		return nil, ErrInsufficientQuestions
	}

	s.shuffle(len(drawn), func(i, j int) { drawn[i], drawn[j] = drawn[j], drawn[i] })
	return collect(drawn), nil
}

// distributeEqual spreads total evenly over the pool's topics, in ascending
// topic id order for the remainder, then backfills shortfalls at random.
func (s *QuestionSelector) distributeEqual(pool []model.Candidate, total int) []model.Candidate {
	byTopic := make(map[int64][]model.Candidate)
	var topicIDs []int64
	for _, c := range pool {
		if _, ok := byTopic[c.TopicID]; !ok {
			topicIDs = append(topicIDs, c.TopicID)
		}
		byTopic[c.TopicID] = append(byTopic[c.TopicID], c)
	}
	sort.Slice(topicIDs, func(i, j int) bool { return topicIDs[i] < topicIDs[j] })

	base := total / len(topicIDs)
	extra := total % len(topicIDs)

	drawn := make([]model.Candidate, 0, total)
	var leftover []model.Candidate
	for i, tid := range topicIDs {
		quota := base
		if i < extra {
			quota++
		}
		items := byTopic[tid]
		s.shuffle(len(items), func(a, b int) { items[a], items[b] = items[b], items[a] })
		n := quota
		if n > len(items) {
			n = len(items)
		}
		drawn = append(drawn, items[:n]...)
		leftover = append(leftover, items[n:]...)
	}

	if short := total - len(drawn); short > 0 && len(leftover) > 0 {
		s.shuffle(len(leftover), func(i, j int) { leftover[i], leftover[j] = leftover[j], leftover[i] })
		drawn = append(drawn, takeFirst(leftover, short)...)
	}
	return drawn
}

func (s *QuestionSelector) selectIncorrect(ctx context.Context, req SelectRequest, topics []int64) (*Selection, error) {
	variant := model.IncorrectEver
	if extras := req.Settings.Incorrect(); extras != nil && extras.Variant != "" {
		variant = extras.Variant
	}

	var (
		history []model.Candidate
		err     error
	)
	switch variant {
	case model.IncorrectEver:
		history, err = s.catalog.EverIncorrect(ctx, req.PrincipalID)
	case model.IncorrectNeverCorrect:
		history, err = s.catalog.NeverCorrect(ctx, req.PrincipalID)
	default:
		return nil, invalid("variant", fmt.Sprintf("unknown variant %q", variant))
	}
	if err != nil {
		return nil, fmt.Errorf("load answer history: %w", err)
	}

	pool := filterCandidates(history, topics)
	if len(pool) == 0 {
		return nil, ErrNoQuestionsFound
	}
	s.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return collect(pool), nil
}

func (s *QuestionSelector) selectReviewLater(ctx context.Context, req SelectRequest, topics []int64) (*Selection, error) {
	saved, err := s.catalog.ReviewLater(ctx, req.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("load review queue: %w", err)
	}

	pool := filterCandidates(saved, topics)
	if len(pool) == 0 {
		return nil, ErrNoQuestionsFound
	}
	return collect(pool), nil
}

// ----------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------

func (s *QuestionSelector) poolQuery(req SelectRequest, topics []int64) model.PoolQuery {
	q := model.PoolQuery{
		TopicIDs:         topics,
		PreviousYearOnly: req.Settings.Filters.PreviousYearOnly,
	}
	if req.Settings.Filters.ExcludeAnswered && !req.SuppressExcludeAnswered {
		principal := req.PrincipalID
		q.ExcludeAnsweredBy = &principal
	}
	return q
}

// eligible loads the pool and drops unpublished and reported questions.
func (s *QuestionSelector) eligible(ctx context.Context, q model.PoolQuery) ([]model.Candidate, error) {
	candidates, err := s.catalog.Candidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	return filterCandidates(candidates, nil), nil
}

func (s *QuestionSelector) shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(n, swap)
}

// filterCandidates keeps eligible candidates, restricted to topics when
// topics is non-nil. Order is preserved and duplicates dropped.
func filterCandidates(in []model.Candidate, topics []int64) []model.Candidate {
	var allowed map[int64]bool
	if topics != nil {
		allowed = make(map[int64]bool, len(topics))
		for _, t := range topics {
			allowed[t] = true
		}
	}

	out := make([]model.Candidate, 0, len(in))
	for _, c := range in {
		if !c.Eligible() {
			continue
		}
		if allowed != nil && !allowed[c.TopicID] {
			continue
		}
		out = append(out, c)
	}
	return uniqueCandidates(out)
}

func subtract(pool []model.Candidate, ids []int64) []model.Candidate {
	if len(ids) == 0 {
		return append([]model.Candidate(nil), pool...)
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := make([]model.Candidate, 0, len(pool))
	for _, c := range pool {
		if !drop[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func collect(pool []model.Candidate) *Selection {
	sel := newSelection(len(pool))
	for _, c := range pool {
		sel.add(c)
	}
	return sel
}

func sortByID(pool []model.Candidate) {
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
}

func takeFirst(pool []model.Candidate, n int) []model.Candidate {
	if n >= len(pool) {
		return pool
	}
	return pool[:n]
}

func uniqueCandidates(in []model.Candidate) []model.Candidate {
	seen := make(map[int64]bool, len(in))
	out := in[:0:0]
	for _, c := range in {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func uniqueKeepOrder(in []int64) []int64 {
	seen := make(map[int64]bool, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
