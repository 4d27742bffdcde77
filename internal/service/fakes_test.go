package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/repository"
)

/* ---------------- In-memory fakes that satisfy the service-side interfaces ---------------- */

var testLog = zerolog.Nop()

func intPtr(v int) *int             { return &v }
func int64Ptr(v int64) *int64       { return &v }
func boolPtr(v bool) *bool          { return &v }
func float64Ptr(v float64) *float64 { return &v }

// ---- catalog ----

type fakeCatalog struct {
	questions    []model.Candidate
	previousYear map[int64]bool
	sectionOf    map[int64]int64
	answeredBy   map[int]map[int64]bool
	everWrong    map[int][]model.Candidate
	neverRight   map[int][]model.Candidate
	reviewLater  map[int][]model.Candidate
	keys         map[int64]int64
	keysErr      error

	mu      sync.Mutex
	queries []model.PoolQuery
}

func newFakeCatalog(questions ...model.Candidate) *fakeCatalog {
	return &fakeCatalog{
		questions:    questions,
		previousYear: map[int64]bool{},
		sectionOf:    map[int64]int64{},
		answeredBy:   map[int]map[int64]bool{},
		everWrong:    map[int][]model.Candidate{},
		neverRight:   map[int][]model.Candidate{},
		reviewLater:  map[int][]model.Candidate{},
		keys:         map[int64]int64{},
	}
}

func q(id, topic int64) model.Candidate {
	return model.Candidate{ID: id, GroupID: id, TopicID: topic, Published: true}
}

func (c *fakeCatalog) Candidates(_ context.Context, pq model.PoolQuery) ([]model.Candidate, error) {
	c.mu.Lock()
	c.queries = append(c.queries, pq)
	c.mu.Unlock()

	var topics map[int64]bool
	if pq.TopicIDs != nil {
		topics = map[int64]bool{}
		for _, t := range pq.TopicIDs {
			topics[t] = true
		}
	}

	var out []model.Candidate
	for _, cand := range c.questions {
		if topics != nil && !topics[cand.TopicID] {
			continue
		}
		if pq.PreviousYearOnly && !c.previousYear[cand.ID] {
			continue
		}
		if pq.SectionID != nil && c.sectionOf[cand.ID] != *pq.SectionID {
			continue
		}
		if pq.ExcludeAnsweredBy != nil && c.answeredBy[*pq.ExcludeAnsweredBy][cand.ID] {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func (c *fakeCatalog) EverIncorrect(_ context.Context, principalID int) ([]model.Candidate, error) {
	return c.everWrong[principalID], nil
}

func (c *fakeCatalog) NeverCorrect(_ context.Context, principalID int) ([]model.Candidate, error) {
	return c.neverRight[principalID], nil
}

func (c *fakeCatalog) ReviewLater(_ context.Context, principalID int) ([]model.Candidate, error) {
	return c.reviewLater[principalID], nil
}

func (c *fakeCatalog) CorrectOptions(_ context.Context, questionIDs []int64) (map[int64]int64, error) {
	if c.keysErr != nil {
		return nil, c.keysErr
	}
	out := make(map[int64]int64, len(questionIDs))
	for _, id := range questionIDs {
		if key, ok := c.keys[id]; ok {
			out[id] = key
		}
	}
	return out, nil
}

func (c *fakeCatalog) TopicOf(_ context.Context, questionID int64) (int64, error) {
	for _, cand := range c.questions {
		if cand.ID == questionID {
			return cand.TopicID, nil
		}
	}
	return 0, repository.ErrNotFound
}

// ---- term hierarchy ----

type fakeTermSource struct {
	terms map[int64]model.Term
}

// newTermTree builds subject-taxonomy terms from child -> parent pairs.
// A parent of 0 marks a root.
func newTermTree(parents map[int64]int64) *fakeTermSource {
	src := &fakeTermSource{terms: map[int64]model.Term{}}
	for id, parent := range parents {
		t := model.Term{ID: id, Taxonomy: model.TaxonomySubject}
		if parent != 0 {
			t.ParentID = int64Ptr(parent)
		}
		src.terms[id] = t
	}
	return src
}

func (s *fakeTermSource) GetByID(_ context.Context, id int64) (*model.Term, error) {
	t, ok := s.terms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *fakeTermSource) ChildrenOf(_ context.Context, parentIDs []int64) ([]int64, error) {
	parents := map[int64]bool{}
	for _, id := range parentIDs {
		parents[id] = true
	}
	var out []int64
	for id, t := range s.terms {
		if t.ParentID != nil && parents[*t.ParentID] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ---- revision shown set ----

type fakeShown struct {
	mu    sync.Mutex
	shown map[int]map[int64]int64 // principal -> question -> topic
}

func newFakeShown() *fakeShown {
	return &fakeShown{shown: map[int]map[int64]int64{}}
}

func (f *fakeShown) mark(principalID int, questionID, topicID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shown[principalID] == nil {
		f.shown[principalID] = map[int64]int64{}
	}
	f.shown[principalID][questionID] = topicID
}

func (f *fakeShown) MarkShown(_ context.Context, rec model.RevisionRecord) error {
	f.mark(rec.PrincipalID, rec.QuestionID, rec.TopicID)
	return nil
}

func (f *fakeShown) ShownQuestionIDs(_ context.Context, principalID int, topicIDs []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := map[int64]bool{}
	for _, t := range topicIDs {
		in[t] = true
	}
	var out []int64
	for qid, tid := range f.shown[principalID] {
		if in[tid] {
			out = append(out, qid)
		}
	}
	return out, nil
}

func (f *fakeShown) Clear(_ context.Context, principalID int, topicIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := map[int64]bool{}
	for _, t := range topicIDs {
		in[t] = true
	}
	for qid, tid := range f.shown[principalID] {
		if in[tid] {
			delete(f.shown[principalID], qid)
		}
	}
	return nil
}

// ---- scopes ----

type fakeScopes map[int]model.Scope

func (f fakeScopes) ScopeOf(_ context.Context, principalID int) (model.Scope, error) {
	if s, ok := f[principalID]; ok {
		return s, nil
	}
	return model.Scope{Unrestricted: true}, nil
}

// ---- entitlements ----

type fakeGrants struct {
	mu     sync.Mutex
	grants []model.EntitlementGrant
	// beforeDecrement runs once per Decrement call, before the atomic check.
	beforeDecrement func()
}

func (f *fakeGrants) ListByPrincipal(_ context.Context, principalID int) ([]model.EntitlementGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.EntitlementGrant
	for _, g := range f.grants {
		if g.PrincipalID != principalID {
			continue
		}
		cp := g
		if g.RemainingAttempts != nil {
			cp.RemainingAttempts = intPtr(*g.RemainingAttempts)
		}
		out = append(out, cp)
	}
	return out, nil
}

func (f *fakeGrants) Decrement(_ context.Context, grantID int64, principalID int) (int, error) {
	if f.beforeDecrement != nil {
		f.beforeDecrement()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.grants {
		g := &f.grants[i]
		if g.ID != grantID || g.PrincipalID != principalID {
			continue
		}
		if g.RemainingAttempts == nil || *g.RemainingAttempts <= 0 {
			return 0, repository.ErrStateChanged
		}
		*g.RemainingAttempts--
		return *g.RemainingAttempts, nil
	}
	return 0, repository.ErrStateChanged
}

func (f *fakeGrants) Increment(_ context.Context, grantID int64, principalID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.grants {
		g := &f.grants[i]
		if g.ID == grantID && g.PrincipalID == principalID && g.RemainingAttempts != nil {
			*g.RemainingAttempts++
			return *g.RemainingAttempts, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (f *fakeGrants) remaining(grantID int64) *int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.grants {
		if g.ID == grantID {
			return g.RemainingAttempts
		}
	}
	return nil
}

type fakeCourses map[int64]bool

func (f fakeCourses) CanAccessCourse(_ context.Context, _ int, courseID int64) (bool, error) {
	return f[courseID], nil
}

// ---- sessions ----

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.PracticeSession
	pauses   map[uuid.UUID][]model.PauseInterval
	pauseSeq int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: map[uuid.UUID]*model.PracticeSession{},
		pauses:   map[uuid.UUID][]model.PauseInterval{},
	}
}

func (f *fakeSessions) put(s *model.PracticeSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
}

func (f *fakeSessions) Create(_ context.Context, s *model.PracticeSession) error {
	f.put(s)
	return nil
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*model.PracticeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) FindResumableSection(_ context.Context, principalID int, sectionID int64) (*model.PracticeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *model.PracticeSession
	for _, s := range f.sessions {
		sec := s.Settings.Section()
		if s.PrincipalID != principalID || sec == nil || sec.SectionID != sectionID {
			continue
		}
		if s.Status == model.SessionStatusActive {
			continue
		}
		if best == nil || s.LastActivityAt.After(best.LastActivityAt) {
			best = s
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakeSessions) ReplaceSnapshot(_ context.Context, s *model.PracticeSession, from model.SessionStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.sessions[s.ID]
	if !ok || cur.Status != from {
		return repository.ErrStateChanged
	}
	switch from {
	case model.SessionStatusPaused:
		f.closeOpen(s.ID, at)
	case model.SessionStatusCompleted:
		start := at
		if cur.EndedAt != nil {
			start = *cur.EndedAt
		}
		f.pauseSeq++
		end := at
		f.pauses[s.ID] = append(f.pauses[s.ID], model.PauseInterval{ID: f.pauseSeq, SessionID: s.ID, PausedAt: start, ResumedAt: &end})
	}
	cur.Status = model.SessionStatusActive
	cur.Settings = s.Settings
	cur.QuestionIDs = s.QuestionIDs
	cur.LastActivityAt = at
	cur.EndedAt = nil
	cur.Result = nil
	return nil
}

func (f *fakeSessions) closeOpen(id uuid.UUID, at time.Time) {
	for i := range f.pauses[id] {
		if f.pauses[id][i].ResumedAt == nil {
			end := at
			f.pauses[id][i].ResumedAt = &end
		}
	}
}

func (f *fakeSessions) Pause(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != model.SessionStatusActive {
		return repository.ErrStateChanged
	}
	s.Status = model.SessionStatusPaused
	s.LastActivityAt = at
	f.pauseSeq++
	f.pauses[id] = append(f.pauses[id], model.PauseInterval{ID: f.pauseSeq, SessionID: id, PausedAt: at})
	return nil
}

func (f *fakeSessions) Resume(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != model.SessionStatusPaused {
		return repository.ErrStateChanged
	}
	s.Status = model.SessionStatusActive
	s.LastActivityAt = at
	f.closeOpen(id, at)
	return nil
}

func (f *fakeSessions) ListPauses(_ context.Context, id uuid.UUID) ([]model.PauseInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PauseInterval(nil), f.pauses[id]...), nil
}

func (f *fakeSessions) Touch(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.Status != model.SessionStatusCompleted {
		s.LastActivityAt = at
	}
	return nil
}

func (f *fakeSessions) Complete(_ context.Context, id uuid.UUID, res model.SessionResult, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status == model.SessionStatusCompleted {
		return repository.ErrStateChanged
	}
	s.Status = model.SessionStatusCompleted
	end := endedAt
	s.EndedAt = &end
	s.LastActivityAt = endedAt
	r := res
	s.Result = &r
	f.closeOpen(id, endedAt)
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status == model.SessionStatusCompleted {
		return repository.ErrStateChanged
	}
	delete(f.sessions, id)
	delete(f.pauses, id)
	return nil
}

// ---- attempts ----

type fakeAttempts struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]map[int64]model.Attempt
	upsertErr error
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{rows: map[uuid.UUID]map[int64]model.Attempt{}}
}

func (f *fakeAttempts) Upsert(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.rows[a.SessionID] == nil {
		f.rows[a.SessionID] = map[int64]model.Attempt{}
	}
	row := *a
	if row.MockStatus == nil {
		if prev, ok := f.rows[a.SessionID][a.QuestionID]; ok {
			row.MockStatus = prev.MockStatus
		}
	}
	f.rows[a.SessionID][a.QuestionID] = row
	return nil
}

func (f *fakeAttempts) SetMockStatus(_ context.Context, a *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[a.SessionID] == nil {
		f.rows[a.SessionID] = map[int64]model.Attempt{}
	}
	row, ok := f.rows[a.SessionID][a.QuestionID]
	if !ok {
		row = model.Attempt{SessionID: a.SessionID, QuestionID: a.QuestionID, Status: a.Status}
	}
	row.MockStatus = a.MockStatus
	row.RecordedAt = a.RecordedAt
	f.rows[a.SessionID][a.QuestionID] = row
	return nil
}

func (f *fakeAttempts) Get(_ context.Context, sessionID uuid.UUID, questionID int64) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[sessionID][questionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (f *fakeAttempts) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, row := range f.rows[sessionID] {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (f *fakeAttempts) SetCorrectness(_ context.Context, sessionID uuid.UUID, grades map[int64]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for qid, ok := range grades {
		row, exists := f.rows[sessionID][qid]
		if !exists {
			continue
		}
		row.Correct = boolPtr(ok)
		f.rows[sessionID][qid] = row
	}
	return nil
}

func (f *fakeAttempts) count(sessionID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[sessionID])
}

// ---- preferences and clock ----

type fixedPrefs model.PracticePreferences

func (p fixedPrefs) Current(context.Context) (model.PracticePreferences, error) {
	return model.PracticePreferences(p), nil
}

type fakeClock struct {
	mu        sync.Mutex
	deadlines map[uuid.UUID]time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{deadlines: map[uuid.UUID]time.Time{}}
}

func (c *fakeClock) Set(_ context.Context, id uuid.UUID, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines[id] = deadline
	return nil
}

func (c *fakeClock) Deadline(_ context.Context, id uuid.UUID) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deadlines[id]
	return d, ok, nil
}

func (c *fakeClock) Clear(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deadlines, id)
	return nil
}

// ---- fixtures ----

// testClock is a controllable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// engine bundles every service over one set of fakes.
type engine struct {
	catalog  *fakeCatalog
	shown    *fakeShown
	scopes   fakeScopes
	grants   *fakeGrants
	courses  fakeCourses
	sessions *fakeSessions
	attempts *fakeAttempts
	clock    *fakeClock
	time     *testClock

	terms    *TermService
	selector *QuestionSelector
	gate     *EntitlementGate
	recorder *AttemptRecorder
	service  *PracticeSessionService
}

func newEngine(catalog *fakeCatalog, tree *fakeTermSource) *engine {
	e := &engine{
		catalog:  catalog,
		shown:    newFakeShown(),
		scopes:   fakeScopes{},
		grants:   &fakeGrants{},
		courses:  fakeCourses{},
		sessions: newFakeSessions(),
		attempts: newFakeAttempts(),
		clock:    newFakeClock(),
		time:     newTestClock(),
	}
	e.terms = NewTermService(tree, nil, time.Minute, testLog)
	e.selector = NewQuestionSelector(catalog, e.terms, e.shown, e.scopes, testLog)
	e.gate = NewEntitlementGate(e.grants, e.courses, testLog)
	e.gate.now = e.time.Now
	e.recorder = NewAttemptRecorder(e.sessions, e.attempts, catalog, catalog, e.shown, e.gate, testLog)
	e.recorder.now = e.time.Now
	prefs := fixedPrefs{
		QuestionOrder:         model.OrderAscending,
		DefaultMarksCorrect:   1,
		DefaultMarksIncorrect: 0,
		RevisionPerTopic:      2,
	}
	e.service = NewPracticeSessionService(e.sessions, e.attempts, e.selector, e.gate, catalog, prefs, e.clock, testLog)
	e.service.now = e.time.Now
	return e
}

// unlimited gives the principal an unlimited, never-expiring grant.
func (e *engine) unlimited(principalID int) {
	e.grants.grants = append(e.grants.grants, model.EntitlementGrant{
		ID: int64(len(e.grants.grants) + 1), PrincipalID: principalID, Status: model.GrantStatusActive,
	})
}
