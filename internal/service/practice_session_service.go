package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/repository"
)

// SessionStore persists sessions and their pause intervals.
// Guarded transitions return repository.ErrStateChanged when the row is no
// longer in the expected state.
type SessionStore interface {
	SessionReader
	Create(ctx context.Context, s *model.PracticeSession) error
	FindResumableSection(ctx context.Context, principalID int, sectionID int64) (*model.PracticeSession, error)
	ReplaceSnapshot(ctx context.Context, s *model.PracticeSession, from model.SessionStatus, at time.Time) error
	Pause(ctx context.Context, id uuid.UUID, at time.Time) error
	Resume(ctx context.Context, id uuid.UUID, at time.Time) error
	ListPauses(ctx context.Context, id uuid.UUID) ([]model.PauseInterval, error)
	Complete(ctx context.Context, id uuid.UUID, res model.SessionResult, endedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PreferencesSource resolves the current global practice preferences.
type PreferencesSource interface {
	Current(ctx context.Context) (model.PracticePreferences, error)
}

// DeadlineCache mirrors mock deadlines for fast clock reads.
type DeadlineCache interface {
	Set(ctx context.Context, sessionID uuid.UUID, deadline time.Time) error
	Deadline(ctx context.Context, sessionID uuid.UUID) (time.Time, bool, error)
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// PracticeSessionService orchestrates selection, gating and the session
// lifecycle.
type PracticeSessionService struct {
	sessions SessionStore
	attempts AttemptStore
	selector *QuestionSelector
	gate     *EntitlementGate
	keys     AnswerKeys
	prefs    PreferencesSource
	clock    DeadlineCache
	log      zerolog.Logger
	now      func() time.Time
}

// NewPracticeSessionService creates a new PracticeSessionService.
// clock may be nil.
func NewPracticeSessionService(
	sessions SessionStore,
	attempts AttemptStore,
	selector *QuestionSelector,
	gate *EntitlementGate,
	keys AnswerKeys,
	prefs PreferencesSource,
	clock DeadlineCache,
	log zerolog.Logger,
) *PracticeSessionService {
	return &PracticeSessionService{
		sessions: sessions,
		attempts: attempts,
		selector: selector,
		gate:     gate,
		keys:     keys,
		prefs:    prefs,
		clock:    clock,
		log:      log.With().Str("component", "practice_session_service").Logger(),
		now:      time.Now,
	}
}

// Create selects a pool, authorizes the principal and persists the session.
// A section request matching a paused or completed session of the same
// section refreshes that session in place.
func (s *PracticeSessionService) Create(ctx context.Context, principalID int, req *model.CreateSessionRequest) (*model.PracticeSession, error) {
	prefs, err := s.prefs.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	settings, err := buildSettings(req, prefs)
	if err != nil {
		return nil, err
	}

	var resumable *model.PracticeSession
	if sec := settings.Section(); sec != nil {
		resumable, err = s.sessions.FindResumableSection(ctx, principalID, sec.SectionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("find resumable section session: %w", err)
		}
	}

	sel, err := s.selector.Select(ctx, SelectRequest{
		PrincipalID:             principalID,
		Settings:                settings,
		Preferences:             prefs,
		SuppressExcludeAnswered: resumable != nil,
	})
	if err != nil {
		return nil, err
	}

	decision, err := s.gate.Authorize(ctx, principalID, model.AccessContext{CourseID: settings.CourseID()})
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if err := decision.Err(); err != nil {
		s.log.Info().Int("principal_id", principalID).Str("reason", string(decision.Reason)).Msg("session start denied")
		return nil, err
	}

	now := s.now()
	var sess *model.PracticeSession
	if resumable != nil {
		sess, err = s.refresh(ctx, resumable, settings, sel.QuestionIDs, now)
	} else {
		sess, err = s.insert(ctx, principalID, settings, sel.QuestionIDs, now)
	}
	if err != nil {
		return nil, err
	}

	if err := s.warm(ctx, sess.QuestionIDs); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed to warm answer keys")
	}
	if sess.DeadlineAt != nil && s.clock != nil {
		if err := s.clock.Set(ctx, sess.ID, *sess.DeadlineAt); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("failed to cache mock deadline")
		}
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Int("principal_id", principalID).
		Str("mode", string(settings.Mode)).
		Int("questions", len(sess.QuestionIDs)).
		Bool("refreshed", resumable != nil).
		Msg("practice session started")
	return sess, nil
}

func (s *PracticeSessionService) insert(ctx context.Context, principalID int, settings model.SessionSettings, questionIDs []int64, now time.Time) (*model.PracticeSession, error) {
	sess := &model.PracticeSession{
		ID:             uuid.New(),
		PrincipalID:    principalID,
		Status:         model.SessionStatusActive,
		IsMock:         settings.Mode == model.ModeMock,
		StartedAt:      now,
		LastActivityAt: now,
		Settings:       settings,
		QuestionIDs:    questionIDs,
	}
	if sess.IsMock {
		deadline := now.Add(time.Duration(settings.Timer.DurationSeconds) * time.Second)
		sess.DeadlineAt = &deadline
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PracticeSessionService) refresh(ctx context.Context, prev *model.PracticeSession, settings model.SessionSettings, questionIDs []int64, now time.Time) (*model.PracticeSession, error) {
	from := prev.Status
	sess := *prev
	sess.Settings = settings
	sess.QuestionIDs = questionIDs

	err := s.sessions.ReplaceSnapshot(ctx, &sess, from, now)
	if errors.Is(err, repository.ErrStateChanged) {
		return nil, fmt.Errorf("refresh section session: %w", ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh section session: %w", err)
	}

	sess.Status = model.SessionStatusActive
	sess.LastActivityAt = now
	sess.EndedAt = nil
	sess.Result = nil
	return &sess, nil
}

func (s *PracticeSessionService) warm(ctx context.Context, questionIDs []int64) error {
	_, err := s.keys.CorrectOptions(ctx, questionIDs)
	return err
}

// Pause moves an active session to paused.
func (s *PracticeSessionService) Pause(ctx context.Context, principalID int, sessionID uuid.UUID) (*model.PracticeSession, error) {
	sess, err := ownedSession(ctx, s.sessions, principalID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusActive {
		return nil, fmt.Errorf("pause %s session: %w", sess.Status, ErrInvalidTransition)
	}

	now := s.now()
	if err := s.sessions.Pause(ctx, sessionID, now); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return nil, fmt.Errorf("pause: %w", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("pause: %w", err)
	}

	sess.Status = model.SessionStatusPaused
	sess.LastActivityAt = now
	return sess, nil
}

// Resume moves a paused session back to active.
func (s *PracticeSessionService) Resume(ctx context.Context, principalID int, sessionID uuid.UUID) (*model.PracticeSession, error) {
	sess, err := ownedSession(ctx, s.sessions, principalID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusPaused {
		return nil, fmt.Errorf("resume %s session: %w", sess.Status, ErrInvalidTransition)
	}

	now := s.now()
	if err := s.sessions.Resume(ctx, sessionID, now); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return nil, fmt.Errorf("resume: %w", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("resume: %w", err)
	}

	sess.Status = model.SessionStatusActive
	sess.LastActivityAt = now
	return sess, nil
}

// ActiveMock returns the principal's session if it is an active mock test.
func (s *PracticeSessionService) ActiveMock(ctx context.Context, principalID int, sessionID uuid.UUID) (*model.PracticeSession, error) {
	sess, err := ownedSession(ctx, s.sessions, principalID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsMock {
		return nil, invalid("session_id", "not a mock test")
	}
	if sess.Status != model.SessionStatusActive {
		return nil, fmt.Errorf("stream %s session: %w", sess.Status, ErrInvalidTransition)
	}
	return sess, nil
}

// State returns the reload view of a session: snapshot, clocks and attempts.
func (s *PracticeSessionService) State(ctx context.Context, principalID int, sessionID uuid.UUID) (*model.SessionState, error) {
	sess, err := ownedSession(ctx, s.sessions, principalID, sessionID)
	if err != nil {
		return nil, err
	}

	pauses, err := s.sessions.ListPauses(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list pauses: %w", err)
	}
	attempts, err := s.attempts.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	now := s.now()
	state := &model.SessionState{
		Session:        sess,
		ElapsedSeconds: int64(ElapsedActive(sess, pauses, now) / time.Second),
		Attempts:       attempts,
		Pauses:         pauses,
	}
	if sess.IsMock {
		remaining, err := s.RemainingSeconds(ctx, sess)
		if err != nil {
			return nil, err
		}
		state.RemainingSeconds = &remaining
	}
	return state, nil
}

// RemainingSeconds returns the mock countdown, reading the cached deadline
// first and healing the cache from the stored deadline on a miss.
func (s *PracticeSessionService) RemainingSeconds(ctx context.Context, sess *model.PracticeSession) (int64, error) {
	now := s.now()
	if sess.Status == model.SessionStatusCompleted || sess.DeadlineAt == nil {
		return int64(Remaining(sess, now) / time.Second), nil
	}

	if s.clock != nil {
		deadline, ok, err := s.clock.Deadline(ctx, sess.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("clock cache read failed")
		} else if ok {
			return int64(floorDuration(deadline.Sub(now)) / time.Second), nil
		} else {
			_ = s.clock.Set(ctx, sess.ID, *sess.DeadlineAt)
		}
	}
	return int64(Remaining(sess, now) / time.Second), nil
}

// Finalize seals a session. Pending mock answers are graded against the
// answer key first. A session without attempt rows is deleted and the
// no-attempts outcome returned.
func (s *PracticeSessionService) Finalize(ctx context.Context, principalID int, sessionID uuid.UUID, reason model.EndReason) (*model.FinalizeOutcome, error) {
	sess, err := ownedSession(ctx, s.sessions, principalID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted {
		return nil, fmt.Errorf("finalize completed session: %w", ErrInvalidTransition)
	}
	if reason == "" {
		reason = model.EndReasonUserSubmitted
	}

	attempts, err := s.attempts.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	if len(attempts) == 0 {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return nil, fmt.Errorf("discard session: %w", ErrInvalidTransition)
			}
			return nil, fmt.Errorf("discard session: %w", err)
		}
		s.clearClock(ctx, sessionID)
		s.log.Info().Str("session_id", sessionID.String()).Msg("empty session discarded")
		return &model.FinalizeOutcome{NoAttempts: true}, nil
	}

	if err := s.gradePending(ctx, sessionID, attempts); err != nil {
		return nil, err
	}

	result := Aggregate(attempts, sess.Settings.Scoring)
	result.EndReason = reason

	now := s.now()
	if err := s.sessions.Complete(ctx, sessionID, result, now); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return nil, fmt.Errorf("complete session: %w", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("complete session: %w", err)
	}
	s.clearClock(ctx, sessionID)

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("principal_id", principalID).
		Int("total_attempted", result.TotalAttempted).
		Int("correct", result.CorrectCount).
		Str("end_reason", string(reason)).
		Msg("practice session finalized")
	return &model.FinalizeOutcome{Summary: &result}, nil
}

// gradePending grades answered-but-ungraded rows in place.
func (s *PracticeSessionService) gradePending(ctx context.Context, sessionID uuid.UUID, attempts []model.Attempt) error {
	var pending []int64
	for _, a := range attempts {
		if a.Status == model.AttemptAnswered && a.SelectedOptionID != nil && a.Correct == nil {
			pending = append(pending, a.QuestionID)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	keys, err := s.keys.CorrectOptions(ctx, pending)
	if err != nil {
		return fmt.Errorf("load answer keys: %w", err)
	}

	grades := make(map[int64]bool, len(pending))
	for i := range attempts {
		a := &attempts[i]
		if a.Status != model.AttemptAnswered || a.SelectedOptionID == nil || a.Correct != nil {
			continue
		}
		key, ok := keys[a.QuestionID]
		if !ok {
			continue
		}
		correct := *a.SelectedOptionID == key
		a.Correct = &correct
		grades[a.QuestionID] = correct
	}

	if err := s.attempts.SetCorrectness(ctx, sessionID, grades); err != nil {
		return fmt.Errorf("grade pending answers: %w", err)
	}
	return nil
}

func (s *PracticeSessionService) clearClock(ctx context.Context, sessionID uuid.UUID) {
	if s.clock == nil {
		return
	}
	if err := s.clock.Clear(ctx, sessionID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to clear mock deadline")
	}
}

// ----------------------------------------------------------------
// Pure computations
// ----------------------------------------------------------------

// Aggregate folds attempt rows into a result. Only terminal rows count;
// answered rows that could not be graded count as skipped so that
// correct + incorrect + skipped always equals total attempted.
// MarksObtained is nil for unscored sessions.
func Aggregate(attempts []model.Attempt, scoring *model.Scoring) model.SessionResult {
	var res model.SessionResult
	var marks float64

	for _, a := range attempts {
		if !a.Terminal() {
			continue
		}
		res.TotalAttempted++

		switch {
		case a.Status == model.AttemptAnswered && a.Correct != nil && *a.Correct:
			res.CorrectCount++
			if scoring != nil {
				marks += scoring.MarksCorrect
			}
		case a.Status == model.AttemptAnswered && a.Correct != nil:
			res.IncorrectCount++
			if scoring != nil {
				marks += scoring.MarksIncorrect
			}
		default:
			res.SkippedCount++
		}
	}

	if scoring != nil {
		res.MarksObtained = &marks
	}
	return res
}

// ElapsedActive is wall time since start minus all pause time. An open
// pause counts up to now. Completed sessions stop at their end time.
func ElapsedActive(sess *model.PracticeSession, pauses []model.PauseInterval, now time.Time) time.Duration {
	end := now
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}

	elapsed := end.Sub(sess.StartedAt)
	for _, p := range pauses {
		stop := end
		if p.ResumedAt != nil && p.ResumedAt.Before(end) {
			stop = *p.ResumedAt
		}
		if stop.After(p.PausedAt) {
			elapsed -= stop.Sub(p.PausedAt)
		}
	}
	return floorDuration(elapsed)
}

// Remaining is the mock countdown: deadline minus now, never below zero.
// Pauses do not extend the deadline.
func Remaining(sess *model.PracticeSession, now time.Time) time.Duration {
	if sess.DeadlineAt == nil {
		return 0
	}
	return floorDuration(sess.DeadlineAt.Sub(now))
}

func floorDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// ----------------------------------------------------------------
// Settings snapshot
// ----------------------------------------------------------------

// buildSettings turns a create request into the immutable settings snapshot.
func buildSettings(req *model.CreateSessionRequest, prefs model.PracticePreferences) (model.SessionSettings, error) {
	mode := model.PracticeMode(req.Mode)
	if !mode.Valid() {
		return model.SessionSettings{}, invalid("mode", fmt.Sprintf("unknown mode %q", req.Mode))
	}

	settings := model.SessionSettings{
		Mode: mode,
		Filters: model.SelectionFilters{
			SubjectIDs:       req.SubjectIDs,
			TopicIDs:         req.TopicIDs,
			PreviousYearOnly: req.PreviousYearOnly,
			ExcludeAnswered:  req.ExcludeAnswered,
		},
		Timer: model.Timer{
			Enabled:         req.TimerSeconds > 0,
			DurationSeconds: req.TimerSeconds,
		},
	}

	if !req.Unscored {
		scoring := &model.Scoring{
			MarksCorrect:   prefs.DefaultMarksCorrect,
			MarksIncorrect: prefs.DefaultMarksIncorrect,
		}
		if req.MarksCorrect != nil {
			scoring.MarksCorrect = *req.MarksCorrect
		}
		if req.MarksIncorrect != nil {
			scoring.MarksIncorrect = *req.MarksIncorrect
		}
		settings.Scoring = scoring
	}

	if req.CourseItemID != nil && req.CourseID == nil {
		return model.SessionSettings{}, invalid("course_id", "required when course_item_id is set")
	}
	if req.CourseID != nil {
		settings.Course = &model.CourseLink{CourseID: *req.CourseID, ItemID: req.CourseItemID}
	}

	switch mode {
	case model.ModeNormal:
		settings.Extras = &model.NormalExtras{}
	case model.ModeSection:
		if req.SectionID <= 0 {
			return model.SessionSettings{}, invalid("section_id", "required for section mode")
		}
		settings.Extras = &model.SectionExtras{SectionID: req.SectionID}
	case model.ModeRevision:
		perTopic := req.PerTopic
		if perTopic <= 0 {
			perTopic = prefs.RevisionPerTopic
		}
		settings.Extras = &model.RevisionExtras{PerTopic: perTopic, Random: req.RandomRevision}
	case model.ModeMock:
		if req.TotalQuestions <= 0 {
			return model.SessionSettings{}, invalid("total_questions", "required for mock tests")
		}
		if req.TimerSeconds <= 0 {
			return model.SessionSettings{}, invalid("timer_seconds", "required for mock tests")
		}
		strategy := model.MockStrategy(req.Strategy)
		if strategy == "" {
			strategy = model.StrategyEqual
		}
		settings.Extras = &model.MockExtras{Strategy: strategy, TotalQuestions: req.TotalQuestions}
	case model.ModeIncorrect:
		variant := model.IncorrectVariant(req.Variant)
		if variant == "" {
			variant = model.IncorrectEver
		}
		settings.Extras = &model.IncorrectExtras{Variant: variant}
	case model.ModeReviewLater:
		settings.Extras = &model.ReviewLaterExtras{}
	}
	return settings, nil
}
