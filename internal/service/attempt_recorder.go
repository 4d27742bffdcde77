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

// AttemptStore persists the single live attempt row per (session, question).
type AttemptStore interface {
	Upsert(ctx context.Context, a *model.Attempt) error
	SetMockStatus(ctx context.Context, a *model.Attempt) error
	Get(ctx context.Context, sessionID uuid.UUID, questionID int64) (*model.Attempt, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Attempt, error)
	SetCorrectness(ctx context.Context, sessionID uuid.UUID, grades map[int64]bool) error
}

// SessionReader is the part of the session store the recorder needs.
type SessionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.PracticeSession, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AnswerKeys resolves the marked-correct option of questions.
type AnswerKeys interface {
	CorrectOptions(ctx context.Context, questionIDs []int64) (map[int64]int64, error)
}

// TopicResolver returns the topic owning a question.
type TopicResolver interface {
	TopicOf(ctx context.Context, questionID int64) (int64, error)
}

// RevisionMarker records that a question was shown in revision mode.
type RevisionMarker interface {
	MarkShown(ctx context.Context, rec model.RevisionRecord) error
}

// RecordInput is one attempt event.
type RecordInput struct {
	QuestionID       int64
	OptionID         *int64
	Event            model.EventKind
	RemainingSeconds *int
}

// RecordResult is returned to the caller. Correct and CorrectOptionID are
// only set for graded events.
type RecordResult struct {
	Correct         *bool          `json:"correct,omitempty"`
	CorrectOptionID *int64         `json:"correct_option_id,omitempty"`
	Attempt         *model.Attempt `json:"attempt"`
}

// AttemptRecorder records and grades attempt events.
type AttemptRecorder struct {
	sessions  SessionReader
	attempts  AttemptStore
	keys      AnswerKeys
	topics    TopicResolver
	revisions RevisionMarker
	gate      *EntitlementGate
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttemptRecorder creates a new AttemptRecorder.
func NewAttemptRecorder(
	sessions SessionReader,
	attempts AttemptStore,
	keys AnswerKeys,
	topics TopicResolver,
	revisions RevisionMarker,
	gate *EntitlementGate,
	log zerolog.Logger,
) *AttemptRecorder {
	return &AttemptRecorder{
		sessions:  sessions,
		attempts:  attempts,
		keys:      keys,
		topics:    topics,
		revisions: revisions,
		gate:      gate,
		log:       log.With().Str("component", "attempt_recorder").Logger(),
		now:       time.Now,
	}
}

// Record writes the event for (session, question), replacing any prior row.
// A check event on a non-course session is gated and paid for first.
func (r *AttemptRecorder) Record(ctx context.Context, principalID int, sessionID uuid.UUID, in RecordInput) (*RecordResult, error) {
	sess, err := ownedSession(ctx, r.sessions, principalID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusActive {
		return nil, fmt.Errorf("record on %s session: %w", sess.Status, ErrInvalidTransition)
	}
	if !sess.Contains(in.QuestionID) {
		return nil, ErrQuestionNotInSession
	}

	prior, err := r.attempts.Get(ctx, sessionID, in.QuestionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load attempt: %w", err)
	}

	now := r.now()
	a := &model.Attempt{
		SessionID:        sessionID,
		QuestionID:       in.QuestionID,
		RemainingSeconds: in.RemainingSeconds,
		RecordedAt:       now,
	}
	result := &RecordResult{Attempt: a}

	// paid is the decision that charged a grant for this event, if any.
	var paid *Decision

	switch in.Event {
	case model.EventCheck:
		if in.OptionID == nil {
			return nil, invalid("option_id", "required to check an answer")
		}
		keyID, graded, err := r.correctOption(ctx, in.QuestionID)
		if err != nil {
			return nil, err
		}
		if sess.Settings.Course == nil {
			paid, err = r.gate.AuthorizeAndConsume(ctx, principalID, model.AccessContext{})
			if err != nil {
				return nil, err
			}
		}
		a.SelectedOptionID = in.OptionID
		a.Status = model.AttemptAnswered
		if graded {
			correct := *in.OptionID == keyID
			a.Correct = &correct
			result.Correct = &correct
			result.CorrectOptionID = &keyID
		}
		if sess.IsMock {
			a.MockStatus = answeredStatus(prior)
		}

	case model.EventSave:
		if !sess.IsMock {
			return nil, invalid("event", "save is only valid in mock tests")
		}
		if in.OptionID == nil {
			return nil, invalid("option_id", "required to save an answer")
		}
		a.SelectedOptionID = in.OptionID
		a.Status = model.AttemptAnswered
		a.MockStatus = answeredStatus(prior)

	case model.EventSkip, model.EventExpire:
		a.Status = model.AttemptSkipped
		if in.Event == model.EventExpire {
			a.Status = model.AttemptExpired
		}
		if sess.IsMock {
			a.MockStatus = clearedStatus(prior)
		}

	case model.EventView:
		if prior != nil && prior.Terminal() {
			return &RecordResult{Attempt: prior}, nil
		}
		a.Status = model.AttemptViewed
		if sess.IsMock && (prior == nil || prior.MockStatus == nil || *prior.MockStatus == model.MockNotViewed) {
			a.MockStatus = mockStatus(model.MockViewed)
		}

	default:
		return nil, invalid("event", fmt.Sprintf("unknown event %q", in.Event))
	}

	if err := r.attempts.Upsert(ctx, a); err != nil {
		if paid != nil {
			if rerr := r.gate.Refund(ctx, principalID, paid); rerr != nil {
				r.log.Error().Err(rerr).Int("principal_id", principalID).Msg("failed to refund grant after lost attempt")
			}
		}
		return nil, fmt.Errorf("upsert attempt: %w", err)
	}
	if a.MockStatus == nil && prior != nil {
		a.MockStatus = prior.MockStatus
	}
	if err := r.sessions.Touch(ctx, sessionID, now); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to touch session")
	}

	if in.Event == model.EventCheck && a.Correct != nil && sess.Settings.Mode == model.ModeRevision {
		r.markShown(ctx, principalID, in.QuestionID, now)
	}

	return result, nil
}

// UpdateMockStatus changes the palette state of a mock-test question.
// viewed and marked_for_review clear the saved response.
func (r *AttemptRecorder) UpdateMockStatus(ctx context.Context, principalID int, sessionID uuid.UUID, questionID int64, status model.MockStatus) (*model.Attempt, error) {
	sess, err := ownedSession(ctx, r.sessions, principalID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionStatusActive {
		return nil, fmt.Errorf("update status on %s session: %w", sess.Status, ErrInvalidTransition)
	}
	if !sess.IsMock {
		return nil, invalid("status", "palette states only apply to mock tests")
	}
	if !sess.Contains(questionID) {
		return nil, ErrQuestionNotInSession
	}

	prior, err := r.attempts.Get(ctx, sessionID, questionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load attempt: %w", err)
	}

	now := r.now()
	a := &model.Attempt{
		SessionID:  sessionID,
		QuestionID: questionID,
		MockStatus: mockStatus(status),
		RecordedAt: now,
	}

	switch status {
	case model.MockViewed, model.MockMarkedForReview:
		a.Status = model.AttemptViewed
		if err := r.attempts.Upsert(ctx, a); err != nil {
			return nil, fmt.Errorf("clear response: %w", err)
		}

	case model.MockAnswered, model.MockAnsweredAndMarkedForReview:
		if prior == nil || prior.SelectedOptionID == nil {
			return nil, invalid("status", "question has no saved answer")
		}
		updated := *prior
		updated.MockStatus = a.MockStatus
		updated.RecordedAt = now
		if err := r.attempts.SetMockStatus(ctx, &updated); err != nil {
			return nil, fmt.Errorf("set mock status: %w", err)
		}
		a = &updated

	default:
		return nil, invalid("status", fmt.Sprintf("cannot set status %q", status))
	}

	if err := r.sessions.Touch(ctx, sessionID, now); err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to touch session")
	}
	return a, nil
}

func (r *AttemptRecorder) correctOption(ctx context.Context, questionID int64) (int64, bool, error) {
	keys, err := r.keys.CorrectOptions(ctx, []int64{questionID})
	if err != nil {
		return 0, false, fmt.Errorf("answer key: %w", err)
	}
	id, ok := keys[questionID]
	if !ok {
		r.log.Warn().Int64("question_id", questionID).Msg("question has no correct option, left ungraded")
	}
	return id, ok, nil
}

// markShown enqueues the revision exposure. Failures are logged only; the
// attempt itself is already stored.
func (r *AttemptRecorder) markShown(ctx context.Context, principalID int, questionID int64, at time.Time) {
	topicID, err := r.topics.TopicOf(ctx, questionID)
	if err != nil {
		r.log.Error().Err(err).Int64("question_id", questionID).Msg("failed to resolve topic for revision record")
		return
	}
	rec := model.RevisionRecord{
		PrincipalID: principalID,
		QuestionID:  questionID,
		TopicID:     topicID,
		ShownAt:     at,
	}
	if err := r.revisions.MarkShown(ctx, rec); err != nil {
		r.log.Error().Err(err).Int64("question_id", questionID).Msg("failed to mark revision exposure")
	}
}

// answeredStatus is the palette state after a new option is recorded.
func answeredStatus(prior *model.Attempt) *model.MockStatus {
	if prior != nil && prior.MockStatus != nil && prior.MockStatus.Marked() {
		return mockStatus(model.MockAnsweredAndMarkedForReview)
	}
	return mockStatus(model.MockAnswered)
}

// clearedStatus is the palette state after the response is dropped by a
// skip or expire. A saved answer never survives without its option.
func clearedStatus(prior *model.Attempt) *model.MockStatus {
	if prior != nil && prior.MockStatus != nil {
		switch *prior.MockStatus {
		case model.MockAnsweredAndMarkedForReview:
			return mockStatus(model.MockMarkedForReview)
		case model.MockAnswered, model.MockNotViewed:
			return mockStatus(model.MockViewed)
		default:
			return nil
		}
	}
	return mockStatus(model.MockViewed)
}

func mockStatus(s model.MockStatus) *model.MockStatus {
	return &s
}

// ownedSession loads a session and verifies the principal owns it.
func ownedSession(ctx context.Context, sessions SessionReader, principalID int, id uuid.UUID) (*model.PracticeSession, error) {
	sess, err := sessions.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !sess.OwnedBy(principalID) {
		return nil, ErrOwnershipMismatch
	}
	return sess, nil
}
