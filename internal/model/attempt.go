package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus is the state of the latest event recorded for a question.
type AttemptStatus string

const (
	AttemptAnswered AttemptStatus = "answered"
	AttemptSkipped  AttemptStatus = "skipped"
	AttemptExpired  AttemptStatus = "expired"
	AttemptViewed   AttemptStatus = "viewed"
)

// MockStatus is the question palette state shown in the mock-test UI.
type MockStatus string

const (
	MockNotViewed                  MockStatus = "not_viewed"
	MockViewed                     MockStatus = "viewed"
	MockAnswered                   MockStatus = "answered"
	MockMarkedForReview            MockStatus = "marked_for_review"
	MockAnsweredAndMarkedForReview MockStatus = "answered_and_marked_for_review"
)

// Marked reports whether the status carries a review mark.
func (m MockStatus) Marked() bool {
	return m == MockMarkedForReview || m == MockAnsweredAndMarkedForReview
}

// EventKind is the kind of attempt event sent by the client.
type EventKind string

const (
	// EventCheck is a graded answer ("check answer").
	EventCheck EventKind = "check"
	// EventSave is a provisional mock-test answer, graded at finalization.
	EventSave   EventKind = "save"
	EventSkip   EventKind = "skip"
	EventExpire EventKind = "expire"
	EventView   EventKind = "view"
)

// Attempt is the single live row for a (session, question) pair.
// Correct is nil while ungraded.
type Attempt struct {
	SessionID        uuid.UUID     `json:"session_id"`
	QuestionID       int64         `json:"question_id"`
	SelectedOptionID *int64        `json:"selected_option_id,omitempty"`
	Correct          *bool         `json:"correct,omitempty"`
	Status           AttemptStatus `json:"status"`
	MockStatus       *MockStatus   `json:"mock_status,omitempty"`
	RemainingSeconds *int          `json:"remaining_seconds,omitempty"`
	RecordedAt       time.Time     `json:"recorded_at"`
}

// Terminal reports whether the attempt counts toward the attempted total.
func (a Attempt) Terminal() bool {
	switch a.Status {
	case AttemptAnswered, AttemptSkipped, AttemptExpired:
		return true
	}
	return false
}

// RecordAttemptRequest is the payload for recording an attempt event.
type RecordAttemptRequest struct {
	QuestionID       int64  `json:"question_id" binding:"required,min=1"`
	OptionID         *int64 `json:"option_id" binding:"omitempty,min=1"`
	Event            string `json:"event" binding:"required,oneof=check save skip expire view"`
	RemainingSeconds *int   `json:"remaining_seconds" binding:"omitempty,min=0"`
}

// UpdateMockStatusRequest is the payload for changing a mock palette state.
type UpdateMockStatusRequest struct {
	Status string `json:"status" binding:"required,mock_status"`
}
