package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates practice session states.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
)

// EndReason records why a session was finalized.
type EndReason string

const (
	EndReasonUserSubmitted EndReason = "user_submitted"
	EndReasonTimerExpired  EndReason = "timer_expired"
)

// PracticeSession represents one practice or mock-test attempt container.
// Settings and QuestionIDs are snapshots fixed at creation.
type PracticeSession struct {
	ID             uuid.UUID       `json:"id"`
	PrincipalID    int             `json:"principal_id"`
	Status         SessionStatus   `json:"status"`
	IsMock         bool            `json:"is_mock"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	DeadlineAt     *time.Time      `json:"deadline_at,omitempty"`
	Settings       SessionSettings `json:"settings"`
	QuestionIDs    []int64         `json:"question_ids"`
	Result         *SessionResult  `json:"result,omitempty"`
}

// OwnedBy reports whether the session belongs to the principal.
func (s *PracticeSession) OwnedBy(principalID int) bool {
	return s.PrincipalID == principalID
}

// Contains reports whether the question is part of the session snapshot.
func (s *PracticeSession) Contains(questionID int64) bool {
	for _, id := range s.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// SessionResult holds the aggregated fields populated at finalization.
type SessionResult struct {
	TotalAttempted int       `json:"total_attempted"`
	CorrectCount   int       `json:"correct_count"`
	IncorrectCount int       `json:"incorrect_count"`
	SkippedCount   int       `json:"skipped_count"`
	MarksObtained  *float64  `json:"marks_obtained,omitempty"`
	EndReason      EndReason `json:"end_reason"`
}

// PauseInterval is one pause of a session. ResumedAt is nil while open.
type PauseInterval struct {
	ID        int64      `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	PausedAt  time.Time  `json:"paused_at"`
	ResumedAt *time.Time `json:"resumed_at,omitempty"`
}

// Open reports whether the interval has not been resumed yet.
func (p PauseInterval) Open() bool {
	return p.ResumedAt == nil
}

// CreateSessionRequest is the payload for starting a practice session.
type CreateSessionRequest struct {
	Mode             string   `json:"mode" binding:"required,practice_mode"`
	SubjectIDs       []int64  `json:"subject_ids" binding:"omitempty,dive,min=1"`
	TopicIDs         []int64  `json:"topic_ids" binding:"omitempty,dive,min=1"`
	PreviousYearOnly bool     `json:"previous_year_only"`
	ExcludeAnswered  bool     `json:"exclude_answered"`
	MarksCorrect     *float64 `json:"marks_correct" binding:"omitempty"`
	MarksIncorrect   *float64 `json:"marks_incorrect" binding:"omitempty"`
	Unscored         bool     `json:"unscored"`
	TimerSeconds     int      `json:"timer_seconds" binding:"min=0,max=86400"`
	CourseID         *int64   `json:"course_id" binding:"omitempty,min=1"`
	CourseItemID     *int64   `json:"course_item_id" binding:"omitempty,min=1"`

	SectionID      int64  `json:"section_id" binding:"omitempty,min=1"`
	PerTopic       int    `json:"per_topic" binding:"omitempty,min=1,max=500"`
	RandomRevision bool   `json:"random_revision"`
	Strategy       string `json:"strategy" binding:"omitempty,mock_strategy"`
	TotalQuestions int    `json:"total_questions" binding:"omitempty,min=1,max=1000"`
	Variant        string `json:"variant" binding:"omitempty,oneof=ever_incorrect never_correct"`
}

// FinalizeSessionRequest is the payload for ending a session.
type FinalizeSessionRequest struct {
	EndReason string `json:"end_reason" binding:"omitempty,oneof=user_submitted timer_expired"`
}

// SessionState is the reload view of a session.
// RemainingSeconds is only set for mock tests.
type SessionState struct {
	Session          *PracticeSession `json:"session"`
	ElapsedSeconds   int64            `json:"elapsed_seconds"`
	RemainingSeconds *int64           `json:"remaining_seconds,omitempty"`
	Attempts         []Attempt        `json:"attempts"`
	Pauses           []PauseInterval  `json:"pauses"`
}

// FinalizeOutcome is either a summary or the no-attempts result.
type FinalizeOutcome struct {
	NoAttempts bool           `json:"no_attempts"`
	Summary    *SessionResult `json:"summary,omitempty"`
}
