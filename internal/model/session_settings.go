package model

import (
	"encoding/json"
	"fmt"
)

// PracticeMode selects the question-pool algorithm of a session.
type PracticeMode string

const (
	ModeNormal      PracticeMode = "normal"
	ModeSection     PracticeMode = "section"
	ModeRevision    PracticeMode = "revision"
	ModeMock        PracticeMode = "mock"
	ModeIncorrect   PracticeMode = "incorrect"
	ModeReviewLater PracticeMode = "review_later"
)

// Valid reports whether m is a known mode.
func (m PracticeMode) Valid() bool {
	switch m {
	case ModeNormal, ModeSection, ModeRevision, ModeMock, ModeIncorrect, ModeReviewLater:
		return true
	}
	return false
}

// MockStrategy controls how a mock test spreads questions across topics.
type MockStrategy string

const (
	StrategyEqual  MockStrategy = "equal"
	StrategyRandom MockStrategy = "random"
)

// IncorrectVariant selects which incorrectly answered questions are replayed.
type IncorrectVariant string

const (
	IncorrectEver         IncorrectVariant = "ever_incorrect"
	IncorrectNeverCorrect IncorrectVariant = "never_correct"
)

// SelectionFilters are the caller-supplied pool filters.
type SelectionFilters struct {
	SubjectIDs       []int64 `json:"subject_ids,omitempty"`
	TopicIDs         []int64 `json:"topic_ids,omitempty"`
	PreviousYearOnly bool    `json:"previous_year_only,omitempty"`
	ExcludeAnswered  bool    `json:"exclude_answered,omitempty"`
}

// Scoring holds the marks applied at finalization.
type Scoring struct {
	MarksCorrect   float64 `json:"marks_correct"`
	MarksIncorrect float64 `json:"marks_incorrect"`
}

// Timer describes the session clock. DurationSeconds 0 means untimed.
type Timer struct {
	Enabled         bool `json:"enabled"`
	DurationSeconds int  `json:"duration_seconds"`
}

// CourseLink ties a session to a course item.
type CourseLink struct {
	CourseID int64  `json:"course_id"`
	ItemID   *int64 `json:"item_id,omitempty"`
}

// ModeExtras is the mode-specific part of the settings snapshot.
type ModeExtras interface {
	Mode() PracticeMode
}

type NormalExtras struct{}

func (NormalExtras) Mode() PracticeMode { return ModeNormal }

type SectionExtras struct {
	SectionID int64 `json:"section_id"`
}

func (SectionExtras) Mode() PracticeMode { return ModeSection }

type RevisionExtras struct {
	PerTopic int  `json:"per_topic"`
	Random   bool `json:"random"`
}

func (RevisionExtras) Mode() PracticeMode { return ModeRevision }

type MockExtras struct {
	Strategy       MockStrategy `json:"strategy"`
	TotalQuestions int          `json:"total_questions"`
}

func (MockExtras) Mode() PracticeMode { return ModeMock }

type IncorrectExtras struct {
	Variant IncorrectVariant `json:"variant"`
}

func (IncorrectExtras) Mode() PracticeMode { return ModeIncorrect }

type ReviewLaterExtras struct{}

func (ReviewLaterExtras) Mode() PracticeMode { return ModeReviewLater }

// NewExtras returns an empty extras value for the mode, ready for decoding.
func NewExtras(mode PracticeMode) (ModeExtras, error) {
	switch mode {
	case ModeNormal:
		return &NormalExtras{}, nil
	case ModeSection:
		return &SectionExtras{}, nil
	case ModeRevision:
		return &RevisionExtras{}, nil
	case ModeMock:
		return &MockExtras{}, nil
	case ModeIncorrect:
		return &IncorrectExtras{}, nil
	case ModeReviewLater:
		return &ReviewLaterExtras{}, nil
	}
	return nil, fmt.Errorf("unknown practice mode %q", mode)
}

// SessionSettings is the immutable settings snapshot of a session.
// Scoring nil means the session is unscored.
type SessionSettings struct {
	Mode    PracticeMode
	Filters SelectionFilters
	Scoring *Scoring
	Timer   Timer
	Course  *CourseLink
	Extras  ModeExtras
}

type settingsJSON struct {
	Mode    PracticeMode     `json:"mode"`
	Filters SelectionFilters `json:"filters"`
	Scoring *Scoring         `json:"scoring,omitempty"`
	Timer   Timer            `json:"timer"`
	Course  *CourseLink      `json:"course,omitempty"`
	Extras  json.RawMessage  `json:"extras,omitempty"`
}

// MarshalJSON encodes the settings with the extras keyed by mode.
func (s SessionSettings) MarshalJSON() ([]byte, error) {
	extras := s.Extras
	if extras == nil {
		var err error
		if extras, err = NewExtras(s.Mode); err != nil {
			return nil, err
		}
	}
	if extras.Mode() != s.Mode {
		return nil, fmt.Errorf("extras for mode %q attached to %q settings", extras.Mode(), s.Mode)
	}
	raw, err := json.Marshal(extras)
	if err != nil {
		return nil, err
	}
	return json.Marshal(settingsJSON{
		Mode:    s.Mode,
		Filters: s.Filters,
		Scoring: s.Scoring,
		Timer:   s.Timer,
		Course:  s.Course,
		Extras:  raw,
	})
}

// UnmarshalJSON decodes the extras into the variant named by mode.
func (s *SessionSettings) UnmarshalJSON(data []byte) error {
	var raw settingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extras, err := NewExtras(raw.Mode)
	if err != nil {
		return err
	}
	if len(raw.Extras) > 0 && string(raw.Extras) != "null" {
		if err := json.Unmarshal(raw.Extras, extras); err != nil {
			return fmt.Errorf("decode %s extras: %w", raw.Mode, err)
		}
	}
	*s = SessionSettings{
		Mode:    raw.Mode,
		Filters: raw.Filters,
		Scoring: raw.Scoring,
		Timer:   raw.Timer,
		Course:  raw.Course,
		Extras:  extras,
	}
	return nil
}

// Section returns the section extras, or nil for other modes.
func (s SessionSettings) Section() *SectionExtras {
	switch e := s.Extras.(type) {
	case *SectionExtras:
		return e
	case SectionExtras:
		return &e
	}
	return nil
}

// Revision returns the revision extras, or nil for other modes.
func (s SessionSettings) Revision() *RevisionExtras {
	switch e := s.Extras.(type) {
	case *RevisionExtras:
		return e
	case RevisionExtras:
		return &e
	}
	return nil
}

// Mock returns the mock-test extras, or nil for other modes.
func (s SessionSettings) Mock() *MockExtras {
	switch e := s.Extras.(type) {
	case *MockExtras:
		return e
	case MockExtras:
		return &e
	}
	return nil
}

// Incorrect returns the incorrect-replay extras, or nil for other modes.
func (s SessionSettings) Incorrect() *IncorrectExtras {
	switch e := s.Extras.(type) {
	case *IncorrectExtras:
		return e
	case IncorrectExtras:
		return &e
	}
	return nil
}

// CourseID returns the linked course, if any.
func (s SessionSettings) CourseID() *int64 {
	if s.Course == nil {
		return nil
	}
	id := s.Course.CourseID
	return &id
}
