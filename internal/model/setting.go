package model

import "time"

// AppSetting represents a key-value pair for global application configuration.
type AppSetting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting keys that override the practice defaults.
const (
	SettingQuestionOrder         = "practice.question_order"
	SettingDefaultMarksCorrect   = "practice.marks_correct"
	SettingDefaultMarksIncorrect = "practice.marks_incorrect"
	SettingRevisionPerTopic      = "practice.revision_per_topic"
)

// QuestionOrder is the global ordering preference for normal practice.
type QuestionOrder string

const (
	OrderRandom    QuestionOrder = "random"
	OrderAscending QuestionOrder = "ordered"
)

// PracticePreferences are the resolved global practice settings.
// They are passed explicitly into the selector and session manager.
type PracticePreferences struct {
	QuestionOrder         QuestionOrder `json:"question_order"`
	DefaultMarksCorrect   float64       `json:"default_marks_correct"`
	DefaultMarksIncorrect float64       `json:"default_marks_incorrect"`
	RevisionPerTopic      int           `json:"revision_per_topic"`
}
