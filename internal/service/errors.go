package service

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-practice/internal/model"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrScopeViolation        = errors.New("criterion outside principal scope")
	ErrNoQuestionsFound      = errors.New("no questions found")
	ErrInsufficientQuestions = errors.New("insufficient questions")
	ErrAccessDenied          = errors.New("access denied")
	ErrSessionNotFound       = errors.New("session not found")
	ErrOwnershipMismatch     = errors.New("session not owned by principal")
	ErrInvalidTransition     = errors.New("invalid session state transition")
	ErrQuestionNotInSession  = errors.New("question not part of session")
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AccessDeniedError is returned when the entitlement gate refuses access.
// All reasons deny identically; Reason is for user messaging.
type AccessDeniedError struct {
	Reason model.DenyReason
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + string(e.Reason)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }
