package types

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("invalid renewal request")
	ErrAcquisitionTimeout    = errors.New("no automation session available")
	ErrLoginTimeout          = errors.New("portal login not confirmed")
	ErrSubscriberNotFound    = errors.New("subscriber not found")
	ErrFormInteraction       = errors.New("form interaction failed")
	ErrSubmission            = errors.New("portal rejected submission")
	ErrClassificationTimeout = errors.New("submission outcome not confirmed")
	ErrNoCredential          = errors.New("no active portal credential")
	ErrPoolClosed            = errors.New("session pool closed")
)

// ValidationError reports a request rejected before any session is used.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SubmissionError carries the category the classifier mapped a portal error to.
type SubmissionError struct {
	Category ErrorCategory
	Code     string
	Message  string
}

func (e *SubmissionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("submission rejected (%s, %s): %s", e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("submission rejected (%s): %s", e.Category, e.Message)
}

func (e *SubmissionError) Unwrap() error { return ErrSubmission }

// StageError records which workflow stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// CategoryOf returns the error category carried by err, or CategoryNone.
func CategoryOf(err error) ErrorCategory {
	var se *SubmissionError
	switch {
	case err == nil:
		return CategoryNone
	case errors.As(err, &se):
		return se.Category
	case errors.Is(err, ErrSubscriberNotFound):
		return CategorySubscriberNotFound
	default:
		return CategoryNone
	}
}
