package types

import "fmt"

// OutcomeStatus is the terminal status produced by the outcome classifier.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
	OutcomeTimeout OutcomeStatus = "timeout"
)

// ErrorCategory is a recognized failure reason extracted from a portal error
// banner.
type ErrorCategory string

const (
	CategoryNone                ErrorCategory = ""
	CategoryInsufficientBalance ErrorCategory = "insufficient_balance"
	CategorySubscriberNotFound  ErrorCategory = "subscriber_not_found"
	CategoryOptionNotSelected   ErrorCategory = "option_not_selected"
	CategoryUnknown             ErrorCategory = "unknown"
)

// ValidationOutcome is the immutable result of classifying a submission.
type ValidationOutcome struct {
	status     OutcomeStatus
	message    string
	iterations int
	category   ErrorCategory
	code       string
}

// NewSuccessOutcome builds a Success outcome.
func NewSuccessOutcome(message string, iterations int) ValidationOutcome {
	return ValidationOutcome{status: OutcomeSuccess, message: message, iterations: iterations}
}

// NewErrorOutcome builds an Error outcome. code is the raw portal code and
// may be empty.
func NewErrorOutcome(category ErrorCategory, code, message string, iterations int) ValidationOutcome {
	if category == CategoryNone {
		category = CategoryUnknown
	}
	return ValidationOutcome{
		status:     OutcomeError,
		message:    message,
		iterations: iterations,
		category:   category,
		code:       code,
	}
}

// NewTimeoutOutcome builds a Timeout outcome.
func NewTimeoutOutcome(message string, iterations int) ValidationOutcome {
	return ValidationOutcome{status: OutcomeTimeout, message: message, iterations: iterations}
}

func (o ValidationOutcome) Status() OutcomeStatus   { return o.status }
func (o ValidationOutcome) Message() string         { return o.message }
func (o ValidationOutcome) Iterations() int         { return o.iterations }
func (o ValidationOutcome) Category() ErrorCategory { return o.category }
func (o ValidationOutcome) Code() string            { return o.code }

func (o ValidationOutcome) String() string {
	if o.status == OutcomeError {
		return fmt.Sprintf("%s[%s %s] after %d polls: %s", o.status, o.category, o.code, o.iterations, o.message)
	}
	return fmt.Sprintf("%s after %d polls: %s", o.status, o.iterations, o.message)
}
