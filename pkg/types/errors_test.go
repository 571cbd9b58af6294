package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	sub := &SubmissionError{Category: CategoryInsufficientBalance, Code: "DTA-1009", Message: "Solde insuffisant"}

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, CategoryNone},
		{"submission", sub, CategoryInsufficientBalance},
		{"wrapped submission", &StageError{Stage: "classify", Err: sub}, CategoryInsufficientBalance},
		{"not found", fmt.Errorf("%w: 123", ErrSubscriberNotFound), CategorySubscriberNotFound},
		{"other", ErrLoginTimeout, CategoryNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	err := &StageError{Stage: "configure_offer", Err: &ValidationError{Field: "option", Reason: "bad"}}
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "configure_offer: invalid option: bad", err.Error())

	sub := &SubmissionError{Category: CategoryInsufficientBalance, Code: "DTA-1009", Message: "Solde insuffisant"}
	assert.ErrorIs(t, sub, ErrSubmission)
	assert.Contains(t, sub.Error(), "DTA-1009")
}

func TestCredentialStringHidesSecret(t *testing.T) {
	c := Credential{Username: "agent01", Secret: "s3cret"}
	assert.Equal(t, "agent01:***", c.String())
	assert.NotContains(t, fmt.Sprint(c), "s3cret")
}
