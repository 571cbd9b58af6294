// Package browser defines the automation engine the renewal workflow drives
// and provides a playwright-go implementation of it.
//
// Everything above this package talks to Engine and Session only, so the
// pool, the workflow and the classifier can be exercised against an
// in-memory fake.
package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnavailable   = errors.New("automation engine unavailable")
	ErrSessionClosed = errors.New("automation session closed")
	ErrWaitTimeout   = errors.New("wait timed out")
)

// Engine creates automation sessions bound to one capability profile.
type Engine interface {
	// NewSession starts a fresh browser instance. The caller owns the
	// returned session and must Close it.
	NewSession(ctx context.Context) (Session, error)

	// Close terminates every session the engine still tracks and releases
	// the engine itself.
	Close() error
}

// Session is one running browser instance with a single page.
//
// Selector arguments use the engine's selector syntax. A Session is not safe
// for concurrent use by several workflows; the pool guarantees exclusive
// lending.
type Session interface {
	ID() string

	Navigate(ctx context.Context, url string) error
	// Count reports how many elements currently match selector.
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Press(ctx context.Context, selector, key string) error
	// Evaluate runs a script in the page. Scripts are function expressions
	// that receive arg as their only parameter.
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	// URL returns the page's current location.
	URL() string

	// Probe is a cheap liveness check.
	Probe(ctx context.Context) error
	Close() error
}

// ElementError reports a selector that could not be acted on.
type ElementError struct {
	Action   string
	Selector string
	Err      error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Action, e.Selector, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }
