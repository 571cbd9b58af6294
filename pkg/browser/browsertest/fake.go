// Package browsertest provides an in-memory browser.Engine for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/entrhq/renewal/pkg/browser"
)

// Engine is a fake browser.Engine handing out *Session values.
type Engine struct {
	mu       sync.Mutex
	created  []*Session
	closed   bool
	seq      atomic.Int64
	failures atomic.Int64

	// Setup runs on every new session before it is returned.
	Setup func(*Session)
	// Fail makes NewSession return an error while it is non-zero; each call
	// decrements it.
	Fail atomic.Int64
}

// NewEngine returns an Engine whose sessions are passed through setup.
func NewEngine(setup func(*Session)) *Engine {
	return &Engine{Setup: setup}
}

func (e *Engine) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Fail.Load() > 0 {
		e.Fail.Add(-1)
		e.failures.Add(1)
		return nil, errors.New("fake launch failure")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, browser.ErrUnavailable
	}
	e.mu.Unlock()

	s := NewSession(fmt.Sprintf("fake-%d", e.seq.Add(1)))
	if e.Setup != nil {
		e.Setup(s)
	}

	e.mu.Lock()
	e.created = append(e.created, s)
	e.mu.Unlock()
	return s, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	sessions := append([]*Session(nil), e.created...)
	e.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
	return nil
}

// Created returns every session the engine has handed out.
func (e *Engine) Created() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.created...)
}

// Live counts created sessions that are not closed.
func (e *Engine) Live() int {
	n := 0
	for _, s := range e.Created() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Failures counts NewSession calls that failed because of Fail.
func (e *Engine) Failures() int64 { return e.failures.Load() }

// Session is a scriptable fake page. Element presence is modelled as a
// selector → count table; behaviour on click and script evaluation is
// supplied by the test.
type Session struct {
	mu          sync.Mutex
	id          string
	url         string
	counts      map[string]int
	fills       map[string]string
	clicks      []string
	navigations []string
	probeErr    error
	closed      bool
	probes      int

	onClick    func(s *Session, selector string) error
	onEvaluate func(s *Session, script string, arg any) (any, error)
}

// NewSession returns a blank fake at about:blank.
func NewSession(id string) *Session {
	return &Session{
		id:     id,
		url:    "about:blank",
		counts: make(map[string]int),
		fills:  make(map[string]string),
	}
}

func (s *Session) ID() string { return s.id }

// OnClick installs a click handler. Handlers run without the session lock
// held and may mutate the session.
func (s *Session) OnClick(fn func(s *Session, selector string) error) {
	s.mu.Lock()
	s.onClick = fn
	s.mu.Unlock()
}

// OnEvaluate installs a script handler.
func (s *Session) OnEvaluate(fn func(s *Session, script string, arg any) (any, error)) {
	s.mu.Lock()
	s.onEvaluate = fn
	s.mu.Unlock()
}

// SetURL changes the current location.
func (s *Session) SetURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

// Show makes selector match n elements; n of 0 hides it.
func (s *Session) Show(selector string, n int) {
	s.mu.Lock()
	if n <= 0 {
		delete(s.counts, selector)
	} else {
		s.counts[selector] = n
	}
	s.mu.Unlock()
}

// Hide removes selector.
func (s *Session) Hide(selector string) { s.Show(selector, 0) }

// SetProbeError makes Probe fail with err (nil restores health).
func (s *Session) SetProbeError(err error) {
	s.mu.Lock()
	s.probeErr = err
	s.mu.Unlock()
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.url = url
	s.navigations = append(s.navigations, url)
	s.mu.Unlock()
	return nil
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[selector], nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	present := s.counts[selector] > 0
	s.clicks = append(s.clicks, selector)
	fn := s.onClick
	s.mu.Unlock()

	if !present {
		return &browser.ElementError{Action: "click", Selector: selector, Err: errors.New("no such element")}
	}
	if fn != nil {
		return fn(s, selector)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[selector] == 0 {
		return &browser.ElementError{Action: "fill", Selector: selector, Err: errors.New("no such element")}
	}
	s.fills[selector] = value
	return nil
}

// Press is recorded in Clicks as "selector@key" and reaches the click
// handler under that name.
func (s *Session) Press(ctx context.Context, selector, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	name := selector + "@" + key
	s.mu.Lock()
	present := s.counts[selector] > 0
	s.clicks = append(s.clicks, name)
	fn := s.onClick
	s.mu.Unlock()

	if !present {
		return &browser.ElementError{Action: "press", Selector: selector, Err: errors.New("no such element")}
	}
	if fn != nil {
		return fn(s, name)
	}
	return nil
}

func (s *Session) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	fn := s.onEvaluate
	s.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(s, script, arg)
}

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Probe(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return s.probeErr
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSessionClosed
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Clicks returns the selectors clicked so far, in order.
func (s *Session) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// Filled returns the last value filled into selector.
func (s *Session) Filled(selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fills[selector]
}

// Navigations returns every URL passed to Navigate.
func (s *Session) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Probes counts Probe calls.
func (s *Session) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}
