package browser

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/renewal/pkg/logging"
)

// Defaults for the capability profile.
const (
	DefaultViewportWidth  = 1920
	DefaultViewportHeight = 1080
	DefaultTimeout        = 30 * time.Second
)

// DefaultLaunchArgs keeps Chromium usable in containers.
var DefaultLaunchArgs = []string{
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-blink-features=AutomationControlled",
}

// PlaywrightConfig is the capability profile every session is created with.
type PlaywrightConfig struct {
	Headless bool
	// RemoteEndpoint connects to an already running browser server instead
	// of launching a local Chromium.
	RemoteEndpoint string
	Args           []string
	ViewportWidth  int
	ViewportHeight int
	// BlockResources lists request resource types to abort, e.g. "image".
	BlockResources []string
	DefaultTimeout time.Duration
	// Install downloads the browser driver on Initialize when missing.
	Install bool
}

// PlaywrightEngine launches one Chromium instance per session.
type PlaywrightEngine struct {
	mu          sync.Mutex
	cfg         PlaywrightConfig
	playwright  *playwright.Playwright
	sessions    map[string]*playwrightSession
	initialized bool
	log         *logging.Logger
}

// NewPlaywrightEngine creates an engine. Initialize must be called before
// sessions are created.
func NewPlaywrightEngine(cfg PlaywrightConfig, log *logging.Logger) *PlaywrightEngine {
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = DefaultViewportWidth
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = DefaultViewportHeight
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Args == nil {
		cfg.Args = DefaultLaunchArgs
	}
	return &PlaywrightEngine{
		cfg:      cfg,
		sessions: make(map[string]*playwrightSession),
		log:      log,
	}
}

// Initialize starts the playwright driver.
func (e *PlaywrightEngine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	// Driver output would interleave with CLI output.
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if e.cfg.Install {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("%w: failed to start playwright: %v", ErrUnavailable, err)
	}

	e.playwright = pw
	e.initialized = true
	return nil
}

// NewSession launches (or connects to) a browser, opens a context with the
// configured viewport and resource blocking, and returns its single page.
func (e *PlaywrightEngine) NewSession(ctx context.Context) (Session, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: engine not initialized", ErrUnavailable)
	}
	pw := e.playwright
	e.mu.Unlock()

	sess, err := call(ctx, func() (*playwrightSession, error) {
		return e.launch(pw)
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[sess.id] = sess
	e.mu.Unlock()

	e.log.Debugf("session %s created", sess.id)
	return sess, nil
}

func (e *PlaywrightEngine) launch(pw *playwright.Playwright) (*playwrightSession, error) {
	var (
		browser playwright.Browser
		err     error
	)
	if e.cfg.RemoteEndpoint != "" {
		browser, err = pw.Chromium.Connect(e.cfg.RemoteEndpoint)
	} else {
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(e.cfg.Headless),
			Args:     e.cfg.Args,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  e.cfg.ViewportWidth,
			Height: e.cfg.ViewportHeight,
		},
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if len(e.cfg.BlockResources) > 0 {
		blocked := e.cfg.BlockResources
		err = bctx.Route("**/*", func(route playwright.Route) {
			if slices.Contains(blocked, route.Request().ResourceType()) {
				_ = route.Abort()
				return
			}
			_ = route.Continue()
		})
		if err != nil {
			_ = bctx.Close()
			_ = browser.Close()
			return nil, fmt.Errorf("failed to install resource filter: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(e.cfg.DefaultTimeout.Milliseconds()))

	return &playwrightSession{
		id:        uuid.New().String(),
		engine:    e,
		browser:   browser,
		context:   bctx,
		page:      page,
		timeout:   e.cfg.DefaultTimeout,
		createdAt: time.Now(),
	}, nil
}

func (e *PlaywrightEngine) forget(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}

// Sessions reports how many sessions the engine is tracking.
func (e *PlaywrightEngine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Close terminates all tracked sessions and stops the driver.
func (e *PlaywrightEngine) Close() error {
	e.mu.Lock()
	sessions := make([]*playwrightSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized && e.playwright != nil {
		if err := e.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		e.initialized = false
	}
	return nil
}

type playwrightSession struct {
	id        string
	engine    *PlaywrightEngine
	browser   playwright.Browser
	context   playwright.BrowserContext
	page      playwright.Page
	timeout   time.Duration
	createdAt time.Time

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (s *playwrightSession) ID() string { return s.id }

// opTimeout bounds a single playwright call by ctx's deadline so the
// driver-side operation does not outlive the caller.
func (s *playwrightSession) opTimeout(ctx context.Context) *float64 {
	d := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (s *playwrightSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	_, err := call(ctx, func() (playwright.Response, error) {
		return s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   s.opTimeout(ctx),
		})
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) Count(ctx context.Context, selector string) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}
	return call(ctx, func() (int, error) {
		return s.page.Locator(selector).Count()
	})
}

func (s *playwrightSession) Click(ctx context.Context, selector string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
			Timeout: s.opTimeout(ctx),
		})
	})
	if err != nil {
		return &ElementError{Action: "click", Selector: selector, Err: err}
	}
	return nil
}

func (s *playwrightSession) Fill(ctx context.Context, selector, value string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, s.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
			Timeout: s.opTimeout(ctx),
		})
	})
	if err != nil {
		return &ElementError{Action: "fill", Selector: selector, Err: err}
	}
	return nil
}

func (s *playwrightSession) Press(ctx context.Context, selector, key string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, s.page.Locator(selector).First().Press(key, playwright.LocatorPressOptions{
			Timeout: s.opTimeout(ctx),
		})
	})
	if err != nil {
		return &ElementError{Action: "press", Selector: selector, Err: err}
	}
	return nil
}

func (s *playwrightSession) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	v, err := call(ctx, func() (any, error) {
		return s.page.Evaluate(script, arg)
	})
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return v, nil
}

func (s *playwrightSession) URL() string {
	if s.isClosed() {
		return ""
	}
	return s.page.URL()
}

// Probe reads the page title, which fails once the browser has crashed or
// the driver connection is gone.
func (s *playwrightSession) Probe(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if s.page.IsClosed() || !s.browser.IsConnected() {
		return fmt.Errorf("%w: browser disconnected", ErrSessionClosed)
	}
	_, err := call(ctx, func() (string, error) {
		return s.page.Title()
	})
	return err
}

// Close terminates the page, its context and the browser.
func (s *playwrightSession) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.page.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.context.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		s.engine.forget(s.id)
		s.engine.log.Debugf("session %s closed after %s", s.id, time.Since(s.createdAt).Round(time.Second))
	})
	if len(errs) > 0 {
		return fmt.Errorf("errors closing session %s: %v", s.id, errs)
	}
	return nil
}

// call runs a blocking driver call and returns early when ctx is done. The
// driver call itself keeps running until its own timeout fires.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
