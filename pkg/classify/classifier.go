// Package classify decides what happened after a renewal was submitted.
//
// The portal answers asynchronously and ambiguously: an error banner, a
// success message, a redirect to a receipt, or nothing at all. Classify polls
// those signals for a bounded time and reduces them to Success, Error or
// Timeout.
package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/renewal/pkg/browser"
	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/metrics"
	"github.com/entrhq/renewal/pkg/portal"
	"github.com/entrhq/renewal/pkg/types"
)

// Defaults
const (
	DefaultMaxIterations = 15
	DefaultInterval      = time.Second
	DefaultGraceDelay    = 3 * time.Second
)

// Classifier polls a session's page for the outcome of a submission.
type Classifier struct {
	profile     portal.Profile
	successURLs *portal.URLMatcher
	graceDelay  time.Duration
	log         *logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Classifier
type Option func(*Classifier)

// WithGraceDelay sets how long an option-not-selected banner is given to
// clear before it counts as an error.
func WithGraceDelay(d time.Duration) Option {
	return func(c *Classifier) {
		c.graceDelay = d
	}
}

// WithLogger sets the logger
func WithLogger(log *logging.Logger) Option {
	return func(c *Classifier) {
		c.log = log
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// New builds a classifier for profile. It fails only when the profile's
// success URL patterns do not compile.
func New(profile portal.Profile, opts ...Option) (*Classifier, error) {
	matcher, err := portal.NewURLMatcher(profile.SuccessURLs)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	c := &Classifier{
		profile:     profile,
		successURLs: matcher,
		graceDelay:  DefaultGraceDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify polls s once per interval, up to maxIterations times, and returns
// as soon as a terminal signal is seen. It never runs longer than
// maxIterations*interval; a cancelled ctx ends polling early and falls
// through to the final location check.
func (c *Classifier) Classify(ctx context.Context, s browser.Session, maxIterations int, interval time.Duration) types.ValidationOutcome {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(maxIterations)*interval)
	defer cancel()

	outcome := c.poll(ctx, s, maxIterations, interval)
	c.metrics.Classified(string(outcome.Status()), string(outcome.Category()), outcome.Iterations())
	c.log.Infof("classified submission: %s", outcome)
	return outcome
}

func (c *Classifier) poll(ctx context.Context, s browser.Session, maxIterations int, interval time.Duration) types.ValidationOutcome {
	iteration := 0
	for iteration < maxIterations {
		iteration++

		if outcome, ok := c.check(ctx, s, iteration); ok {
			return outcome
		}
		if iteration == maxIterations || !sleep(ctx, interval) {
			break
		}
	}

	// Nothing conclusive; judge by where the page ended up.
	url := s.URL()
	if url != "" && !c.profile.InPortalView(url) {
		return types.NewSuccessOutcome("left the submission flow: "+url, iteration)
	}
	return types.NewTimeoutOutcome("no outcome signal observed", iteration)
}

// check runs one poll iteration. Signals are read in priority order: error
// banner, success message, success location.
func (c *Classifier) check(ctx context.Context, s browser.Session, iteration int) (types.ValidationOutcome, bool) {
	banner := c.readString(ctx, s, portal.ScriptReadErrorBanner, map[string]any{
		"alert":   portal.SelErrorAlert,
		"message": portal.SelErrorMessage,
	})
	if banner != "" {
		if !c.profile.IsOptionNotSelected(banner) {
			category, code := c.profile.Categorize(banner)
			return types.NewErrorOutcome(category, code, banner, iteration), true
		}
		if !c.transientBanner(ctx, s, banner) {
			return types.NewErrorOutcome(types.CategoryOptionNotSelected, portal.ExtractErrorCode(banner), banner, iteration), true
		}
	}

	if msg := c.readString(ctx, s, portal.ScriptReadSuccessBanner, map[string]any{
		"panel":   portal.SelSuccessPanel,
		"markers": portal.SuccessMarkers,
		"context": portal.SuccessContext,
	}); msg != "" {
		return types.NewSuccessOutcome(msg, iteration), true
	}

	if visible, err := browser.EvaluateBool(ctx, s, portal.ScriptIsVisible, portal.SelContinueValidation); err == nil && visible {
		return types.NewSuccessOutcome("continue button shown", iteration), true
	}

	if pattern := c.successURLs.Match(s.URL()); pattern != "" {
		return types.NewSuccessOutcome("success location "+pattern, iteration), true
	}

	return types.ValidationOutcome{}, false
}

// transientBanner waits out the grace delay and reports whether the page has
// since moved past the submission view.
func (c *Classifier) transientBanner(ctx context.Context, s browser.Session, banner string) bool {
	c.log.Debugf("option-not-selected banner seen, re-checking in %s: %s", c.graceDelay, banner)
	sleep(ctx, c.graceDelay)

	url := s.URL()
	if !c.profile.InSubmissionView(url) || c.successURLs.Match(url) != "" {
		c.log.Infof("discarding transient banner, page moved to %s", url)
		return true
	}
	return false
}

func (c *Classifier) readString(ctx context.Context, s browser.Session, script string, arg any) string {
	text, err := browser.EvaluateString(ctx, s, script, arg)
	if err != nil {
		c.log.Debugf("poll script failed: %v", err)
		return ""
	}
	return text
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
