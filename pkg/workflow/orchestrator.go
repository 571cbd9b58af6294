// Package workflow drives a renewal through the operator portal: log in,
// find the subscriber, fill the offer form, submit and classify the result.
//
// A renewal borrows one session from the pool for its whole duration. Every
// stage waits a bounded time for its signal; a stage that does not complete
// fails the renewal and the session is discarded. Nothing is retried as a
// whole here, retries belong to the caller.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/entrhq/renewal/pkg/browser"
	"github.com/entrhq/renewal/pkg/classify"
	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/metrics"
	"github.com/entrhq/renewal/pkg/normalize"
	"github.com/entrhq/renewal/pkg/notify"
	"github.com/entrhq/renewal/pkg/portal"
	"github.com/entrhq/renewal/pkg/types"
)

const tracerName = "github.com/entrhq/renewal/pkg/workflow"

// SessionPool lends automation sessions.
type SessionPool interface {
	Acquire(ctx context.Context, timeout time.Duration) (browser.Session, error)
	Release(s browser.Session)
	Discard(s browser.Session)
}

// CredentialSource returns the portal login to use for the next renewal.
type CredentialSource interface {
	ActiveCredential(ctx context.Context) (types.Credential, error)
}

// TransactionRecorder persists renewal results.
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, rec types.TransactionRecord) error
}

// TimeoutPolicy decides what an inconclusive classification means.
type TimeoutPolicy string

const (
	// TimeoutFail surfaces ErrClassificationTimeout.
	TimeoutFail TimeoutPolicy = "fail"
	// TimeoutAssumeSuccess reports the renewal as RenewalUnconfirmed.
	TimeoutAssumeSuccess TimeoutPolicy = "assume_success"
)

// Config bounds every wait of the workflow.
type Config struct {
	AcquireTimeout time.Duration
	LoginTimeout   time.Duration
	SearchTimeout  time.Duration
	FormTimeout    time.Duration
	// StepTimeout bounds waits for single controls (buttons, inputs).
	StepTimeout time.Duration
	// OptionalStepTimeout bounds waits for controls that may legitimately
	// be absent.
	OptionalStepTimeout time.Duration
	// SettleDelay lets the option list repopulate after the offer changes.
	SettleDelay  time.Duration
	PollInterval time.Duration

	ClassifyIterations int
	ClassifyInterval   time.Duration
	TimeoutPolicy      TimeoutPolicy

	// BackgroundTimeout bounds recording and notification deliveries.
	BackgroundTimeout time.Duration
}

// DefaultConfig returns the timings used against the production portal.
func DefaultConfig() Config {
	return Config{
		AcquireTimeout:      2 * time.Second,
		LoginTimeout:        15 * time.Second,
		SearchTimeout:       15 * time.Second,
		FormTimeout:         10 * time.Second,
		StepTimeout:         10 * time.Second,
		OptionalStepTimeout: 3 * time.Second,
		SettleDelay:         time.Second,
		PollInterval:        browser.DefaultPollInterval,
		ClassifyIterations:  classify.DefaultMaxIterations,
		ClassifyInterval:    classify.DefaultInterval,
		TimeoutPolicy:       TimeoutFail,
		BackgroundTimeout:   30 * time.Second,
	}
}

// Orchestrator runs renewals and subscriber lookups.
type Orchestrator struct {
	pool        SessionPool
	normalizer  *normalize.Normalizer
	credentials CredentialSource
	classifier  *classify.Classifier
	profile     portal.Profile
	loginURLs   *portal.URLMatcher

	recorder TransactionRecorder
	notifier notify.Notifier
	log      *logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	cfg      Config

	background sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder sets where transaction records go
func WithRecorder(r TransactionRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithNotifier sets the event sink
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithConfig replaces the default timings
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// New wires an orchestrator. pool, normalizer, credentials and classifier
// are required.
func New(pool SessionPool, normalizer *normalize.Normalizer, credentials CredentialSource, classifier *classify.Classifier, profile portal.Profile, opts ...Option) (*Orchestrator, error) {
	if pool == nil || normalizer == nil || credentials == nil || classifier == nil {
		panic("workflow: nil collaborator")
	}
	loginURLs, err := portal.NewURLMatcher(profile.LoginURLs)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}

	o := &Orchestrator{
		pool:        pool,
		normalizer:  normalizer,
		credentials: credentials,
		classifier:  classifier,
		profile:     profile,
		loginURLs:   loginURLs,
		notifier:    notify.Nop{},
		cfg:         DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.cfg.TimeoutPolicy == "" {
		o.cfg.TimeoutPolicy = TimeoutFail
	}
	return o, nil
}

// Wait blocks until pending recordings and notifications are delivered.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// Renew normalizes and validates req, then drives the portal with a borrowed
// session. Invalid requests are rejected before any session is acquired.
func (o *Orchestrator) Renew(ctx context.Context, req types.RenewalRequest) (*types.RenewalOutcome, error) {
	start := time.Now()
	nreq := o.normalizer.Normalize(req)
	if err := o.normalizer.Validate(nreq); err != nil {
		o.metrics.RenewalFinished("rejected", time.Since(start))
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "renewal.renew", trace.WithAttributes(
		attribute.String("renewal.subscriber", nreq.SubscriberID),
		attribute.String("renewal.offer", nreq.Offer),
		attribute.String("renewal.duration", nreq.Duration),
		attribute.String("renewal.option", nreq.Option),
	))
	defer span.End()

	r := o.newRun(nreq)
	r.log.Infof("[%s] renewal of %s: %s %s option %s (scripts %s)",
		r.id, nreq.SubscriberID, nreq.Offer, nreq.Duration, nreq.Option, portal.ScriptVersion)

	outcome, err := r.renew(ctx)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RenewalFinished(string(types.RenewalFailed), elapsed)
		r.log.Errorf("[%s] renewal of %s failed after %s: %v", r.id, nreq.SubscriberID, elapsed.Round(time.Millisecond), err)
		o.record(r, nil, err, elapsed)
		o.emit(r.errorEvent(err))
		return nil, err
	}

	outcome.Elapsed = elapsed
	span.SetAttributes(attribute.String("renewal.status", string(outcome.Status)))
	o.metrics.RenewalFinished(string(outcome.Status), elapsed)
	r.log.Infof("[%s] renewal of %s finished: %s in %s", r.id, nreq.SubscriberID, outcome.Status, elapsed.Round(time.Millisecond))
	o.record(r, outcome, nil, elapsed)
	o.emit(r.successEvent(outcome))
	return outcome, nil
}

// LookupSubscriber logs in, searches for id and returns the parsed subscriber
// panels.
func (o *Orchestrator) LookupSubscriber(ctx context.Context, id string) ([]types.SubscriberInfo, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &types.ValidationError{Field: "subscriber_id", Reason: "must not be empty"}
	}

	ctx, span := o.tracer.Start(ctx, "renewal.lookup", trace.WithAttributes(
		attribute.String("renewal.subscriber", id),
	))
	defer span.End()

	r := o.newRun(types.NormalizedRequest{SubscriberID: id})
	infos, err := r.lookup(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("renewal.panels", len(infos)))
	return infos, nil
}

func (o *Orchestrator) newRun(req types.NormalizedRequest) *run {
	return &run{
		o:     o,
		id:    uuid.NewString()[:8],
		req:   req,
		cfg:   o.cfg,
		log:   o.log,
		state: StateInit,
	}
}

// record hands the attempt to the recorder in the background.
func (o *Orchestrator) record(r *run, outcome *types.RenewalOutcome, failure error, elapsed time.Duration) {
	if o.recorder == nil {
		return
	}
	rec := types.TransactionRecord{
		DecoderNumber:    r.req.SubscriberID,
		PackageID:        portal.OfferValue(r.req.Offer),
		OptionID:         portal.OptionValue(r.req.Offer, r.req.Option),
		DurationID:       fmt.Sprint(normalize.Months(r.req.Duration)),
		Status:           string(types.RenewalFailed),
		PortalUsername:   r.cred.Username,
		ProcessingTimeMs: elapsed.Milliseconds(),
		CreatedAt:        time.Now(),
	}
	if r.amount != nil {
		rec.AmountGNF = *r.amount
	}
	if outcome != nil {
		rec.Status = string(outcome.Status)
		rec.ReferenceNumber = outcome.ReferenceID
	}
	if failure != nil {
		rec.ErrorMessage = failure.Error()
	}

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.BackgroundTimeout)
		defer cancel()
		if err := o.recorder.RecordTransaction(ctx, rec); err != nil {
			o.log.Warnf("[%s] recording transaction failed: %v", r.id, err)
		}
	}()
}

// emit delivers an event in the background; failures are only logged.
func (o *Orchestrator) emit(ev notify.Event) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.BackgroundTimeout)
		defer cancel()
		if err := o.notifier.Notify(ctx, ev); err != nil {
			o.log.Warnf("[%s] %s notification failed: %v", ev.RenewalID, ev.Type, err)
		}
	}()
}

// stage runs one transition under its own span. A failing transition is
// wrapped in a StageError naming the state it was heading for.
func (r *run) stage(ctx context.Context, next State, fn func(context.Context) error) error {
	ctx, span := r.o.tracer.Start(ctx, "renewal.stage."+next.String())
	defer span.End()

	r.o.emit(r.progressEvent(next))
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.o.metrics.StageFailed(next.String())
		return &types.StageError{Stage: next.String(), Err: err}
	}
	r.log.Debugf("[%s] %s -> %s", r.id, r.state, next)
	r.state = next
	return nil
}

func (r *run) acquire(ctx context.Context) error {
	cred, err := r.o.credentials.ActiveCredential(ctx)
	if err != nil {
		if !errors.Is(err, types.ErrNoCredential) {
			err = fmt.Errorf("%w: %v", types.ErrNoCredential, err)
		}
		return &types.StageError{Stage: "credential", Err: err}
	}
	r.cred = cred

	s, err := r.o.pool.Acquire(ctx, r.cfg.AcquireTimeout)
	if err != nil {
		return &types.StageError{Stage: "acquire", Err: err}
	}
	r.session = s
	r.log.Debugf("[%s] using session %s as %s", r.id, s.ID(), cred)
	return nil
}

// finish returns the session on success and discards it otherwise.
func (r *run) finish(err error) {
	if r.session == nil {
		return
	}
	if err != nil {
		r.o.pool.Discard(r.session)
	} else {
		r.o.pool.Release(r.session)
	}
	r.session = nil
}
