// Package pool lends browser sessions to renewal workflows.
//
// The pool keeps up to Capacity idle sessions. Sessions are probed before
// they are lent and when they come back; unhealthy ones are terminated and
// replaced in the background. A separate creation budget (MaxLive) bounds
// how many browser instances may exist at once, idle and lent together.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/entrhq/renewal/pkg/browser"
	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/metrics"
	"github.com/entrhq/renewal/pkg/types"
)

// Defaults
const (
	DefaultCapacity            = 10
	DefaultWarmSize            = 5
	DefaultMaintenanceInterval = 30 * time.Second
	DefaultProbeTimeout        = 5 * time.Second
	DefaultCreateTimeout       = 60 * time.Second
	DefaultWarmConcurrency     = 2
)

// Config sizes the pool.
type Config struct {
	// Capacity is the maximum number of idle sessions.
	Capacity int
	// WarmSize is the number of idle sessions the pool keeps ready.
	WarmSize int
	// MaxLive bounds idle, lent and starting sessions together.
	MaxLive int

	MaintenanceInterval time.Duration
	ProbeTimeout        time.Duration
	CreateTimeout       time.Duration

	// CreateRate limits how fast new browsers are started.
	CreateRate  rate.Limit
	CreateBurst int
	// WarmConcurrency is how many sessions warm-up starts in parallel.
	WarmConcurrency int
}

func (c *Config) setDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.WarmSize < 0 {
		c.WarmSize = 0
	}
	if c.WarmSize > c.Capacity {
		c.WarmSize = c.Capacity
	}
	if c.MaxLive < c.Capacity {
		c.MaxLive = c.Capacity + c.Capacity/2
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = DefaultCreateTimeout
	}
	if c.CreateRate <= 0 {
		c.CreateRate = rate.Inf
	}
	if c.CreateBurst <= 0 {
		c.CreateBurst = 1
	}
	if c.WarmConcurrency <= 0 {
		c.WarmConcurrency = DefaultWarmConcurrency
	}
}

// Health is the last observed liveness of a session.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type member struct {
	session    browser.Session
	health     Health
	createdAt  time.Time
	lastUsedAt time.Time
}

// SessionInfo describes one pooled session.
type SessionInfo struct {
	ID         string
	Health     Health
	Lent       bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Idle    int
	Lent    int
	Waiting int
	Pending int
}

// Pool owns browser sessions and lends them out one borrower at a time.
type Pool struct {
	cfg     Config
	engine  browser.Engine
	log     *logging.Logger
	metrics *metrics.Metrics

	budget  *semaphore.Weighted
	limiter *rate.Limiter

	mu      sync.Mutex
	idle    []*member
	lent    map[string]*member
	waiters *list.List // of chan *member
	pending int
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	warmed chan struct{}
}

// New creates a pool over engine. No session is started until Start or the
// first Acquire.
func New(engine browser.Engine, cfg Config, log *logging.Logger, m *metrics.Metrics) *Pool {
	if engine == nil {
		panic("pool: nil engine")
	}
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		engine:  engine,
		log:     log,
		metrics: m,
		budget:  semaphore.NewWeighted(int64(cfg.MaxLive)),
		limiter: rate.NewLimiter(cfg.CreateRate, cfg.CreateBurst),
		lent:    make(map[string]*member),
		waiters: list.New(),
		ctx:     ctx,
		cancel:  cancel,
		warmed:  make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// Start warms the pool in the background and runs the maintenance loop
// until ctx is done or the pool is closed.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.warmUp()
	}()
	go func() {
		defer p.wg.Done()
		p.maintainLoop(ctx)
	}()
}

// Warmed is closed once the warm-up started by Start has finished, whether
// or not every session could be created.
func (p *Pool) Warmed() <-chan struct{} { return p.warmed }

func (p *Pool) warmUp() {
	defer close(p.warmed)

	p.mu.Lock()
	n := p.cfg.WarmSize - len(p.idle) - p.pending
	if n <= 0 || p.closed {
		p.mu.Unlock()
		return
	}
	p.pending += n
	p.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(p.cfg.WarmConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			defer p.donePending()
			p.addIdle(p.ctx)
			return nil
		})
	}
	_ = g.Wait()

	st := p.Stats()
	p.log.Infof("warm-up finished: %d idle sessions", st.Idle)
}

func (p *Pool) donePending() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

// Acquire lends a healthy session. It waits up to timeout for one to become
// idle; after that it starts a new session if the creation budget allows.
// Creation failures surface as ErrAcquisitionTimeout.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (browser.Session, error) {
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, types.ErrPoolClosed
		}

		if m := p.popIdleLocked(); m != nil {
			p.mu.Unlock()
			if !p.probe(ctx, m) {
				p.destroy(m, "unhealthy")
				p.replenish()
				continue
			}
			if err := p.lend(m); err != nil {
				return nil, err
			}
			p.metrics.Acquired(time.Since(start), true)
			return m.session, nil
		}

		ch := make(chan *member, 1)
		elem := p.waiters.PushBack(ch)
		p.mu.Unlock()

		select {
		case m, ok := <-ch:
			if !ok {
				return nil, types.ErrPoolClosed
			}
			p.metrics.Acquired(time.Since(start), true)
			return m.session, nil

		case <-timer.C:
			m, closed := p.cancelWait(elem, ch)
			if m != nil {
				p.metrics.Acquired(time.Since(start), true)
				return m.session, nil
			}
			if closed {
				return nil, types.ErrPoolClosed
			}
			s, err := p.createOnDemand(ctx)
			p.metrics.Acquired(time.Since(start), err == nil)
			return s, err

		case <-ctx.Done():
			if m, _ := p.cancelWait(elem, ch); m != nil {
				// Handed over while we were giving up; put it back.
				p.Release(m.session)
			}
			return nil, ctx.Err()
		}
	}
}

// cancelWait removes a waiter. A session handed to it before removal is
// returned; it is already lent. closed reports that the pool shut down, in
// which case Close has already emptied the waiter list.
func (p *Pool) cancelWait(elem *list.Element, ch chan *member) (m *member, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.waiters.Remove(elem)
	}
	select {
	case m, ok := <-ch:
		if ok {
			return m, p.closed
		}
	default:
	}
	return nil, p.closed
}

func (p *Pool) createOnDemand(ctx context.Context) (browser.Session, error) {
	if !p.budget.TryAcquire(1) {
		return nil, fmt.Errorf("%w: creation budget of %d sessions exhausted", types.ErrAcquisitionTimeout, p.cfg.MaxLive)
	}
	if !p.limiter.Allow() {
		p.budget.Release(1)
		return nil, fmt.Errorf("%w: session creation rate limited", types.ErrAcquisitionTimeout)
	}

	m, err := p.create(ctx)
	if err != nil {
		p.budget.Release(1)
		p.log.Warnf("on-demand session creation failed: %v", err)
		return nil, fmt.Errorf("%w: on-demand creation failed", types.ErrAcquisitionTimeout)
	}
	if err := p.lend(m); err != nil {
		return nil, err
	}
	p.log.Infof("created session %s on demand", m.session.ID())
	return m.session, nil
}

// lend marks m as lent, or destroys it when the pool closed meanwhile.
func (p *Pool) lend(m *member) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(m, "shutdown")
		return types.ErrPoolClosed
	}
	m.lastUsedAt = time.Now()
	p.lent[m.session.ID()] = m
	p.observeLocked()
	p.mu.Unlock()
	return nil
}

// Release returns a lent session. It goes back into service only if its
// probe succeeds; otherwise it is terminated and a replacement is started.
func (p *Pool) Release(s browser.Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	m, ok := p.lent[s.ID()]
	idle := !ok && p.idleLocked(s.ID())
	p.mu.Unlock()
	if idle {
		p.log.Warnf("session %s released twice; it is already idle", s.ID())
		return
	}
	if !ok {
		p.log.Warnf("release of session %s the pool does not own; closing it", s.ID())
		_ = s.Close()
		return
	}

	healthy := p.probe(p.ctx, m)

	p.mu.Lock()
	delete(p.lent, s.ID())
	switch {
	case p.closed:
		p.observeLocked()
		p.mu.Unlock()
		p.destroy(m, "shutdown")
		return
	case !healthy:
		p.observeLocked()
		p.mu.Unlock()
		p.destroy(m, "unhealthy")
		p.replenish()
		return
	}

	m.lastUsedAt = time.Now()
	if p.handOffLocked(m) {
		p.mu.Unlock()
		return
	}
	if len(p.idle) < p.cfg.Capacity {
		p.idle = append(p.idle, m)
		p.observeLocked()
		p.mu.Unlock()
		return
	}
	p.observeLocked()
	p.mu.Unlock()
	p.destroy(m, "overflow")
}

// Discard terminates a lent session without probing it and starts a
// replacement.
func (p *Pool) Discard(s browser.Session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	m, ok := p.lent[s.ID()]
	delete(p.lent, s.ID())
	closed := p.closed
	idle := !ok && p.idleLocked(s.ID())
	p.observeLocked()
	p.mu.Unlock()

	if idle {
		p.log.Warnf("discard of idle session %s ignored", s.ID())
		return
	}
	if !ok {
		_ = s.Close()
		return
	}
	p.destroy(m, "discarded")
	if !closed {
		p.replenish()
	}
}

// handOffLocked gives m to the longest waiting Acquire, if any.
func (p *Pool) handOffLocked(m *member) bool {
	front := p.waiters.Front()
	if front == nil {
		return false
	}
	ch := p.waiters.Remove(front).(chan *member)
	p.lent[m.session.ID()] = m
	ch <- m
	p.observeLocked()
	return true
}

func (p *Pool) idleLocked(id string) bool {
	for _, m := range p.idle {
		if m.session.ID() == id {
			return true
		}
	}
	return false
}

func (p *Pool) popIdleLocked() *member {
	if len(p.idle) == 0 {
		return nil
	}
	m := p.idle[0]
	p.idle[0] = nil
	p.idle = p.idle[1:]
	p.observeLocked()
	return m
}

func (p *Pool) removeIdleLocked(target *member) bool {
	for i, m := range p.idle {
		if m == target {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.observeLocked()
			return true
		}
	}
	return false
}

func (p *Pool) observeLocked() {
	p.metrics.PoolOccupancy(len(p.idle), len(p.lent))
}

func (p *Pool) create(ctx context.Context) (*member, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CreateTimeout)
	defer cancel()

	s, err := p.engine.NewSession(ctx)
	if err != nil {
		p.metrics.SessionCreated(false)
		return nil, err
	}
	p.metrics.SessionCreated(true)
	now := time.Now()
	return &member{session: s, health: HealthUnknown, createdAt: now, lastUsedAt: now}, nil
}

// addIdle starts one session and parks it, handing it to a waiter first.
// It reports whether a session was added.
func (p *Pool) addIdle(ctx context.Context) bool {
	if !p.budget.TryAcquire(1) {
		p.log.Debugf("creation budget exhausted, not replenishing")
		return false
	}
	if err := p.limiter.Wait(ctx); err != nil {
		p.budget.Release(1)
		return false
	}

	m, err := p.create(ctx)
	if err != nil {
		p.budget.Release(1)
		p.log.Warnf("session creation failed: %v", err)
		return false
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(m, "shutdown")
		return false
	}
	if p.handOffLocked(m) {
		p.mu.Unlock()
		return true
	}
	if len(p.idle) < p.cfg.Capacity {
		p.idle = append(p.idle, m)
		p.observeLocked()
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()
	p.destroy(m, "overflow")
	return false
}

// replenish tops the idle set back up to WarmSize in the background.
func (p *Pool) replenish() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.fill(p.ctx)
	}()
}

func (p *Pool) fill(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.closed || len(p.idle)+p.pending >= p.cfg.WarmSize {
			p.mu.Unlock()
			return
		}
		p.pending++
		p.mu.Unlock()

		ok := p.addIdle(ctx)
		p.donePending()
		if !ok {
			return
		}
	}
}

// probe checks liveness and records the result on m.
func (p *Pool) probe(ctx context.Context, m *member) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	err := m.session.Probe(ctx)

	p.mu.Lock()
	if err != nil {
		m.health = HealthUnhealthy
	} else {
		m.health = HealthHealthy
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warnf("session %s failed probe: %v", m.session.ID(), err)
		return false
	}
	return true
}

func (p *Pool) destroy(m *member, reason string) {
	if err := m.session.Close(); err != nil && !errors.Is(err, browser.ErrSessionClosed) {
		p.log.Warnf("closing session %s: %v", m.session.ID(), err)
	}
	p.budget.Release(1)
	p.metrics.SessionDestroyed(reason)
	p.log.Debugf("session %s destroyed (%s)", m.session.ID(), reason)
}

func (p *Pool) maintainLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Maintain(p.ctx)
		}
	}
}

// Maintain probes every idle session, evicts the ones that fail, and
// replenishes up to WarmSize. Sessions are probed in place, never lent, so a
// concurrent Acquire is not blocked.
func (p *Pool) Maintain(ctx context.Context) {
	p.mu.Lock()
	snapshot := append([]*member(nil), p.idle...)
	p.mu.Unlock()

	evicted := 0
	for _, m := range snapshot {
		if p.probe(ctx, m) {
			continue
		}
		p.mu.Lock()
		removed := p.removeIdleLocked(m)
		p.mu.Unlock()
		// A session lent since the snapshot is its borrower's problem.
		if removed {
			p.destroy(m, "unhealthy")
			evicted++
		}
	}
	if evicted > 0 {
		p.log.Infof("maintenance evicted %d unhealthy sessions", evicted)
	}
	p.fill(ctx)
}

// Stats returns current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:    len(p.idle),
		Lent:    len(p.lent),
		Waiting: p.waiters.Len(),
		Pending: p.pending,
	}
}

// Sessions lists idle and lent sessions.
func (p *Pool) Sessions() []SessionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]SessionInfo, 0, len(p.idle)+len(p.lent))
	for _, m := range p.idle {
		infos = append(infos, m.info(false))
	}
	for _, m := range p.lent {
		infos = append(infos, m.info(true))
	}
	return infos
}

func (m *member) info(lent bool) SessionInfo {
	return SessionInfo{
		ID:         m.session.ID(),
		Health:     m.health,
		Lent:       lent,
		CreatedAt:  m.createdAt,
		LastUsedAt: m.lastUsedAt,
	}
}

// Close stops maintenance, fails pending Acquire calls and terminates every
// idle session. Lent sessions are terminated when their borrower releases or
// discards them.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		close(e.Value.(chan *member))
	}
	p.waiters.Init()
	p.observeLocked()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	for _, m := range idle {
		p.destroy(m, "shutdown")
	}
	p.log.Infof("pool closed, %d idle sessions terminated", len(idle))
	return nil
}
