// Package metrics exposes Prometheus collectors for the session pool, the
// renewal workflow and the outcome classifier.
//
// All methods are safe on a nil *Metrics so components can be built without
// instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "renewal"

// Metrics holds every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	poolIdle         prometheus.Gauge
	poolLent         prometheus.Gauge
	poolCreated      prometheus.Counter
	poolCreateFailed prometheus.Counter
	poolDestroyed    *prometheus.CounterVec
	poolAcquireWait  prometheus.Histogram
	poolAcquireFail  prometheus.Counter

	renewals       *prometheus.CounterVec
	renewalSeconds prometheus.Histogram
	stageFailures  *prometheus.CounterVec

	classifications *prometheus.CounterVec
	pollIterations  prometheus.Histogram

	notifyFailures *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers all collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		poolIdle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "idle_sessions",
			Help:      "Healthy sessions waiting in the pool.",
		}),
		poolLent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "lent_sessions",
			Help:      "Sessions currently lent to a workflow.",
		}),
		poolCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions_created_total",
			Help:      "Browser sessions started.",
		}),
		poolCreateFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "session_create_failures_total",
			Help:      "Browser sessions that failed to start.",
		}),
		poolDestroyed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions_destroyed_total",
			Help:      "Browser sessions terminated, by reason.",
		}, []string{"reason"}),
		poolAcquireWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a session.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		poolAcquireFail: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_timeouts_total",
			Help:      "Acquire calls that found no session in time.",
		}),

		renewals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "renewals_total",
			Help:      "Renewal workflows by final status.",
		}, []string{"status"}),
		renewalSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "renewal_duration_seconds",
			Help:      "Wall-clock duration of renewal workflows.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
		}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "stage_failures_total",
			Help:      "Workflow failures by stage.",
		}, []string{"stage"}),

		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "outcomes_total",
			Help:      "Classifier results by status and error category.",
		}, []string{"status", "category"}),
		pollIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "poll_iterations",
			Help:      "Poll iterations needed to reach a result.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),

		notifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notification deliveries that failed, by sink.",
		}, []string{"sink"}),
	}
}

// Registry returns the registry collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PoolOccupancy records the idle and lent session counts.
func (m *Metrics) PoolOccupancy(idle, lent int) {
	if m == nil {
		return
	}
	m.poolIdle.Set(float64(idle))
	m.poolLent.Set(float64(lent))
}

// SessionCreated counts a session start; ok is false for a failed start.
func (m *Metrics) SessionCreated(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.poolCreated.Inc()
	} else {
		m.poolCreateFailed.Inc()
	}
}

// SessionDestroyed counts a terminated session.
func (m *Metrics) SessionDestroyed(reason string) {
	if m == nil {
		return
	}
	m.poolDestroyed.WithLabelValues(reason).Inc()
}

// Acquired records how long an acquire waited; ok is false on timeout.
func (m *Metrics) Acquired(wait time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.poolAcquireWait.Observe(wait.Seconds())
	if !ok {
		m.poolAcquireFail.Inc()
	}
}

// RenewalFinished records a workflow's final status and duration.
func (m *Metrics) RenewalFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(status).Inc()
	m.renewalSeconds.Observe(elapsed.Seconds())
}

// StageFailed counts a workflow that stopped in stage.
func (m *Metrics) StageFailed(stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage).Inc()
}

// Classified records a classifier result.
func (m *Metrics) Classified(status, category string, iterations int) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(status, category).Inc()
	m.pollIterations.Observe(float64(iterations))
}

// NotifyFailed counts a failed notification delivery.
func (m *Metrics) NotifyFailed(sink string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(sink).Inc()
}
