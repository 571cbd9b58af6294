package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PoolOccupancy(1, 2)
		m.SessionCreated(true)
		m.SessionDestroyed("unhealthy")
		m.Acquired(time.Second, false)
		m.RenewalFinished("success", time.Second)
		m.StageFailed("authenticate")
		m.Classified("success", "", 1)
		m.NotifyFailed("slack")
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.PoolOccupancy(3, 1)
	m.SessionCreated(true)
	m.SessionCreated(true)
	m.SessionCreated(false)
	m.SessionDestroyed("unhealthy")
	m.Acquired(10*time.Millisecond, false)
	m.RenewalFinished("success", 30*time.Second)
	m.StageFailed("locate_subscriber")
	m.Classified("error", "insufficient_balance", 4)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.poolIdle))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolLent))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.poolCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolCreateFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolDestroyed.WithLabelValues("unhealthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.poolAcquireFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renewals.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("locate_subscriber")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifications.WithLabelValues("error", "insufficient_balance")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.SessionCreated(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "renewal_pool_sessions_created_total 1"))
}
