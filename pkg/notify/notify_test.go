package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/metrics"
)

func TestNewSlackAdapter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SlackConfig
		wantErr bool
	}{
		{"valid config", SlackConfig{WebhookURL: "https://hooks.slack.com/services/xxx"}, false},
		{"with channel", SlackConfig{WebhookURL: "https://hooks.slack.com/services/xxx", Channel: "#renewals"}, false},
		{"missing webhook URL", SlackConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewSlackAdapter(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "slack", adapter.Name())
		})
	}
}

func TestSlackAdapterNotify(t *testing.T) {
	var (
		mu      sync.Mutex
		payload map[string]interface{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter, err := NewSlackAdapter(SlackConfig{WebhookURL: server.URL, Channel: "#renewals"})
	require.NoError(t, err)

	amount := 15000
	ev := NewEvent(EventSuccess, "run-1", "14523678", "renewal confirmed")
	ev.Offer = "EVASION"
	ev.Duration = "3 months"
	ev.Amount = &amount
	ev.Reference = "REF-991"
	require.NoError(t, adapter.Notify(context.Background(), ev))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "#renewals", payload["channel"])
	attachments := payload["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]interface{})
	assert.Contains(t, att["title"], "Renewal confirmed for 14523678")
	assert.Contains(t, att["text"], "15000 GNF")
	assert.Contains(t, att["text"], "REF-991")
}

func TestSlackAdapterNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer server.Close()

	adapter, err := NewSlackAdapter(SlackConfig{WebhookURL: server.URL})
	require.NoError(t, err)

	err = adapter.Notify(context.Background(), NewEvent(EventError, "r", "1", "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestEventRoundTrip(t *testing.T) {
	ev := NewEvent(EventProgress, "run-2", "998877", "logging in")
	ev.Stage = "authenticate"

	parsed, err := ParseEvent(ev.JSON())
	require.NoError(t, err)
	assert.Equal(t, ev.ID, parsed.ID)
	assert.Equal(t, "Renewal 998877: authenticate", parsed.Title())
	assert.True(t, ev.Timestamp.Equal(parsed.Timestamp))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "renewal.events.error", Subject(DefaultSubject, EventError))
}

type recordingSink struct {
	name   string
	err    error
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Notify(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestMultiDeliversToEverySink(t *testing.T) {
	m := metrics.New()
	broken := &recordingSink{name: "slack", err: errors.New("webhook down")}
	healthy := &recordingSink{name: "nats"}
	multi := NewMulti(logging.Discard(), m, broken, healthy)

	err := multi.Notify(context.Background(), NewEvent(EventError, "r", "1", "failed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack: webhook down")
	assert.Len(t, healthy.events, 1)
	assert.Equal(t, 2, multi.Len())

	count, err := testutil.GatherAndCount(m.Registry(), "renewal_notify_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, multi.Close())
	assert.True(t, broken.closed)
	assert.True(t, healthy.closed)
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Notify(context.Background(), Event{}))
}
