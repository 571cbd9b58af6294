// Package notify delivers renewal progress, success and error events to
// operators. Delivery is fire-and-forget: the workflow logs failures and never
// lets them change a renewal's result.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/metrics"
)

// EventType defines the type of notification event.
type EventType string

const (
	// EventProgress is sent when a renewal enters a new stage
	EventProgress EventType = "progress"

	// EventSuccess is sent when the portal confirmed a renewal
	EventSuccess EventType = "success"

	// EventError is sent when a renewal failed
	EventError EventType = "error"
)

// Event is a notification event.
type Event struct {
	// ID is the unique event identifier
	ID string `json:"id"`

	// Type is the event type
	Type EventType `json:"type"`

	// RenewalID groups the events of one renewal attempt
	RenewalID string `json:"renewal_id"`

	// SubscriberID is the decoder or contract being renewed
	SubscriberID string `json:"subscriber_id"`

	// Stage is the workflow stage the event was raised in
	Stage string `json:"stage,omitempty"`

	// Message is the human readable text
	Message string `json:"message"`

	Offer     string `json:"offer,omitempty"`
	Option    string `json:"option,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Amount    *int   `json:"amount,omitempty"`
	Reference string `json:"reference,omitempty"`

	// Category is the error category of a failed renewal
	Category string `json:"category,omitempty"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(typ EventType, renewalID, subscriberID, message string) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         typ,
		RenewalID:    renewalID,
		SubscriberID: subscriberID,
		Message:      message,
		Timestamp:    time.Now(),
	}
}

// Title is a one-line summary used by chat sinks.
func (e Event) Title() string {
	switch e.Type {
	case EventSuccess:
		return fmt.Sprintf("Renewal confirmed for %s", e.SubscriberID)
	case EventError:
		return fmt.Sprintf("Renewal failed for %s", e.SubscriberID)
	default:
		if e.Stage != "" {
			return fmt.Sprintf("Renewal %s: %s", e.SubscriberID, e.Stage)
		}
		return fmt.Sprintf("Renewal %s", e.SubscriberID)
	}
}

// JSON encodes the event.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// ParseEvent decodes an event produced by JSON.
func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Sink is a named Notifier owning a connection.
type Sink interface {
	Notifier
	Name() string
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to several sinks. A failing sink does not stop
// delivery to the others.
type Multi struct {
	sinks   []Sink
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewMulti creates a fan-out over sinks.
func NewMulti(log *logging.Logger, m *metrics.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: log, metrics: m}
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Notify sends event to every sink and joins their errors.
func (m *Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, event); err != nil {
			m.metrics.NotifyFailed(s.Name())
			m.log.Warnf("%s delivery of %s event failed: %v", s.Name(), event.Type, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
