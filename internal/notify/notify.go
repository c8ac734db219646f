// Package notify delivers lifecycle events to out-of-band consumers.
// Delivery is fire-and-forget from the engine's point of view: callers log
// dispatch errors and never roll back state because of them.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

// Dispatcher receives lifecycle events
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.Event) error
}

// NewEvent builds an event with a fresh ID
func NewEvent(eventType models.EventType, subscriptionID string, at time.Time, payload map[string]interface{}) models.Event {
	return models.Event{
		ID:             uuid.New().String(),
		Type:           eventType,
		SubscriptionID: subscriptionID,
		Payload:        payload,
		OccurredAt:     at,
	}
}

// Multi fans an event out to every sink. All sinks are tried; their errors
// are combined.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, event models.Event) error {
	var combined error
	for _, d := range m {
		if err := d.Dispatch(ctx, event); err != nil {
			combined = errors.CombineErrors(combined, err)
		}
	}
	return combined
}

// LogDispatcher writes events to the structured log
type LogDispatcher struct {
	log *logger.Logger
}

func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, event models.Event) error {
	d.log.Info("lifecycle event",
		"event_id", event.ID,
		"event_type", event.Type,
		"subscription_id", event.SubscriptionID,
		"payload", event.Payload)
	return nil
}

// Recorder keeps dispatched events in memory
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Dispatch(_ context.Context, event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// OfType returns recorded events of the given type
func (r *Recorder) OfType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Notifier hands events to a Dispatcher and absorbs its failures, which are
// logged and counted but never returned.
type Notifier struct {
	dispatcher Dispatcher
	log        *logger.Logger
	metrics    *metrics.Metrics
}

func NewNotifier(d Dispatcher, log *logger.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{dispatcher: d, log: log, metrics: m}
}

// Emit delivers event, logging any dispatcher error
func (n *Notifier) Emit(ctx context.Context, event models.Event) {
	if n == nil || n.dispatcher == nil {
		return
	}
	if err := n.dispatcher.Dispatch(ctx, event); err != nil {
		n.log.Warn("notification dispatch failed",
			"event_type", event.Type,
			"subscription_id", event.SubscriptionID,
			"error", err)
		n.metrics.IncNotifyFailure(string(event.Type))
	}
}
