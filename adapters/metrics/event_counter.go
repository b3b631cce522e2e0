package metrics

import (
	"context"
	"fmt"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// EventCounter counts lifecycle events by kind before forwarding them
type EventCounter struct {
	next   ports.EventPublisher
	events *prometheus.CounterVec
}

var _ ports.EventPublisher = (*EventCounter)(nil)

// NewEventCounter registers walletlink_lifecycle_events_total with registerer.
// next may be nil when events are only counted.
func NewEventCounter(registerer prometheus.Registerer, next ports.EventPublisher) (*EventCounter, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walletlink",
		Name:      "lifecycle_events_total",
		Help:      "Pairing, session, invite and thread lifecycle events by kind.",
	}, []string{"kind"})

	if err := registerer.Register(events); err != nil {
		return nil, fmt.Errorf("failed to register event counter: %w", err)
	}
	return &EventCounter{next: next, events: events}, nil
}

func (c *EventCounter) Publish(ctx context.Context, event core.Event) error {
	c.events.WithLabelValues(string(event.Kind)).Inc()
	if c.next == nil {
		return nil
	}
	return c.next.Publish(ctx, event)
}
