package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// Topic is the default watermill topic for lifecycle events
const Topic = "walletlink.events"

// WatermillPublisher forwards lifecycle events to a watermill publisher as JSON
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// Option configures a WatermillPublisher
type Option func(*WatermillPublisher)

// WithTopic overrides the destination topic
func WithTopic(topic string) Option {
	return func(p *WatermillPublisher) { p.topic = topic }
}

func NewWatermillPublisher(publisher message.Publisher, opts ...Option) ports.EventPublisher {
	p := &WatermillPublisher{publisher: publisher, topic: Topic}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends event; kind and sequence topic are mirrored into metadata for routing
func (p *WatermillPublisher) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Kind, err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set("kind", string(event.Kind))
	msg.Metadata.Set("sequence_topic", event.Topic)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind, err)
	}
	return nil
}
