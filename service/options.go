package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

type config struct {
	logger   watermill.LoggerAdapter
	events   ports.EventPublisher
	now      func() time.Time
	metadata *core.AppMetadata
	locks    *TopicLocks
}

// Option configures the services of this package
type Option func(*config)

func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(c *config) { c.logger = logger }
}

func WithEventPublisher(events ports.EventPublisher) Option {
	return func(c *config) { c.events = events }
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithMetadata sets the metadata advertised to peers
func WithMetadata(metadata core.AppMetadata) Option {
	return func(c *config) { c.metadata = &metadata }
}

// WithTopicLocks shares per-topic serialization between services
func WithTopicLocks(locks *TopicLocks) Option {
	return func(c *config) { c.locks = locks }
}

func newConfig(opts []Option) config {
	c := config{
		logger: watermill.NopLogger{},
		events: nopPublisher{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.locks == nil {
		c.locks = NewTopicLocks()
	}
	return c
}

// emit publishes a lifecycle event; failures are logged, never returned
func (c config) emit(ctx context.Context, kind core.EventKind, topic, detail string) {
	event := core.Event{Kind: kind, Topic: topic, At: c.now(), Detail: detail}
	if err := c.events.Publish(ctx, event); err != nil {
		c.logger.Error("failed to publish event", err, watermill.LogFields{"kind": kind, "topic": topic})
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, core.Event) error { return nil }
