package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Handler receives the raw payload published on a topic
type Handler func(ctx context.Context, topic string, payload []byte)

// Relay forwards opaque payloads by topic over a watermill publisher and subscriber
type Relay struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
	prefix     string

	mu   sync.Mutex
	subs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

// NewRelay creates a relay; every topic is namespaced under "walletlink.relay."
func NewRelay(publisher message.Publisher, subscriber message.Subscriber, logger watermill.LoggerAdapter) *Relay {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Relay{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		prefix:     "walletlink.relay.",
		subs:       make(map[string]context.CancelFunc),
	}
}

// Publish sends payload to every subscriber of topic
func (r *Relay) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(uuid.New().String(), payload)
	msg.SetContext(ctx)

	if err := r.publisher.Publish(r.prefix+topic, msg); err != nil {
		return fmt.Errorf("failed to publish to relay: %w", err)
	}
	return nil
}

// Subscribe starts delivering payloads of topic to handler. Subscribing twice is a no-op.
func (r *Relay) Subscribe(ctx context.Context, topic string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[topic]; ok {
		return nil
	}

	// The subscription lives until Unsubscribe, not until ctx is done
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages, err := r.subscriber.Subscribe(subCtx, r.prefix+topic)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to relay: %w", err)
	}
	r.subs[topic] = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range messages {
			handler(msg.Context(), topic, msg.Payload)
			msg.Ack()
		}
		r.logger.Trace("relay subscription closed", watermill.LogFields{"topic": topic})
	}()

	r.logger.Debug("subscribed", watermill.LogFields{"topic": topic})
	return nil
}

// Unsubscribe stops delivery for topic
func (r *Relay) Unsubscribe(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.subs[topic]; ok {
		cancel()
		delete(r.subs, topic)
		r.logger.Debug("unsubscribed", watermill.LogFields{"topic": topic})
	}
	return nil
}

// Subscribed reports whether topic currently has a subscription
func (r *Relay) Subscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[topic]
	return ok
}

// Close cancels every subscription and waits for the delivery loops to exit
func (r *Relay) Close() error {
	r.mu.Lock()
	for topic, cancel := range r.subs {
		cancel()
		delete(r.subs, topic)
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}
