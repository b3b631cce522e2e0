package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// Backend persists sequences by topic. It knows nothing about expiry timers.
type Backend[T core.Sequence] interface {
	Put(ctx context.Context, seq T) error
	Get(ctx context.Context, topic string) (T, bool, error)
	List(ctx context.Context) ([]T, error)
	Remove(ctx context.Context, topic string) error
}

type options struct {
	now    func() time.Time
	logger watermill.LoggerAdapter
}

// Option configures a SequenceStore
type Option func(*options)

// WithClock overrides the time source used to judge expiry
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger
func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(o *options) { o.logger = logger }
}

type entryTimer struct {
	timer *time.Timer
	gen   uint64
}

// SequenceStore keeps sequences in a backend and expires each exactly once
type SequenceStore[T core.Sequence] struct {
	backend Backend[T]
	opts    options

	mu      sync.Mutex
	timers  map[string]entryTimer
	gen     uint64
	handler func(T)
}

var _ ports.SequenceStore[core.Pairing] = (*SequenceStore[core.Pairing])(nil)

// NewSequenceStore creates a store over backend
func NewSequenceStore[T core.Sequence](backend Backend[T], opts ...Option) *SequenceStore[T] {
	o := options{now: time.Now, logger: watermill.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &SequenceStore[T]{
		backend: backend,
		opts:    o,
		timers:  make(map[string]entryTimer),
	}
}

// OnExpiration registers the handler called with each expired sequence before it is removed
func (s *SequenceStore[T]) OnExpiration(handler func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Set inserts or replaces a sequence and restarts its expiry timer
func (s *SequenceStore[T]) Set(ctx context.Context, seq T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Put(ctx, seq); err != nil {
		return fmt.Errorf("failed to store sequence: %w", err)
	}
	s.schedule(seq.SequenceTopic(), seq.ExpiresAt())
	return nil
}

// Get returns the live sequence for topic
func (s *SequenceStore[T]) Get(ctx context.Context, topic string) (T, bool, error) {
	var zero T
	seq, ok, err := s.backend.Get(ctx, topic)
	if err != nil {
		return zero, false, fmt.Errorf("failed to load sequence: %w", err)
	}
	if !ok || s.expired(seq) {
		return zero, false, nil
	}
	return seq, true, nil
}

// GetAll returns a snapshot of every live sequence
func (s *SequenceStore[T]) GetAll(ctx context.Context) ([]T, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	live := make([]T, 0, len(all))
	for _, seq := range all {
		if !s.expired(seq) {
			live = append(live, seq)
		}
	}
	return live, nil
}

// Delete removes a sequence and cancels its expiry
func (s *SequenceStore[T]) Delete(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if et, ok := s.timers[topic]; ok {
		et.timer.Stop()
		delete(s.timers, topic)
	}
	if err := s.backend.Remove(ctx, topic); err != nil {
		return fmt.Errorf("failed to delete sequence: %w", err)
	}
	return nil
}

// Restore schedules expiry for sequences already present in the backend
func (s *SequenceStore[T]) Restore(ctx context.Context) error {
	all, err := s.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sequences: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range all {
		if _, ok := s.timers[seq.SequenceTopic()]; !ok {
			s.schedule(seq.SequenceTopic(), seq.ExpiresAt())
		}
	}
	return nil
}

// Close stops all pending timers; no handler fires afterwards
func (s *SequenceStore[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, et := range s.timers {
		et.timer.Stop()
		delete(s.timers, topic)
	}
}

func (s *SequenceStore[T]) expired(seq T) bool {
	return s.opts.now().After(seq.ExpiresAt())
}

// schedule must be called with mu held
func (s *SequenceStore[T]) schedule(topic string, expiry time.Time) {
	if et, ok := s.timers[topic]; ok {
		et.timer.Stop()
	}
	s.gen++
	gen := s.gen
	delay := expiry.Sub(s.opts.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[topic] = entryTimer{
		timer: time.AfterFunc(delay, func() { s.expire(topic, gen) }),
		gen:   gen,
	}
}

func (s *SequenceStore[T]) expire(topic string, gen uint64) {
	ctx := context.Background()

	s.mu.Lock()
	et, ok := s.timers[topic]
	if !ok || et.gen != gen {
		// rescheduled or deleted since this timer was armed
		s.mu.Unlock()
		return
	}
	delete(s.timers, topic)
	handler := s.handler
	seq, found, err := s.backend.Get(ctx, topic)
	s.mu.Unlock()

	if err != nil {
		s.opts.logger.Error("failed to load expired sequence", err, watermill.LogFields{"topic": topic})
		return
	}
	if !found {
		return
	}

	s.opts.logger.Debug("sequence expired", watermill.LogFields{"topic": topic})
	if handler != nil {
		handler(seq)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, rescheduled := s.timers[topic]; rescheduled {
		return
	}
	if err := s.backend.Remove(ctx, topic); err != nil {
		s.opts.logger.Error("failed to remove expired sequence", err, watermill.LogFields{"topic": topic})
	}
}
