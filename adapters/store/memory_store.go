package store

import (
	"context"
	"sync"

	"github.com/layer-3/walletlink/core"
)

// MemoryBackend is an in-memory sequence backend
type MemoryBackend[T core.Sequence] struct {
	sequences map[string]T
	mu        sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend[T core.Sequence]() *MemoryBackend[T] {
	return &MemoryBackend[T]{
		sequences: make(map[string]T),
	}
}

// NewMemoryStore creates a sequence store kept in memory
func NewMemoryStore[T core.Sequence](opts ...Option) *SequenceStore[T] {
	return NewSequenceStore[T](NewMemoryBackend[T](), opts...)
}

func (b *MemoryBackend[T]) Put(ctx context.Context, seq T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequences[seq.SequenceTopic()] = seq
	return nil
}

func (b *MemoryBackend[T]) Get(ctx context.Context, topic string) (T, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seq, ok := b.sequences[topic]
	return seq, ok, nil
}

func (b *MemoryBackend[T]) List(ctx context.Context) ([]T, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, 0, len(b.sequences))
	for _, seq := range b.sequences {
		out = append(out, seq)
	}
	return out, nil
}

func (b *MemoryBackend[T]) Remove(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sequences, topic)
	return nil
}
