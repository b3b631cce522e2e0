package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/walletlink/core"
	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps a record in redis a little past its expiry so the
// expiration handler can still read it
const expiryGrace = time.Minute

// RedisBackend stores sequences as JSON under a key prefix
type RedisBackend[T core.Sequence] struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a redis backend; kind separates sequence families, e.g. "pairing"
func NewRedisBackend[T core.Sequence](client *redis.Client, kind string) *RedisBackend[T] {
	return &RedisBackend[T]{
		client: client,
		prefix: "walletlink:" + kind + ":",
	}
}

// NewRedisStore creates a sequence store persisted in redis
func NewRedisStore[T core.Sequence](client *redis.Client, kind string, opts ...Option) *SequenceStore[T] {
	return NewSequenceStore[T](NewRedisBackend[T](client, kind), opts...)
}

func (b *RedisBackend[T]) Put(ctx context.Context, seq T) error {
	payload, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("failed to marshal sequence: %w", err)
	}

	ttl := time.Until(seq.ExpiresAt())
	if ttl < 0 {
		ttl = 0
	}

	// Set key with expiration
	if err := b.client.Set(ctx, b.prefix+seq.SequenceTopic(), payload, ttl+expiryGrace).Err(); err != nil {
		return fmt.Errorf("failed to write sequence: %w", err)
	}
	return nil
}

func (b *RedisBackend[T]) Get(ctx context.Context, topic string) (T, bool, error) {
	var seq T
	payload, err := b.client.Get(ctx, b.prefix+topic).Bytes()
	if errors.Is(err, redis.Nil) {
		return seq, false, nil
	}
	if err != nil {
		return seq, false, fmt.Errorf("failed to read sequence: %w", err)
	}
	if err := json.Unmarshal(payload, &seq); err != nil {
		return seq, false, fmt.Errorf("failed to unmarshal sequence: %w", err)
	}
	return seq, true, nil
}

func (b *RedisBackend[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		topic := iter.Val()[len(b.prefix):]
		seq, ok, err := b.Get(ctx, topic)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, seq)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sequences: %w", err)
	}
	return out, nil
}

func (b *RedisBackend[T]) Remove(ctx context.Context, topic string) error {
	if err := b.client.Del(ctx, b.prefix+topic).Err(); err != nil {
		return fmt.Errorf("failed to delete sequence: %w", err)
	}
	return nil
}
