package walletlink

import (
	"errors"

	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
	"github.com/redis/go-redis/v9"
)

// Stores groups the persistence a Client runs on
type Stores struct {
	Keys       ports.KeyStore
	Identities ports.IdentityKeyStore

	Pairings        *store.SequenceStore[core.Pairing]
	Sessions        *store.SequenceStore[core.Session]
	SentInvites     *store.SequenceStore[core.SentInvite]
	ReceivedInvites *store.SequenceStore[core.ReceivedInvite]
	Threads         *store.SequenceStore[core.Thread]

	client *redis.Client
}

// RedisClient returns the Redis client backing the stores, nil for memory stores.
// It lets the binary share one connection pool with the watermill publisher.
func (s Stores) RedisClient() *redis.Client {
	return s.client
}

func (s Stores) validate() error {
	if s.Keys == nil || s.Identities == nil || s.Pairings == nil || s.Sessions == nil ||
		s.SentInvites == nil || s.ReceivedInvites == nil || s.Threads == nil {
		return ErrIncompleteStores
	}
	return nil
}

// Close stops expiry timers and releases the Redis connection, if any
func (s Stores) Close() error {
	for _, c := range []interface{ Close() }{s.Pairings, s.Sessions, s.SentInvites, s.ReceivedInvites, s.Threads} {
		c.Close()
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
	}
	return nil
}
