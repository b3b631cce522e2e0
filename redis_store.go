package walletlink

import (
	"context"
	"fmt"

	"github.com/layer-3/walletlink/adapters/keystore"
	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/core"
	"github.com/redis/go-redis/v9"
)

// NewRedisStores connects to redisURL and creates stores persisted in Redis
func NewRedisStores(ctx context.Context, redisURL string, opts ...store.Option) (Stores, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return Stores{}, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(options)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return Stores{}, fmt.Errorf("%v: %w", err, ErrStoreUnavailable)
	}

	return NewRedisStoresWithClient(client, opts...), nil
}

// NewRedisStoresWithClient creates Redis stores over an existing client.
// Closing the stores closes the client.
func NewRedisStoresWithClient(client *redis.Client, opts ...store.Option) Stores {
	return Stores{
		Keys:            keystore.NewRedisStore(client),
		Identities:      keystore.NewIdentityRedisStore(client),
		Pairings:        store.NewRedisStore[core.Pairing](client, "pairing", opts...),
		Sessions:        store.NewRedisStore[core.Session](client, "session", opts...),
		SentInvites:     store.NewRedisStore[core.SentInvite](client, "invite.sent", opts...),
		ReceivedInvites: store.NewRedisStore[core.ReceivedInvite](client, "invite.received", opts...),
		Threads:         store.NewRedisStore[core.Thread](client, "thread", opts...),
		client:          client,
	}
}
