package walletlink

import (
	"github.com/layer-3/walletlink/adapters/keystore"
	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/core"
)

// NewMemoryStores creates process-local stores.
// This is primarily intended for testing and for short-lived clients.
func NewMemoryStores(opts ...store.Option) Stores {
	return Stores{
		Keys:            keystore.NewMemoryStore(),
		Identities:      keystore.NewIdentityMemoryStore(),
		Pairings:        store.NewMemoryStore[core.Pairing](opts...),
		Sessions:        store.NewMemoryStore[core.Session](opts...),
		SentInvites:     store.NewMemoryStore[core.SentInvite](opts...),
		ReceivedInvites: store.NewMemoryStore[core.ReceivedInvite](opts...),
		Threads:         store.NewMemoryStore[core.Thread](opts...),
	}
}
