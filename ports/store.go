package ports

import (
	"context"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
)

// SequenceStore keeps topic-keyed sequences and fires a handler when one expires
type SequenceStore[T core.Sequence] interface {
	Set(ctx context.Context, seq T) error
	Get(ctx context.Context, topic string) (T, bool, error)
	GetAll(ctx context.Context) ([]T, error)
	Delete(ctx context.Context, topic string) error
	OnExpiration(handler func(T))
}

// KeyStore holds key material addressed by topic or by public key hex.
// Lookups of absent entries return core.ErrKeyNotFound.
type KeyStore interface {
	SetSymmetricKey(ctx context.Context, key crypto.SymmetricKey, topic string) error
	GetSymmetricKey(ctx context.Context, topic string) (crypto.SymmetricKey, error)

	// SetPrivateKey stores a private key under the hex of its public key
	SetPrivateKey(ctx context.Context, pub crypto.PublicKey, priv crypto.PrivateKey) error
	GetPrivateKey(ctx context.Context, publicKeyHex string) (crypto.PrivateKey, error)

	SetPublicKey(ctx context.Context, pub crypto.PublicKey, topic string) error
	GetPublicKey(ctx context.Context, topic string) (crypto.PublicKey, error)

	// DeleteKey removes every entry stored under id
	DeleteKey(ctx context.Context, id string) error
}
