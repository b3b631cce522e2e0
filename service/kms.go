package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
)

// KeyManagementService generates agreement keys, performs agreements and
// keeps the per-topic symmetric keys used by the transport
type KeyManagementService struct {
	keys ports.KeyStore
}

// NewKeyManagementService creates a new key management service
func NewKeyManagementService(keys ports.KeyStore) *KeyManagementService {
	return &KeyManagementService{keys: keys}
}

// GenerateKeyPair creates a key pair and persists the private key under its public key
func (k *KeyManagementService) GenerateKeyPair(ctx context.Context) (crypto.PublicKey, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return crypto.PublicKey{}, err
	}
	if err := k.keys.SetPrivateKey(ctx, kp.Public, kp.Private); err != nil {
		return crypto.PublicKey{}, fmt.Errorf("failed to store private key: %w", err)
	}
	return kp.Public, nil
}

// Agree performs agreement between the stored private key of self and a peer public key
func (k *KeyManagementService) Agree(ctx context.Context, self crypto.PublicKey, peerPublicKey string) (crypto.SharedSecret, error) {
	priv, err := k.keys.GetPrivateKey(ctx, self.Hex())
	if err != nil {
		return crypto.SharedSecret{}, fmt.Errorf("failed to load private key: %w", err)
	}
	return k.AgreeWithPrivate(priv, peerPublicKey)
}

// AgreeWithPrivate performs agreement with an in-memory private key
func (k *KeyManagementService) AgreeWithPrivate(priv crypto.PrivateKey, peerPublicKey string) (crypto.SharedSecret, error) {
	peer, err := crypto.ParsePublicKey(peerPublicKey)
	if err != nil {
		return crypto.SharedSecret{}, fmt.Errorf("%v: %w", err, core.ErrAgreement)
	}
	secret, err := crypto.Agree(priv, peer)
	if err != nil {
		return crypto.SharedSecret{}, fmt.Errorf("%v: %w", err, core.ErrAgreement)
	}
	return secret, nil
}

// DeriveTopic returns the topic of a shared secret
func (k *KeyManagementService) DeriveTopic(secret crypto.SharedSecret) string {
	return secret.Topic()
}

func (k *KeyManagementService) SetSymmetricKey(ctx context.Context, key crypto.SymmetricKey, topic string) error {
	if err := k.keys.SetSymmetricKey(ctx, key, topic); err != nil {
		return fmt.Errorf("failed to store symmetric key: %w", err)
	}
	return nil
}

// SymmetricKey returns the key of topic or core.ErrMissingKey
func (k *KeyManagementService) SymmetricKey(ctx context.Context, topic string) (crypto.SymmetricKey, error) {
	key, err := k.keys.GetSymmetricKey(ctx, topic)
	if errors.Is(err, core.ErrKeyNotFound) {
		return key, fmt.Errorf("topic %s: %w", topic, core.ErrMissingKey)
	}
	return key, err
}

func (k *KeyManagementService) DeleteSymmetricKey(ctx context.Context, topic string) error {
	return k.keys.DeleteKey(ctx, topic)
}

func (k *KeyManagementService) SetPublicKey(ctx context.Context, pub crypto.PublicKey, topic string) error {
	if err := k.keys.SetPublicKey(ctx, pub, topic); err != nil {
		return fmt.Errorf("failed to store public key: %w", err)
	}
	return nil
}

func (k *KeyManagementService) PublicKey(ctx context.Context, topic string) (crypto.PublicKey, error) {
	return k.keys.GetPublicKey(ctx, topic)
}

func (k *KeyManagementService) PrivateKey(ctx context.Context, publicKey string) (crypto.PrivateKey, error) {
	return k.keys.GetPrivateKey(ctx, publicKey)
}

func (k *KeyManagementService) DeletePrivateKey(ctx context.Context, publicKey string) error {
	return k.keys.DeleteKey(ctx, publicKey)
}
