package keystore

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
)

// MemoryStore is an in-memory implementation of ports.KeyStore
type MemoryStore struct {
	symmetric map[string]crypto.SymmetricKey
	private   map[string]crypto.PrivateKey
	public    map[string]crypto.PublicKey
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty key store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		symmetric: make(map[string]crypto.SymmetricKey),
		private:   make(map[string]crypto.PrivateKey),
		public:    make(map[string]crypto.PublicKey),
	}
}

var _ ports.KeyStore = (*MemoryStore)(nil)

func (s *MemoryStore) SetSymmetricKey(ctx context.Context, key crypto.SymmetricKey, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symmetric[topic] = key
	return nil
}

func (s *MemoryStore) GetSymmetricKey(ctx context.Context, topic string) (crypto.SymmetricKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.symmetric[topic]
	if !ok {
		return crypto.SymmetricKey{}, core.ErrKeyNotFound
	}
	return key, nil
}

func (s *MemoryStore) SetPrivateKey(ctx context.Context, pub crypto.PublicKey, priv crypto.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private[pub.Hex()] = priv
	return nil
}

func (s *MemoryStore) GetPrivateKey(ctx context.Context, publicKeyHex string) (crypto.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	priv, ok := s.private[publicKeyHex]
	if !ok {
		return crypto.PrivateKey{}, core.ErrKeyNotFound
	}
	return priv, nil
}

func (s *MemoryStore) SetPublicKey(ctx context.Context, pub crypto.PublicKey, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.public[topic] = pub
	return nil
}

func (s *MemoryStore) GetPublicKey(ctx context.Context, topic string) (crypto.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.public[topic]
	if !ok {
		return crypto.PublicKey{}, core.ErrKeyNotFound
	}
	return pub, nil
}

func (s *MemoryStore) DeleteKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.symmetric, id)
	delete(s.private, id)
	delete(s.public, id)
	return nil
}

// IdentityMemoryStore is an in-memory implementation of ports.IdentityKeyStore
type IdentityMemoryStore struct {
	keys          map[string]ed25519.PrivateKey
	registrations map[string]core.Registration
	mu            sync.RWMutex
}

// NewIdentityMemoryStore creates an empty identity key store
func NewIdentityMemoryStore() *IdentityMemoryStore {
	return &IdentityMemoryStore{
		keys:          make(map[string]ed25519.PrivateKey),
		registrations: make(map[string]core.Registration),
	}
}

var _ ports.IdentityKeyStore = (*IdentityMemoryStore)(nil)

func (s *IdentityMemoryStore) SetIdentityKey(ctx context.Context, account string, key ed25519.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[account] = key
	return nil
}

func (s *IdentityMemoryStore) GetIdentityKey(ctx context.Context, account string) (ed25519.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[account]
	if !ok {
		return nil, core.ErrIdentityKeyNotFound
	}
	return key, nil
}

func (s *IdentityMemoryStore) DeleteIdentityKey(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, account)
	delete(s.registrations, account)
	return nil
}

func (s *IdentityMemoryStore) SetRegistration(ctx context.Context, registration core.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[registration.Account] = registration
	return nil
}

func (s *IdentityMemoryStore) GetRegistration(ctx context.Context, account string) (core.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registrations[account]
	if !ok {
		return core.Registration{}, core.ErrIdentityKeyNotFound
	}
	return reg, nil
}
