package keystore

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of ports.KeyStore.
// Key material is stored hex encoded; lifetimes are driven by the owning sequences.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis key store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "walletlink:keys:",
	}
}

var _ ports.KeyStore = (*RedisStore)(nil)

func (s *RedisStore) key(kind, id string) string {
	return s.prefix + kind + ":" + id
}

func (s *RedisStore) set(ctx context.Context, kind, id string, value []byte) error {
	if err := s.client.Set(ctx, s.key(kind, id), hex.EncodeToString(value), 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s key: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, kind, id string) (string, error) {
	val, err := s.client.Get(ctx, s.key(kind, id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s key: %w", kind, err)
	}
	return val, nil
}

func (s *RedisStore) SetSymmetricKey(ctx context.Context, key crypto.SymmetricKey, topic string) error {
	return s.set(ctx, "sym", topic, key[:])
}

func (s *RedisStore) GetSymmetricKey(ctx context.Context, topic string) (crypto.SymmetricKey, error) {
	val, err := s.get(ctx, "sym", topic)
	if err != nil {
		return crypto.SymmetricKey{}, err
	}
	return crypto.ParseSymmetricKey(val)
}

func (s *RedisStore) SetPrivateKey(ctx context.Context, pub crypto.PublicKey, priv crypto.PrivateKey) error {
	return s.set(ctx, "priv", pub.Hex(), priv[:])
}

func (s *RedisStore) GetPrivateKey(ctx context.Context, publicKeyHex string) (crypto.PrivateKey, error) {
	val, err := s.get(ctx, "priv", publicKeyHex)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	return crypto.ParsePrivateKey(val)
}

func (s *RedisStore) SetPublicKey(ctx context.Context, pub crypto.PublicKey, topic string) error {
	return s.set(ctx, "pub", topic, pub[:])
}

func (s *RedisStore) GetPublicKey(ctx context.Context, topic string) (crypto.PublicKey, error) {
	val, err := s.get(ctx, "pub", topic)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.ParsePublicKey(val)
}

func (s *RedisStore) DeleteKey(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key("sym", id), s.key("priv", id), s.key("pub", id)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// IdentityRedisStore is a Redis implementation of ports.IdentityKeyStore
type IdentityRedisStore struct {
	client *redis.Client
	prefix string
}

// NewIdentityRedisStore creates a new Redis identity key store
func NewIdentityRedisStore(client *redis.Client) *IdentityRedisStore {
	return &IdentityRedisStore{
		client: client,
		prefix: "walletlink:identity:",
	}
}

var _ ports.IdentityKeyStore = (*IdentityRedisStore)(nil)

func (s *IdentityRedisStore) SetIdentityKey(ctx context.Context, account string, key ed25519.PrivateKey) error {
	if err := s.client.Set(ctx, s.prefix+account, hex.EncodeToString(key.Seed()), 0).Err(); err != nil {
		return fmt.Errorf("failed to store identity key: %w", err)
	}
	return nil
}

func (s *IdentityRedisStore) GetIdentityKey(ctx context.Context, account string) (ed25519.PrivateKey, error) {
	val, err := s.client.Get(ctx, s.prefix+account).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrIdentityKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity key: %w", err)
	}
	seed, err := hex.DecodeString(val)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("corrupt identity key for %s", account)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (s *IdentityRedisStore) DeleteIdentityKey(ctx context.Context, account string) error {
	if err := s.client.Del(ctx, s.prefix+account, s.registrationKey(account)).Err(); err != nil {
		return fmt.Errorf("failed to delete identity key: %w", err)
	}
	return nil
}

func (s *IdentityRedisStore) registrationKey(account string) string {
	return s.prefix + "registration:" + account
}

func (s *IdentityRedisStore) SetRegistration(ctx context.Context, registration core.Registration) error {
	data, err := json.Marshal(registration)
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}
	if err := s.client.Set(ctx, s.registrationKey(registration.Account), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store registration: %w", err)
	}
	return nil
}

func (s *IdentityRedisStore) GetRegistration(ctx context.Context, account string) (core.Registration, error) {
	data, err := s.client.Get(ctx, s.registrationKey(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Registration{}, core.ErrIdentityKeyNotFound
	}
	if err != nil {
		return core.Registration{}, fmt.Errorf("failed to read registration: %w", err)
	}
	var reg core.Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return core.Registration{}, fmt.Errorf("corrupt registration for %s: %w", account, err)
	}
	return reg, nil
}
