package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidPublicKey    = errors.New("invalid x25519 public key")
	ErrInvalidPrivateKey   = errors.New("invalid x25519 private key")
	ErrInvalidSymmetricKey = errors.New("invalid symmetric key")
	ErrLowOrderPoint       = errors.New("agreement produced a low order point")
)

type PrivateKey [32]byte
type PublicKey [32]byte
type SymmetricKey [32]byte

// KeyPair is an X25519 key pair
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// GenerateKeyPair creates a fresh clamped X25519 key pair
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("failed to read entropy: %w", err)
	}
	clamp(&kp.Private)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// Public derives the public key of p
func (p PrivateKey) Public() (PublicKey, error) {
	var pub PublicKey
	out, err := curve25519.X25519(p[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("%v: %w", err, ErrInvalidPrivateKey)
	}
	copy(pub[:], out)
	return pub, nil
}

func (p PrivateKey) Hex() string   { return hex.EncodeToString(p[:]) }
func (p PublicKey) Hex() string    { return hex.EncodeToString(p[:]) }
func (k SymmetricKey) Hex() string { return hex.EncodeToString(k[:]) }

// ParsePublicKey decodes a hex encoded 32 byte public key
func ParsePublicKey(s string) (PublicKey, error) {
	var pub PublicKey
	if err := decodeHex32(s, pub[:]); err != nil {
		return pub, fmt.Errorf("%v: %w", err, ErrInvalidPublicKey)
	}
	return pub, nil
}

// ParsePrivateKey decodes a hex encoded 32 byte private key
func ParsePrivateKey(s string) (PrivateKey, error) {
	var priv PrivateKey
	if err := decodeHex32(s, priv[:]); err != nil {
		return priv, fmt.Errorf("%v: %w", err, ErrInvalidPrivateKey)
	}
	return priv, nil
}

// ParseSymmetricKey decodes a hex encoded 32 byte symmetric key
func ParseSymmetricKey(s string) (SymmetricKey, error) {
	var key SymmetricKey
	if err := decodeHex32(s, key[:]); err != nil {
		return key, fmt.Errorf("%v: %w", err, ErrInvalidSymmetricKey)
	}
	return key, nil
}

// NewSymmetricKey returns a random symmetric key
func NewSymmetricKey() (SymmetricKey, error) {
	var key SymmetricKey
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("failed to read entropy: %w", err)
	}
	return key, nil
}

// TopicFromPublicKey hashes a raw public key into a topic
func TopicFromPublicKey(pub PublicKey) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:])
}

// Wipe zeroes key material in place
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func decodeHex32(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(dst, b)
	return nil
}

func clamp(k *PrivateKey) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
