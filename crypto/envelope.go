package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeSymmetric byte = 0
	envelopeSenderKey byte = 1
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrDecrypt           = errors.New("failed to decrypt envelope")
)

// Sealed is a decoded envelope whose body is still encrypted
type Sealed struct {
	// SenderPublicKey is non-nil for sender-key envelopes
	SenderPublicKey *PublicKey
	nonce           []byte
	ciphertext      []byte
}

// Seal encrypts plaintext under key. A non-nil sender produces a sender-key envelope.
func Seal(key SymmetricKey, sender *PublicKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	header := []byte{envelopeSymmetric}
	if sender != nil {
		header = append([]byte{envelopeSenderKey}, sender[:]...)
	}

	out := make([]byte, 0, len(header)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, header), nil
}

// ParseEnvelope splits a serialized envelope without decrypting it
func ParseEnvelope(data []byte) (Sealed, error) {
	if len(data) == 0 {
		return Sealed{}, ErrMalformedEnvelope
	}
	var s Sealed
	rest := data[1:]
	switch data[0] {
	case envelopeSymmetric:
	case envelopeSenderKey:
		if len(rest) < 32 {
			return Sealed{}, ErrMalformedEnvelope
		}
		var pub PublicKey
		copy(pub[:], rest[:32])
		s.SenderPublicKey = &pub
		rest = rest[32:]
	default:
		return Sealed{}, fmt.Errorf("unknown envelope type %d: %w", data[0], ErrMalformedEnvelope)
	}
	if len(rest) < chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return Sealed{}, ErrMalformedEnvelope
	}
	s.nonce = rest[:chacha20poly1305.NonceSize]
	s.ciphertext = rest[chacha20poly1305.NonceSize:]
	return s, nil
}

// Open decrypts a parsed envelope with key
func (s Sealed) Open(key SymmetricKey) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to init aead: %w", err)
	}
	header := []byte{envelopeSymmetric}
	if s.SenderPublicKey != nil {
		header = append([]byte{envelopeSenderKey}, s.SenderPublicKey[:]...)
	}
	plaintext, err := aead.Open(nil, s.nonce, s.ciphertext, header)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
