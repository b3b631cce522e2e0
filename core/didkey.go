package core

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/layer-3/walletlink/crypto"
	"github.com/mr-tron/base58"
)

const didKeyPrefix = "did:key:z"

// multicodec prefixes
var (
	codecEd25519 = []byte{0xed, 0x01}
	codecX25519  = []byte{0xec, 0x01}
)

var ErrInvalidDIDKey = errors.New("invalid did:key")

// EncodeEd25519DID encodes an identity key as a did:key
func EncodeEd25519DID(pub ed25519.PublicKey) string {
	return didKeyPrefix + base58.Encode(append(append([]byte{}, codecEd25519...), pub...))
}

// DecodeEd25519DID decodes a did:key produced by EncodeEd25519DID
func DecodeEd25519DID(did string) (ed25519.PublicKey, error) {
	raw, err := decodeDID(did, codecEd25519, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeX25519DID encodes an agreement key as a did:key
func EncodeX25519DID(pub crypto.PublicKey) string {
	return didKeyPrefix + base58.Encode(append(append([]byte{}, codecX25519...), pub[:]...))
}

// DecodeX25519DID decodes a did:key produced by EncodeX25519DID
func DecodeX25519DID(did string) (crypto.PublicKey, error) {
	var pub crypto.PublicKey
	raw, err := decodeDID(did, codecX25519, len(pub))
	if err != nil {
		return pub, err
	}
	copy(pub[:], raw)
	return pub, nil
}

func decodeDID(did string, codec []byte, size int) ([]byte, error) {
	if !strings.HasPrefix(did, didKeyPrefix) {
		return nil, fmt.Errorf("%q: %w", did, ErrInvalidDIDKey)
	}
	raw, err := base58.Decode(strings.TrimPrefix(did, didKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidDIDKey)
	}
	if !bytes.HasPrefix(raw, codec) || len(raw) != len(codec)+size {
		return nil, fmt.Errorf("unexpected key codec or size: %w", ErrInvalidDIDKey)
	}
	return raw[len(codec):], nil
}
