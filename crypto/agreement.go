package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// SharedSecret is the raw output of an X25519 agreement
type SharedSecret struct {
	raw [32]byte
}

// Agree performs X25519 between a local private key and a peer public key
func Agree(priv PrivateKey, pub PublicKey) (SharedSecret, error) {
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		// curve25519 reports the all-zero output as an error
		return SharedSecret{}, fmt.Errorf("%v: %w", err, ErrLowOrderPoint)
	}
	var s SharedSecret
	copy(s.raw[:], out)
	Wipe(out)
	return s, nil
}

// Topic is the lower-case hex SHA-256 of the raw secret
func (s SharedSecret) Topic() string {
	sum := sha256.Sum256(s.raw[:])
	return hex.EncodeToString(sum[:])
}

// SymmetricKey expands the raw secret with HKDF-SHA256
func (s SharedSecret) SymmetricKey() SymmetricKey {
	var key SymmetricKey
	r := hkdf.New(sha256.New, s.raw[:], nil, nil)
	if _, err := io.ReadFull(r, key[:]); err != nil {
		// hkdf can only fail past 255 blocks of output
		panic(err)
	}
	return key
}

// Bytes returns a copy of the raw secret
func (s SharedSecret) Bytes() []byte {
	out := make([]byte, len(s.raw))
	copy(out, s.raw[:])
	return out
}
