package core

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRegistration = errors.New("registration does not authorize identity key")

// Registration is an account owner's signed authorization of an identity key.
// It travels with every invite so the invitee can tie the token issuer to the inviter.
type Registration struct {
	Account     string `json:"account"`
	IdentityKey string `json:"identityKey"`
	KeyServer   string `json:"keyServer"`
	Nonce       string `json:"nonce"`
	IssuedAt    int64  `json:"issuedAt"`
	Signature   string `json:"signature"`
}

// Message renders the statement the account owner signs
func (r Registration) Message() (string, error) {
	acc, err := ParseAccount(r.Account)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your account:\n", r.KeyServer)
	fmt.Fprintf(&b, "%s\n\n", acc.Address)
	b.WriteString("I further authorize this app to send and receive messages on my behalf using the following identity key:\n")
	fmt.Fprintf(&b, "%s\n\n", r.IdentityKey)
	fmt.Fprintf(&b, "URI: %s\n", r.KeyServer)
	b.WriteString("Version: 1\n")
	fmt.Fprintf(&b, "Chain ID: %s\n", acc.Reference)
	fmt.Fprintf(&b, "Nonce: %s\n", r.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", time.Unix(r.IssuedAt, 0).UTC().Format(time.RFC3339))
	return b.String(), nil
}

// Authorizes checks that r names account as signer and identityKey as the
// authorized key. The signature itself is left to a verifier.
func (r Registration) Authorizes(account string, identityKey ed25519.PublicKey) error {
	if r.Signature == "" {
		return fmt.Errorf("unsigned registration: %w", ErrInvalidRegistration)
	}
	signer, err := ParseAccount(r.Account)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidRegistration)
	}
	acc, err := ParseAccount(account)
	if err != nil {
		return err
	}
	if !signer.Equal(acc) {
		return fmt.Errorf("registered by %s, not %s: %w", signer, acc, ErrInvalidRegistration)
	}
	if r.IdentityKey != EncodeEd25519DID(identityKey) {
		return fmt.Errorf("registration authorizes %s: %w", r.IdentityKey, ErrInvalidRegistration)
	}
	return nil
}
