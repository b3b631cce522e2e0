package ports

import (
	"context"
	"crypto/ed25519"

	"github.com/layer-3/walletlink/core"
)

// IdentitySigner signs a canonical registration message on behalf of an account.
// Returning core.ErrSignatureRejected aborts the registration.
type IdentitySigner interface {
	Sign(ctx context.Context, account string, message string) (string, error)
}

// SignatureVerifier checks that signature over message was produced by account
type SignatureVerifier interface {
	Verify(ctx context.Context, account string, message string, signature string) error
}

// IdentityKeyStore keeps the per-account Ed25519 identity keys and the
// registrations authorizing them. DeleteIdentityKey drops both.
type IdentityKeyStore interface {
	SetIdentityKey(ctx context.Context, account string, key ed25519.PrivateKey) error
	GetIdentityKey(ctx context.Context, account string) (ed25519.PrivateKey, error)
	DeleteIdentityKey(ctx context.Context, account string) error
	SetRegistration(ctx context.Context, registration core.Registration) error
	GetRegistration(ctx context.Context, account string) (core.Registration, error)
}

// InviteClaims is the decoded content of an invite authorization token
type InviteClaims struct {
	IdentityKey      ed25519.PublicKey
	InviterAccount   string
	InviteeAccount   string
	Message          string
	InviterPublicKey string
	KeyServer        string
	Registration     core.Registration
}

// InviteTokenizer converts invite claims to signed tokens and back
type InviteTokenizer interface {
	InviteToToken(claims InviteClaims, identityKey ed25519.PrivateKey) (string, error)
	TokenToInvite(token string, inviteeAccount string) (*InviteClaims, error)
}
