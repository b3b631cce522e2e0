package tokenizer

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
)

// JWTTokenizer implements the InviteTokenizer interface using EdDSA JWTs
type JWTTokenizer struct {
	ttl time.Duration
	now func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer() *JWTTokenizer {
	return &JWTTokenizer{ttl: core.TTLActive, now: time.Now}
}

var _ ports.InviteTokenizer = (*JWTTokenizer)(nil)

// InviteToToken signs invite claims with the inviter's identity key
func (j *JWTTokenizer) InviteToToken(invite ports.InviteClaims, identityKey ed25519.PrivateKey) (string, error) {
	inviter, err := core.ParseAccount(invite.InviterAccount)
	if err != nil {
		return "", err
	}
	invitee, err := core.ParseAccount(invite.InviteeAccount)
	if err != nil {
		return "", err
	}
	inviterKey, err := crypto.ParsePublicKey(invite.InviterPublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to parse inviter key: %w", err)
	}

	now := j.now()
	claims := InviteClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    core.EncodeEd25519DID(identityKey.Public().(ed25519.PublicKey)),
			Subject:   invite.Message,
			Audience:  jwt.ClaimStrings{invitee.DID()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
		Action:           ActionInvite,
		Inviter:          inviter.DID(),
		InviterPublicKey: core.EncodeX25519DID(inviterKey),
		KeyServer:        invite.KeyServer,
	}
	if invite.Registration.Signature != "" {
		reg := invite.Registration
		claims.Registration = &reg
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)

	signedToken, err := token.SignedString(identityKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToInvite verifies an invite token addressed to inviteeAccount
func (j *JWTTokenizer) TokenToInvite(tokenStr string, inviteeAccount string) (*ports.InviteClaims, error) {
	invitee, err := core.ParseAccount(inviteeAccount)
	if err != nil {
		return nil, err
	}

	// Parse token; the verification key is the issuer did:key
	token, err := jwt.ParseWithClaims(tokenStr, &InviteClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		claims, ok := token.Claims.(*InviteClaims)
		if !ok {
			return nil, fmt.Errorf("invalid claims type")
		}
		return core.DecodeEd25519DID(claims.Issuer)
	}, jwt.WithAudience(invitee.DID()), jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %v: %w", err, core.ErrInvalidToken)
	}

	// Validate token
	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*InviteClaims)
	if !ok || claims.Action != ActionInvite {
		return nil, core.ErrInvalidToken
	}

	identityKey, err := core.DecodeEd25519DID(claims.Issuer)
	if err != nil {
		return nil, err
	}
	inviter, err := core.AccountFromDID(claims.Inviter)
	if err != nil {
		return nil, err
	}
	inviterKey, err := core.DecodeX25519DID(claims.InviterPublicKey)
	if err != nil {
		return nil, err
	}

	invite := &ports.InviteClaims{
		IdentityKey:      identityKey,
		InviterAccount:   inviter.String(),
		InviteeAccount:   invitee.String(),
		Message:          claims.Subject,
		InviterPublicKey: inviterKey.Hex(),
		KeyServer:        claims.KeyServer,
	}
	if claims.Registration != nil {
		invite.Registration = *claims.Registration
	}
	return invite, nil
}
