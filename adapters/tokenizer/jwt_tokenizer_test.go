package tokenizer_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/layer-3/walletlink/adapters/tokenizer"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	inviterAccount = "eip155:1:0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	inviteeAccount = "eip155:1:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func newInvite(t *testing.T) (ports.InviteClaims, ed25519.PrivateKey) {
	pub, identity, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	return ports.InviteClaims{
		InviterAccount:   inviterAccount,
		InviteeAccount:   inviteeAccount,
		Message:          "let's talk",
		InviterPublicKey: kp.Public.Hex(),
		KeyServer:        "https://keys.example.com",
		Registration: core.Registration{
			Account:     inviterAccount,
			IdentityKey: core.EncodeEd25519DID(pub),
			KeyServer:   "https://keys.example.com",
			Nonce:       "n-1",
			IssuedAt:    1700000000,
			Signature:   "0x01",
		},
	}, identity
}

func TestInviteTokenRoundTrip(t *testing.T) {
	tk := tokenizer.NewJWTTokenizer()
	invite, identity := newInvite(t)

	token, err := tk.InviteToToken(invite, identity)
	require.NoError(t, err)

	claims, err := tk.TokenToInvite(token, inviteeAccount)
	require.NoError(t, err)
	assert.Equal(t, invite.Message, claims.Message)
	assert.Equal(t, invite.InviterAccount, claims.InviterAccount)
	assert.Equal(t, invite.InviterPublicKey, claims.InviterPublicKey)
	assert.Equal(t, invite.KeyServer, claims.KeyServer)
	assert.Equal(t, invite.Registration, claims.Registration)
	assert.True(t, identity.Public().(ed25519.PublicKey).Equal(claims.IdentityKey))
}

func TestInviteTokenWithoutRegistration(t *testing.T) {
	tk := tokenizer.NewJWTTokenizer()
	invite, identity := newInvite(t)
	invite.Registration = core.Registration{}

	token, err := tk.InviteToToken(invite, identity)
	require.NoError(t, err)

	claims, err := tk.TokenToInvite(token, inviteeAccount)
	require.NoError(t, err)
	assert.Empty(t, claims.Registration.Signature)
}

func TestInviteTokenWrongAudience(t *testing.T) {
	tk := tokenizer.NewJWTTokenizer()
	invite, identity := newInvite(t)

	token, err := tk.InviteToToken(invite, identity)
	require.NoError(t, err)

	_, err = tk.TokenToInvite(token, inviterAccount)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestInviteTokenTampered(t *testing.T) {
	tk := tokenizer.NewJWTTokenizer()
	invite, identity := newInvite(t)

	token, err := tk.InviteToToken(invite, identity)
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, err = tk.TokenToInvite(tampered, inviteeAccount)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestInviteTokenRejectsBadAccount(t *testing.T) {
	tk := tokenizer.NewJWTTokenizer()
	invite, identity := newInvite(t)
	invite.InviteeAccount = "eip155:1:not-an-address"

	_, err := tk.InviteToToken(invite, identity)
	assert.ErrorIs(t, err, core.ErrInvalidAccount)
}
