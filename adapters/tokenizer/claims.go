package tokenizer

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/walletlink/core"
)

// ActionInvite marks a token as an invite proposal
const ActionInvite = "invite_proposal"

// InviteClaims combines standard claims with invite-specific ones.
// iss is the inviter identity did:key, aud the invitee did:pkh and sub the invite message.
type InviteClaims struct {
	jwt.RegisteredClaims
	Action           string `json:"act"`
	Inviter          string `json:"inv"` // inviter did:pkh
	InviterPublicKey string `json:"pke"` // inviter X25519 did:key
	KeyServer        string `json:"ksu"`
	// signed authorization of the iss key by the inviter account
	Registration *core.Registration `json:"reg,omitempty"`
}
