package http

import (
	"crypto/ed25519"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletlink"
	"github.com/layer-3/walletlink/core"
)

// Handlers exposes the client services over HTTP
type Handlers struct {
	client *walletlink.Client
}

// NewHandlers creates handlers for client
func NewHandlers(client *walletlink.Client) *Handlers {
	return &Handlers{
		client: client,
	}
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNoPairingMatchingTopic),
		errors.Is(err, core.ErrNoSessionMatchingTopic),
		errors.Is(err, core.ErrNoProposalMatchingID),
		errors.Is(err, core.ErrNoInviteMatchingID),
		errors.Is(err, core.ErrIdentityKeyNotFound),
		errors.Is(err, core.ErrInviteKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnauthorizedNonController):
		return http.StatusForbidden
	case errors.Is(err, core.ErrPairingAlreadyKnown),
		errors.Is(err, core.ErrSessionNotAcknowledged):
		return http.StatusConflict
	case errors.Is(err, core.ErrMalformedURI),
		errors.Is(err, core.ErrInvalidMethod),
		errors.Is(err, core.ErrInvalidAccount),
		errors.Is(err, core.ErrInvalidExtendTime),
		errors.Is(err, core.ErrAgreement):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// Health reports liveness
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreatePairing creates a pairing URI to hand to a peer
func (h *Handlers) CreatePairing(c *gin.Context) {
	uri, err := h.client.Pairing.Create(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uri": uri.String(), "topic": uri.Topic})
}

// Pair consumes a pairing URI received from a peer
func (h *Handlers) Pair(c *gin.Context) {
	var req struct {
		URI string `json:"uri" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.client.Pairing.Pair(c.Request.Context(), req.URI); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Pairings(c *gin.Context) {
	pairings, err := h.client.Pairing.Pairings(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairings": pairings})
}

// ExtendPairing moves a pairing's expiry to now + ttl_seconds
func (h *Handlers) ExtendPairing(c *gin.Context) {
	var req struct {
		TTLSeconds int64 `json:"ttl_seconds" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.client.Pairing.Extend(c.Request.Context(), c.Param("topic"), time.Duration(req.TTLSeconds)*time.Second); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeletePairing(c *gin.Context) {
	if err := h.client.Pairing.Delete(c.Request.Context(), c.Param("topic")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Propose sends a session proposal over an established pairing
func (h *Handlers) Propose(c *gin.Context) {
	var req struct {
		Methods []string `json:"methods" binding:"required"`
		Chains  []string `json:"chains"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	permissions := core.Permissions{Methods: req.Methods, Chains: req.Chains}
	id, err := h.client.Pairing.Propose(c.Request.Context(), c.Param("topic"), permissions, core.RelayOptions{})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// Proposals lists incoming proposals awaiting a decision
func (h *Handlers) Proposals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"proposals": h.client.Pairing.PendingProposals()})
}

func (h *Handlers) pendingProposal(c *gin.Context) (core.IncomingProposal, bool) {
	id, ok := paramID(c)
	if !ok {
		return core.IncomingProposal{}, false
	}
	for _, p := range h.client.Pairing.PendingProposals() {
		if p.ID == id {
			return p, true
		}
	}
	fail(c, core.ErrNoProposalMatchingID)
	return core.IncomingProposal{}, false
}

// ApproveProposal settles a session for a pending proposal
func (h *Handlers) ApproveProposal(c *gin.Context) {
	var req struct {
		Accounts []string `json:"accounts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	proposal, ok := h.pendingProposal(c)
	if !ok {
		return
	}

	topic, err := h.client.Pairing.RespondSessionPropose(c.Request.Context(), proposal, req.Accounts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topic": topic})
}

func (h *Handlers) RejectProposal(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	_ = c.ShouldBindJSON(&req)
	proposal, ok := h.pendingProposal(c)
	if !ok {
		return
	}

	if err := h.client.Pairing.RejectSessionPropose(c.Request.Context(), proposal, req.Reason); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Sessions(c *gin.Context) {
	sessions, err := h.client.Sessions.Sessions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handlers) Session(c *gin.Context) {
	session, err := h.client.Sessions.Session(c.Request.Context(), c.Param("topic"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// UpdateMethods replaces the methods of a session this peer controls
func (h *Handlers) UpdateMethods(c *gin.Context) {
	var req struct {
		Methods []string `json:"methods" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.client.Controller.UpdateMethods(c.Request.Context(), c.Param("topic"), req.Methods); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateAccounts replaces the accounts of a session this peer controls
func (h *Handlers) UpdateAccounts(c *gin.Context) {
	var req struct {
		Accounts []string `json:"accounts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.client.Controller.UpdateAccounts(c.Request.Context(), c.Param("topic"), req.Accounts); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) UpdateExpiry(c *gin.Context) {
	var req struct {
		TTLSeconds int64 `json:"ttl_seconds" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.client.Controller.UpdateExpiry(c.Request.Context(), c.Param("topic"), time.Duration(req.TTLSeconds)*time.Second); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.client.Sessions.Delete(c.Request.Context(), c.Param("topic"), c.Query("reason")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Identity returns the did:key of an account's registered identity key.
// Registration itself needs the account's signer and is only available in-process.
func (h *Handlers) Identity(c *gin.Context) {
	key, err := h.client.Identity.IdentityKey(c.Request.Context(), c.Param("account"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"did": core.EncodeEd25519DID(key.Public().(ed25519.PublicKey))})
}

func (h *Handlers) DeleteIdentity(c *gin.Context) {
	if err := h.client.Identity.UnregisterIdentity(c.Request.Context(), c.Param("account")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterInvite publishes an invite key for an account with a registered identity
func (h *Handlers) RegisterInvite(c *gin.Context) {
	var req struct {
		Account string `json:"account" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	pub, err := h.client.Identity.RegisterInvite(c.Request.Context(), req.Account)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": pub})
}

func (h *Handlers) InviteKey(c *gin.Context) {
	pub, err := h.client.Identity.InviteKey(c.Param("account"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": pub})
}

func (h *Handlers) UnregisterInvite(c *gin.Context) {
	if err := h.client.Identity.UnregisterInvite(c.Request.Context(), c.Param("account")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendInvite invites the owner of an invite key to open a thread
func (h *Handlers) SendInvite(c *gin.Context) {
	var req struct {
		Message          string `json:"message"`
		InviterAccount   string `json:"inviter_account" binding:"required"`
		InviteeAccount   string `json:"invitee_account" binding:"required"`
		InviteePublicKey string `json:"invitee_public_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	id, err := h.client.Invites.Invite(c.Request.Context(), core.Invite{
		Message:          req.Message,
		InviterAccount:   req.InviterAccount,
		InviteeAccount:   req.InviteeAccount,
		InviteePublicKey: req.InviteePublicKey,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (h *Handlers) SentInvites(c *gin.Context) {
	invites, err := h.client.Invites.SentInvites(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

func (h *Handlers) ReceivedInvites(c *gin.Context) {
	invites, err := h.client.Invites.ReceivedInvites(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

func (h *Handlers) AcceptInvite(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	topic, err := h.client.Invites.Accept(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_topic": topic})
}

func (h *Handlers) RejectInvite(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	id, ok := paramID(c)
	if !ok {
		return
	}

	if err := h.client.Invites.Reject(c.Request.Context(), id, req.Reason); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Threads(c *gin.Context) {
	threads, err := h.client.Invites.Threads(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}
