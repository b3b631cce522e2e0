package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
)

// InviteService runs the invite handshake. The inviter addresses the
// invitee's published invite key; an accepted invite yields a thread.
type InviteService struct {
	networking ports.Networking
	kms        *KeyManagementService
	identity   *IdentityService
	tokenizer  ports.InviteTokenizer
	sent       ports.SequenceStore[core.SentInvite]
	received   ports.SequenceStore[core.ReceivedInvite]
	threads    ports.SequenceStore[core.Thread]
	cfg        config

	mu       sync.RWMutex
	onInvite func(core.ReceivedInvite)
	onThread func(core.Thread)
}

// NewInviteService creates an invite service and registers its RPC handlers
func NewInviteService(
	networking ports.Networking,
	kms *KeyManagementService,
	identity *IdentityService,
	tokenizer ports.InviteTokenizer,
	sent ports.SequenceStore[core.SentInvite],
	received ports.SequenceStore[core.ReceivedInvite],
	threads ports.SequenceStore[core.Thread],
	opts ...Option,
) *InviteService {
	s := &InviteService{
		networking: networking,
		kms:        kms,
		identity:   identity,
		tokenizer:  tokenizer,
		sent:       sent,
		received:   received,
		threads:    threads,
		cfg:        newConfig(opts),
	}

	networking.OnRequest(core.MethodInvitePropose, s.handleInvite)
	networking.OnResponse(core.MethodInvitePropose, s.handleInviteResponse)
	sent.OnExpiration(s.handleSentExpiration)
	received.OnExpiration(s.handleReceivedExpiration)
	threads.OnExpiration(s.handleThreadExpiration)

	return s
}

// OnInvite registers the callback fired for every verified incoming invite
func (s *InviteService) OnInvite(fn func(core.ReceivedInvite)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvite = fn
}

// OnThread registers the callback fired when a thread is created on either side
func (s *InviteService) OnThread(fn func(core.Thread)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onThread = fn
}

// Invite sends an invite to the holder of invite.InviteePublicKey and returns its id
func (s *InviteService) Invite(ctx context.Context, invite core.Invite) (int64, error) {
	inviter, err := core.ParseAccount(invite.InviterAccount)
	if err != nil {
		return 0, err
	}
	invitee, err := core.ParseAccount(invite.InviteeAccount)
	if err != nil {
		return 0, err
	}
	identityKey, err := s.identity.IdentityKey(ctx, inviter.String())
	if err != nil {
		return 0, err
	}
	registration, err := s.identity.Registration(ctx, inviter.String())
	if err != nil {
		return 0, err
	}
	inviteeKey, err := crypto.ParsePublicKey(invite.InviteePublicKey)
	if err != nil {
		return 0, fmt.Errorf("invitee key: %v: %w", err, core.ErrAgreement)
	}

	selfPub, err := s.kms.GenerateKeyPair(ctx)
	if err != nil {
		return 0, err
	}
	secret, err := s.kms.Agree(ctx, selfPub, invite.InviteePublicKey)
	if err != nil {
		_ = s.kms.DeletePrivateKey(ctx, selfPub.Hex())
		return 0, err
	}

	sent := core.SentInvite{
		Message:        invite.Message,
		InviterAccount: inviter.String(),
		InviteeAccount: invitee.String(),
		InviteTopic:    crypto.TopicFromPublicKey(inviteeKey),
		ResponseTopic:  s.kms.DeriveTopic(secret),
		SelfPublicKey:  selfPub.Hex(),
		Status:         core.InvitePending,
	}

	// the same key seals the invite and opens the answer
	symKey := secret.SymmetricKey()
	if err := s.kms.SetSymmetricKey(ctx, symKey, sent.ResponseTopic); err != nil {
		s.release(ctx, sent)
		return 0, err
	}
	if err := s.networking.Subscribe(ctx, sent.ResponseTopic); err != nil {
		s.release(ctx, sent)
		return 0, fmt.Errorf("failed to subscribe to response topic: %w", err)
	}

	token, err := s.tokenizer.InviteToToken(ports.InviteClaims{
		InviterAccount:   sent.InviterAccount,
		InviteeAccount:   sent.InviteeAccount,
		Message:          sent.Message,
		InviterPublicKey: sent.SelfPublicKey,
		KeyServer:        s.identity.KeyServer(),
		Registration:     registration,
	}, identityKey)
	if err != nil {
		s.release(ctx, sent)
		return 0, fmt.Errorf("failed to create invite token: %w", err)
	}
	req, err := core.NewRPCRequest(core.MethodInvitePropose, core.InviteParams{InviteAuth: token})
	if err != nil {
		s.release(ctx, sent)
		return 0, err
	}

	now := s.cfg.now()
	sent.ID = req.ID
	sent.Timestamp = now
	sent.Expiry = now.Add(core.TTLActive)
	if err := s.sent.Set(ctx, sent); err != nil {
		s.release(ctx, sent)
		return 0, err
	}

	if err := s.send(ctx, req, sent, symKey); err != nil {
		_ = s.sent.Delete(ctx, sent.ResponseTopic)
		s.release(ctx, sent)
		return 0, fmt.Errorf("failed to send invite: %w", err)
	}

	s.cfg.logger.Info("invite sent", watermill.LogFields{"id": sent.ID, "invitee": sent.InviteeAccount})
	s.cfg.emit(ctx, core.EventInviteSent, sent.ResponseTopic, sent.InviteeAccount)
	return sent.ID, nil
}

// SentInvites lists invites we sent that have not expired
func (s *InviteService) SentInvites(ctx context.Context) ([]core.SentInvite, error) {
	return s.sent.GetAll(ctx)
}

// ReceivedInvites lists invites delivered to us that have not expired
func (s *InviteService) ReceivedInvites(ctx context.Context) ([]core.ReceivedInvite, error) {
	return s.received.GetAll(ctx)
}

// Threads lists live threads
func (s *InviteService) Threads(ctx context.Context) ([]core.Thread, error) {
	return s.threads.GetAll(ctx)
}

// Accept answers a pending received invite with a fresh public key and
// creates the thread. It returns the thread topic.
func (s *InviteService) Accept(ctx context.Context, id int64) (string, error) {
	invite, err := s.pendingReceived(ctx, id)
	if err != nil {
		return "", err
	}

	selfPub, err := s.kms.GenerateKeyPair(ctx)
	if err != nil {
		return "", err
	}
	// only the thread key outlives the handshake
	defer func() { _ = s.kms.DeletePrivateKey(ctx, selfPub.Hex()) }()

	secret, err := s.kms.Agree(ctx, selfPub, invite.InviterPublicKey)
	if err != nil {
		return "", err
	}
	thread := core.Thread{
		Topic:       s.kms.DeriveTopic(secret),
		SelfAccount: invite.InviteeAccount,
		PeerAccount: invite.InviterAccount,
		Expiry:      s.cfg.now().Add(core.TTLActive),
	}
	if err := s.openThread(ctx, thread, secret.SymmetricKey()); err != nil {
		return "", err
	}

	resp, err := core.NewRPCResult(invite.ID, core.InviteAccept{PublicKey: selfPub.Hex()})
	if err != nil {
		s.closeThread(ctx, thread)
		return "", err
	}
	if err := s.networking.Respond(ctx, resp, invite.ResponseTopic, core.Envelope{}); err != nil {
		s.closeThread(ctx, thread)
		return "", fmt.Errorf("failed to answer invite: %w", err)
	}

	s.settleReceived(ctx, invite, core.InviteApproved)
	s.threadCreated(ctx, thread)
	return thread.Topic, nil
}

// Reject declines a pending received invite
func (s *InviteService) Reject(ctx context.Context, id int64, reason string) error {
	invite, err := s.pendingReceived(ctx, id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "user rejected"
	}

	resp := core.NewRPCErrorResponse(invite.ID, &core.RPCError{Code: core.CodeUserRejected, Message: reason})
	if err := s.networking.Respond(ctx, resp, invite.ResponseTopic, core.Envelope{}); err != nil {
		return fmt.Errorf("failed to send rejection: %w", err)
	}

	s.settleReceived(ctx, invite, core.InviteRejected)
	s.cfg.emit(ctx, core.EventInviteRejected, invite.ResponseTopic, reason)
	return nil
}

func (s *InviteService) handleInvite(ctx context.Context, payload core.RequestPayload) error {
	account, ok := s.identity.InviteAccount(payload.Topic)
	if !ok {
		return fmt.Errorf("topic %s: %w", payload.Topic, core.ErrInviteKeyNotFound)
	}
	if payload.SenderPublicKey == "" {
		return fmt.Errorf("invite without sender key: %w", core.ErrMalformedPayload)
	}

	inviteKey, err := s.kms.PublicKey(ctx, payload.Topic)
	if err != nil {
		return fmt.Errorf("failed to load invite key: %w", err)
	}
	secret, err := s.kms.Agree(ctx, inviteKey, payload.SenderPublicKey)
	if err != nil {
		return err
	}
	responseTopic := s.kms.DeriveTopic(secret)
	if err := s.kms.SetSymmetricKey(ctx, secret.SymmetricKey(), responseTopic); err != nil {
		return err
	}

	claims, err := s.verifyInvite(ctx, payload, account)
	if err != nil {
		resp := core.NewRPCErrorResponse(payload.Request.ID, &core.RPCError{Code: core.CodeUnauthorized, Message: err.Error()})
		if respErr := s.networking.Respond(ctx, resp, responseTopic, core.Envelope{}); respErr != nil {
			s.cfg.logger.Error("failed to refuse invite", respErr, watermill.LogFields{"topic": responseTopic})
		}
		_ = s.kms.DeleteSymmetricKey(ctx, responseTopic)
		return err
	}

	now := s.cfg.now()
	invite := core.ReceivedInvite{
		ID:               payload.Request.ID,
		Message:          claims.Message,
		InviterAccount:   claims.InviterAccount,
		InviteeAccount:   account,
		InviterPublicKey: payload.SenderPublicKey,
		InviteePublicKey: inviteKey.Hex(),
		ResponseTopic:    responseTopic,
		Status:           core.InvitePending,
		Timestamp:        now,
		Expiry:           now.Add(core.TTLActive),
	}
	if err := s.received.Set(ctx, invite); err != nil {
		_ = s.kms.DeleteSymmetricKey(ctx, responseTopic)
		return err
	}

	s.cfg.logger.Info("invite received", watermill.LogFields{"id": invite.ID, "inviter": invite.InviterAccount})
	s.cfg.emit(ctx, core.EventInviteReceived, responseTopic, invite.InviterAccount)

	s.mu.RLock()
	onInvite := s.onInvite
	s.mu.RUnlock()
	if onInvite != nil {
		onInvite(invite)
	}
	return nil
}

// verifyInvite checks the invite token against the invitee and the envelope
// sender, and that the inviter account authorized the key that signed it
func (s *InviteService) verifyInvite(ctx context.Context, payload core.RequestPayload, account string) (*ports.InviteClaims, error) {
	var params core.InviteParams
	if err := json.Unmarshal(payload.Request.Params, &params); err != nil {
		return nil, fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
	}
	claims, err := s.tokenizer.TokenToInvite(params.InviteAuth, account)
	if err != nil {
		return nil, err
	}
	if claims.InviterPublicKey != payload.SenderPublicKey {
		return nil, fmt.Errorf("token key does not match sender: %w", core.ErrInvalidToken)
	}
	if err := s.identity.VerifyRegistration(ctx, claims.Registration, claims.InviterAccount, claims.IdentityKey); err != nil {
		return nil, fmt.Errorf("inviter registration: %v: %w", err, core.ErrInvalidToken)
	}
	return claims, nil
}

func (s *InviteService) handleInviteResponse(ctx context.Context, payload core.ResponsePayload) error {
	sent, ok, err := s.sent.Get(ctx, payload.Topic)
	if err != nil {
		return err
	}
	if !ok || sent.ID != payload.Response.ID || sent.Status != core.InvitePending {
		s.cfg.logger.Debug("response for unknown invite", watermill.LogFields{"topic": payload.Topic, "id": payload.Response.ID})
		return nil
	}

	if rpcErr := payload.Response.Error; rpcErr != nil {
		s.settleSent(ctx, sent, core.InviteRejected)
		s.cfg.logger.Info("invite rejected", watermill.LogFields{"id": sent.ID, "code": rpcErr.Code})
		s.cfg.emit(ctx, core.EventInviteRejected, sent.ResponseTopic, rpcErr.Message)
		return nil
	}

	var accept core.InviteAccept
	if err := json.Unmarshal(payload.Response.Result, &accept); err != nil {
		s.settleSent(ctx, sent, core.InviteRejected)
		return fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
	}
	selfPub, err := crypto.ParsePublicKey(sent.SelfPublicKey)
	if err != nil {
		return err
	}
	secret, err := s.kms.Agree(ctx, selfPub, accept.PublicKey)
	if err != nil {
		s.settleSent(ctx, sent, core.InviteRejected)
		return err
	}

	thread := core.Thread{
		Topic:       s.kms.DeriveTopic(secret),
		SelfAccount: sent.InviterAccount,
		PeerAccount: sent.InviteeAccount,
		Expiry:      s.cfg.now().Add(core.TTLActive),
	}
	if err := s.openThread(ctx, thread, secret.SymmetricKey()); err != nil {
		return err
	}

	s.settleSent(ctx, sent, core.InviteApproved)
	s.threadCreated(ctx, thread)
	return nil
}

func (s *InviteService) openThread(ctx context.Context, thread core.Thread, key crypto.SymmetricKey) error {
	if err := s.kms.SetSymmetricKey(ctx, key, thread.Topic); err != nil {
		return err
	}
	if err := s.networking.Subscribe(ctx, thread.Topic); err != nil {
		_ = s.kms.DeleteSymmetricKey(ctx, thread.Topic)
		return fmt.Errorf("failed to subscribe to thread: %w", err)
	}
	if err := s.threads.Set(ctx, thread); err != nil {
		s.closeThread(ctx, thread)
		return err
	}
	return nil
}

func (s *InviteService) closeThread(ctx context.Context, thread core.Thread) {
	_ = s.threads.Delete(ctx, thread.Topic)
	if err := s.networking.Unsubscribe(ctx, thread.Topic); err != nil {
		s.cfg.logger.Error("failed to unsubscribe", err, watermill.LogFields{"topic": thread.Topic})
	}
	if err := s.kms.DeleteSymmetricKey(ctx, thread.Topic); err != nil {
		s.cfg.logger.Error("failed to delete thread key", err, watermill.LogFields{"topic": thread.Topic})
	}
}

func (s *InviteService) threadCreated(ctx context.Context, thread core.Thread) {
	s.cfg.logger.Info("thread created", watermill.LogFields{"topic": thread.Topic, "peer": thread.PeerAccount})
	s.cfg.emit(ctx, core.EventThreadCreated, thread.Topic, thread.PeerAccount)

	s.mu.RLock()
	onThread := s.onThread
	s.mu.RUnlock()
	if onThread != nil {
		onThread(thread)
	}
}

func (s *InviteService) pendingReceived(ctx context.Context, id int64) (core.ReceivedInvite, error) {
	invites, err := s.received.GetAll(ctx)
	if err != nil {
		return core.ReceivedInvite{}, err
	}
	for _, invite := range invites {
		if invite.ID == id && invite.Status == core.InvitePending {
			return invite, nil
		}
	}
	return core.ReceivedInvite{}, core.ErrNoInviteMatchingID
}

// settleSent records the outcome of a sent invite and releases its handshake keys
func (s *InviteService) settleSent(ctx context.Context, sent core.SentInvite, status core.InviteStatus) {
	sent.Status = status
	if err := s.sent.Set(ctx, sent); err != nil {
		s.cfg.logger.Error("failed to update invite", err, watermill.LogFields{"id": sent.ID})
	}
	s.release(ctx, sent)
}

func (s *InviteService) settleReceived(ctx context.Context, invite core.ReceivedInvite, status core.InviteStatus) {
	invite.Status = status
	if err := s.received.Set(ctx, invite); err != nil {
		s.cfg.logger.Error("failed to update invite", err, watermill.LogFields{"id": invite.ID})
	}
	if err := s.kms.DeleteSymmetricKey(ctx, invite.ResponseTopic); err != nil {
		s.cfg.logger.Error("failed to delete response key", err, watermill.LogFields{"topic": invite.ResponseTopic})
	}
}

// release drops the keys and subscription of the inviter side of a handshake
func (s *InviteService) release(ctx context.Context, sent core.SentInvite) {
	if err := s.networking.Unsubscribe(ctx, sent.ResponseTopic); err != nil {
		s.cfg.logger.Error("failed to unsubscribe", err, watermill.LogFields{"topic": sent.ResponseTopic})
	}
	if err := s.kms.DeleteSymmetricKey(ctx, sent.ResponseTopic); err != nil {
		s.cfg.logger.Error("failed to delete response key", err, watermill.LogFields{"topic": sent.ResponseTopic})
	}
	if err := s.kms.DeletePrivateKey(ctx, sent.SelfPublicKey); err != nil {
		s.cfg.logger.Error("failed to delete invite private key", err, watermill.LogFields{"id": sent.ID})
	}
}

// send seals req for the invite topic. Every invite to the same invitee shares
// that topic under its own key, so the key only lives for the duration of the send.
func (s *InviteService) send(ctx context.Context, req core.RPCRequest, sent core.SentInvite, symKey crypto.SymmetricKey) error {
	unlock := s.cfg.locks.Lock(sent.InviteTopic)
	defer unlock()

	if err := s.kms.SetSymmetricKey(ctx, symKey, sent.InviteTopic); err != nil {
		return err
	}
	envelope := core.Envelope{Type: core.EnvelopeSenderKey, SenderPublicKey: sent.SelfPublicKey}
	err := s.networking.Request(ctx, req, sent.InviteTopic, envelope)
	if delErr := s.kms.DeleteSymmetricKey(ctx, sent.InviteTopic); delErr != nil {
		s.cfg.logger.Error("failed to delete invite topic key", delErr, watermill.LogFields{"topic": sent.InviteTopic})
	}
	return err
}

func (s *InviteService) handleSentExpiration(sent core.SentInvite) {
	ctx := context.Background()
	if sent.Status == core.InvitePending {
		s.release(ctx, sent)
	}
	s.cfg.emit(ctx, core.EventInviteExpired, sent.ResponseTopic, "")
}

func (s *InviteService) handleReceivedExpiration(invite core.ReceivedInvite) {
	ctx := context.Background()
	if invite.Status == core.InvitePending {
		_ = s.kms.DeleteSymmetricKey(ctx, invite.ResponseTopic)
	}
	s.cfg.emit(ctx, core.EventInviteExpired, invite.ResponseTopic, "")
}

func (s *InviteService) handleThreadExpiration(thread core.Thread) {
	ctx := context.Background()
	if err := s.networking.Unsubscribe(ctx, thread.Topic); err != nil {
		s.cfg.logger.Error("failed to unsubscribe", err, watermill.LogFields{"topic": thread.Topic})
	}
	if err := s.kms.DeleteSymmetricKey(ctx, thread.Topic); err != nil {
		s.cfg.logger.Error("failed to delete thread key", err, watermill.LogFields{"topic": thread.Topic})
	}
	s.cfg.logger.Info("thread expired", watermill.LogFields{"topic": thread.Topic})
	s.cfg.emit(ctx, core.EventThreadExpired, thread.Topic, "")
}
