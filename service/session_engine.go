package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// SessionEngine owns the session lifecycle: settlement after a proposal,
// deletion by either peer and cleanup on expiry
type SessionEngine struct {
	networking ports.Networking
	kms        *KeyManagementService
	sessions   ports.SequenceStore[core.Session]
	cfg        config

	mu        sync.RWMutex
	onSettled func(core.Session)
}

// NewSessionEngine creates a session engine and registers its RPC handlers
func NewSessionEngine(
	networking ports.Networking,
	kms *KeyManagementService,
	sessions ports.SequenceStore[core.Session],
	opts ...Option,
) *SessionEngine {
	e := &SessionEngine{
		networking: networking,
		kms:        kms,
		sessions:   sessions,
		cfg:        newConfig(opts),
	}

	networking.OnRequest(core.MethodSessionSettle, e.handleSettle)
	networking.OnResponse(core.MethodSessionSettle, e.handleSettleResponse)
	networking.OnRequest(core.MethodSessionDelete, e.handleDelete)
	networking.OnResponse(core.MethodSessionDelete, func(context.Context, core.ResponsePayload) error { return nil })
	sessions.OnExpiration(e.handleExpiration)

	return e
}

// OnSessionSettled registers the callback fired once a session becomes active
func (e *SessionEngine) OnSessionSettled(fn func(core.Session)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSettled = fn
}

var _ SessionSettler = (*SessionEngine)(nil)

// Settle stores the session produced by a proposal. The controller side
// announces the settled scope; the other side waits for that announcement.
func (e *SessionEngine) Settle(ctx context.Context, s core.SessionSettlement) error {
	now := e.cfg.now()
	session := core.Session{
		Topic:        s.Topic,
		PairingTopic: s.PairingTopic,
		Relay:        s.Relay,
		Self:         s.Self,
		Peer:         s.Peer,
		Methods:      s.Permissions.Methods,
		Accounts:     s.Accounts,
	}

	if !s.SelfIsController {
		session.Controller = s.Peer.PublicKey
		session.Expiry = now.Add(core.TTLInactive)
		return e.sessions.Set(ctx, session)
	}

	session.Controller = s.Self.PublicKey
	// whole seconds, as carried on the wire
	session.Expiry = now.Add(core.TTLActive).Truncate(time.Second)
	if err := e.sessions.Set(ctx, session); err != nil {
		return err
	}

	req, err := core.NewRPCRequest(core.MethodSessionSettle, core.SettleParams{
		Relay:      session.Relay,
		Controller: session.Self,
		Methods:    session.Methods,
		Accounts:   session.Accounts,
		Expiry:     session.Expiry.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to build settlement: %w", err)
	}
	if err := e.networking.Request(ctx, req, session.Topic, core.Envelope{}); err != nil {
		return fmt.Errorf("failed to send settlement: %w", err)
	}
	return nil
}

// Sessions lists live sessions
func (e *SessionEngine) Sessions(ctx context.Context) ([]core.Session, error) {
	return e.sessions.GetAll(ctx)
}

// Session returns the live session for topic
func (e *SessionEngine) Session(ctx context.Context, topic string) (core.Session, error) {
	session, ok, err := e.sessions.Get(ctx, topic)
	if err != nil {
		return core.Session{}, err
	}
	if !ok {
		return core.Session{}, core.ErrNoSessionMatchingTopic
	}
	return session, nil
}

// Delete terminates a session. Either peer may do this.
func (e *SessionEngine) Delete(ctx context.Context, topic string, reason string) error {
	unlock := e.cfg.locks.Lock(topic)
	session, ok, err := e.sessions.Get(ctx, topic)
	unlock()
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNoSessionMatchingTopic
	}

	// the peer is told before the topic key goes away
	req, err := core.NewRPCRequest(core.MethodSessionDelete, core.DeleteParams{Code: core.CodeUserRejected, Message: reason})
	if err != nil {
		return err
	}
	if err := e.networking.Request(ctx, req, topic, core.Envelope{}); err != nil {
		e.cfg.logger.Error("failed to notify peer of deletion", err, watermill.LogFields{"topic": topic})
	}

	e.remove(ctx, session)
	e.cfg.emit(ctx, core.EventSessionDeleted, topic, reason)
	return nil
}

func (e *SessionEngine) handleSettle(ctx context.Context, payload core.RequestPayload) error {
	var params core.SettleParams
	if err := json.Unmarshal(payload.Request.Params, &params); err != nil {
		err = fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
		e.respondError(ctx, payload, err)
		return err
	}

	session, err := e.applySettlement(ctx, payload.Topic, params)
	if err != nil {
		e.respondError(ctx, payload, err)
		return err
	}

	resp, err := core.NewRPCResult(payload.Request.ID, true)
	if err != nil {
		return err
	}
	if err := e.networking.Respond(ctx, resp, payload.Topic, core.Envelope{}); err != nil {
		return fmt.Errorf("failed to acknowledge settlement: %w", err)
	}

	e.settled(ctx, session)
	return nil
}

func (e *SessionEngine) applySettlement(ctx context.Context, topic string, params core.SettleParams) (core.Session, error) {
	unlock := e.cfg.locks.Lock(topic)
	defer unlock()

	session, ok, err := e.sessions.Get(ctx, topic)
	if err != nil {
		return core.Session{}, err
	}
	if !ok {
		return core.Session{}, core.ErrNoSessionMatchingTopic
	}
	if session.IsSelfController() || params.Controller.PublicKey != session.Peer.PublicKey {
		return core.Session{}, core.ErrUnauthorizedNonController
	}

	methods, err := core.NormalizeMethods(params.Methods)
	if err != nil {
		return core.Session{}, err
	}
	accounts, err := core.NormalizeAccounts(params.Accounts)
	if err != nil {
		return core.Session{}, err
	}
	expiry := time.Unix(params.Expiry, 0)
	if err := session.ApplyExpiry(expiry, e.cfg.now()); err != nil {
		return core.Session{}, err
	}

	session.Relay = params.Relay.WithDefault()
	session.Peer.Metadata = params.Controller.Metadata
	session.Methods = methods
	session.Accounts = accounts
	session.IsActive = true
	if err := e.sessions.Set(ctx, session); err != nil {
		return core.Session{}, err
	}
	return session, nil
}

func (e *SessionEngine) handleSettleResponse(ctx context.Context, payload core.ResponsePayload) error {
	unlock := e.cfg.locks.Lock(payload.Topic)
	session, ok, err := e.sessions.Get(ctx, payload.Topic)
	if err != nil || !ok {
		unlock()
		return err
	}

	if rpcErr := payload.Response.Error; rpcErr != nil {
		unlock()
		e.cfg.logger.Info("settlement refused", watermill.LogFields{"topic": payload.Topic, "code": rpcErr.Code})
		e.remove(ctx, session)
		e.cfg.emit(ctx, core.EventSessionDeleted, payload.Topic, rpcErr.Message)
		return nil
	}

	session.IsActive = true
	err = e.sessions.Set(ctx, session)
	unlock()
	if err != nil {
		return err
	}

	e.settled(ctx, session)
	return nil
}

func (e *SessionEngine) handleDelete(ctx context.Context, payload core.RequestPayload) error {
	var params core.DeleteParams
	if err := json.Unmarshal(payload.Request.Params, &params); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
	}

	unlock := e.cfg.locks.Lock(payload.Topic)
	session, ok, err := e.sessions.Get(ctx, payload.Topic)
	unlock()
	if err != nil || !ok {
		return err
	}

	resp, err := core.NewRPCResult(payload.Request.ID, true)
	if err != nil {
		return err
	}
	if err := e.networking.Respond(ctx, resp, payload.Topic, core.Envelope{}); err != nil {
		e.cfg.logger.Error("failed to acknowledge deletion", err, watermill.LogFields{"topic": payload.Topic})
	}

	e.remove(ctx, session)
	e.cfg.logger.Info("session deleted by peer", watermill.LogFields{"topic": payload.Topic, "reason": params.Message})
	e.cfg.emit(ctx, core.EventSessionDeleted, payload.Topic, params.Message)
	return nil
}

func (e *SessionEngine) handleExpiration(session core.Session) {
	ctx := context.Background()
	e.release(ctx, session)
	e.cfg.logger.Info("session expired", watermill.LogFields{"topic": session.Topic})
	e.cfg.emit(ctx, core.EventSessionExpired, session.Topic, "")
}

func (e *SessionEngine) settled(ctx context.Context, session core.Session) {
	e.cfg.logger.Info("session settled", watermill.LogFields{"topic": session.Topic, "controller": session.IsSelfController()})
	e.cfg.emit(ctx, core.EventSessionSettled, session.Topic, "")

	e.mu.RLock()
	onSettled := e.onSettled
	e.mu.RUnlock()
	if onSettled != nil {
		onSettled(session)
	}
}

func (e *SessionEngine) respondError(ctx context.Context, payload core.RequestPayload, cause error) {
	resp := core.NewRPCErrorResponse(payload.Request.ID, core.NewRPCError(cause))
	if err := e.networking.Respond(ctx, resp, payload.Topic, core.Envelope{}); err != nil && !errors.Is(err, core.ErrMissingKey) {
		e.cfg.logger.Error("failed to send error response", err, watermill.LogFields{"topic": payload.Topic})
	}
}

// remove deletes the sequence and its keys
func (e *SessionEngine) remove(ctx context.Context, session core.Session) {
	if err := e.sessions.Delete(ctx, session.Topic); err != nil {
		e.cfg.logger.Error("failed to delete session", err, watermill.LogFields{"topic": session.Topic})
	}
	e.release(ctx, session)
}

func (e *SessionEngine) release(ctx context.Context, session core.Session) {
	if err := e.networking.Unsubscribe(ctx, session.Topic); err != nil {
		e.cfg.logger.Error("failed to unsubscribe", err, watermill.LogFields{"topic": session.Topic})
	}
	if err := e.kms.DeleteSymmetricKey(ctx, session.Topic); err != nil {
		e.cfg.logger.Error("failed to delete session key", err, watermill.LogFields{"topic": session.Topic})
	}
	if session.Self.PublicKey != "" {
		if err := e.kms.DeletePrivateKey(ctx, session.Self.PublicKey); err != nil {
			e.cfg.logger.Error("failed to delete session private key", err, watermill.LogFields{"topic": session.Topic})
		}
	}
}
