package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// mutation applies a local change to a session and returns the params announcing it
type mutation func(s *core.Session, now time.Time) (any, error)

// ControllerSessionStateMachine mutates the scope of sessions the local peer
// controls and applies the mutations announced by a controlling peer
type ControllerSessionStateMachine struct {
	networking ports.Networking
	sessions   ports.SequenceStore[core.Session]
	cfg        config
}

// NewControllerSessionStateMachine creates the state machine and registers its RPC handlers
func NewControllerSessionStateMachine(
	networking ports.Networking,
	sessions ports.SequenceStore[core.Session],
	opts ...Option,
) *ControllerSessionStateMachine {
	m := &ControllerSessionStateMachine{
		networking: networking,
		sessions:   sessions,
		cfg:        newConfig(opts),
	}

	for _, method := range []string{
		core.MethodSessionUpdateMethods,
		core.MethodSessionUpdateAccounts,
		core.MethodSessionUpdateExpiry,
	} {
		networking.OnRequest(method, m.handleUpdate)
		networking.OnResponse(method, m.handleUpdateResponse)
	}

	return m
}

// UpdateMethods replaces the method scope of a session
func (m *ControllerSessionStateMachine) UpdateMethods(ctx context.Context, topic string, methods []string) error {
	return m.update(ctx, topic, core.MethodSessionUpdateMethods, func(s *core.Session, _ time.Time) (any, error) {
		normalized, err := core.NormalizeMethods(methods)
		if err != nil {
			return nil, err
		}
		s.Methods = normalized
		return core.UpdateMethodsParams{Methods: normalized}, nil
	})
}

// UpdateAccounts replaces the accounts exposed on a session
func (m *ControllerSessionStateMachine) UpdateAccounts(ctx context.Context, topic string, accounts []string) error {
	return m.update(ctx, topic, core.MethodSessionUpdateAccounts, func(s *core.Session, _ time.Time) (any, error) {
		normalized, err := core.NormalizeAccounts(accounts)
		if err != nil {
			return nil, err
		}
		s.Accounts = normalized
		return core.UpdateAccountsParams{Accounts: normalized}, nil
	})
}

// UpdateExpiry extends a session to now+ttl
func (m *ControllerSessionStateMachine) UpdateExpiry(ctx context.Context, topic string, ttl time.Duration) error {
	return m.update(ctx, topic, core.MethodSessionUpdateExpiry, func(s *core.Session, now time.Time) (any, error) {
		if err := s.Extend(ttl, now); err != nil {
			return nil, err
		}
		return core.UpdateExpiryParams{Expiry: s.Expiry.Unix()}, nil
	})
}

func (m *ControllerSessionStateMachine) update(ctx context.Context, topic, method string, mutate mutation) error {
	unlock := m.cfg.locks.Lock(topic)

	session, ok, err := m.sessions.Get(ctx, topic)
	if err != nil {
		unlock()
		return err
	}
	if !ok {
		unlock()
		return core.ErrNoSessionMatchingTopic
	}
	if !session.IsActive {
		unlock()
		return core.ErrSessionNotAcknowledged
	}

	params, err := mutate(&session, m.cfg.now())
	if err != nil {
		unlock()
		return err
	}
	if !session.IsSelfController() {
		unlock()
		return core.ErrUnauthorizedNonController
	}

	req, err := core.NewRPCRequest(method, params)
	if err != nil {
		unlock()
		return fmt.Errorf("failed to build %s: %w", method, err)
	}
	if err := m.sessions.Set(ctx, session); err != nil {
		unlock()
		return err
	}
	unlock()

	if err := m.networking.Request(ctx, req, topic, core.Envelope{}); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	m.cfg.logger.Info("session updated", watermill.LogFields{"topic": topic, "method": method})
	m.cfg.emit(ctx, core.EventSessionUpdated, topic, method)
	return nil
}

func (m *ControllerSessionStateMachine) handleUpdate(ctx context.Context, payload core.RequestPayload) error {
	applyErr := m.applyRemote(ctx, payload)

	var resp core.RPCResponse
	if applyErr != nil {
		resp = core.NewRPCErrorResponse(payload.Request.ID, core.NewRPCError(applyErr))
	} else {
		var err error
		if resp, err = core.NewRPCResult(payload.Request.ID, true); err != nil {
			return err
		}
	}
	if err := m.networking.Respond(ctx, resp, payload.Topic, core.Envelope{}); err != nil {
		return errors.Join(applyErr, fmt.Errorf("failed to respond to %s: %w", payload.Request.Method, err))
	}
	if applyErr != nil {
		return applyErr
	}

	m.cfg.emit(ctx, core.EventSessionUpdated, payload.Topic, payload.Request.Method)
	return nil
}

// applyRemote applies an update announced by the peer; only a controlling peer may announce
func (m *ControllerSessionStateMachine) applyRemote(ctx context.Context, payload core.RequestPayload) error {
	unlock := m.cfg.locks.Lock(payload.Topic)
	defer unlock()

	session, ok, err := m.sessions.Get(ctx, payload.Topic)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNoSessionMatchingTopic
	}
	if !session.IsActive {
		return core.ErrSessionNotAcknowledged
	}
	if session.IsSelfController() || session.Controller != session.Peer.PublicKey {
		return core.ErrUnauthorizedNonController
	}

	switch payload.Request.Method {
	case core.MethodSessionUpdateMethods:
		var params core.UpdateMethodsParams
		if err := json.Unmarshal(payload.Request.Params, &params); err != nil {
			return fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
		}
		methods, err := core.NormalizeMethods(params.Methods)
		if err != nil {
			return err
		}
		session.Methods = methods
	case core.MethodSessionUpdateAccounts:
		var params core.UpdateAccountsParams
		if err := json.Unmarshal(payload.Request.Params, &params); err != nil {
			return fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
		}
		accounts, err := core.NormalizeAccounts(params.Accounts)
		if err != nil {
			return err
		}
		session.Accounts = accounts
	case core.MethodSessionUpdateExpiry:
		var params core.UpdateExpiryParams
		if err := json.Unmarshal(payload.Request.Params, &params); err != nil {
			return fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
		}
		if err := session.ApplyExpiry(time.Unix(params.Expiry, 0), m.cfg.now()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unexpected method %s: %w", payload.Request.Method, core.ErrMalformedPayload)
	}

	return m.sessions.Set(ctx, session)
}

func (m *ControllerSessionStateMachine) handleUpdateResponse(ctx context.Context, payload core.ResponsePayload) error {
	if rpcErr := payload.Response.Error; rpcErr != nil {
		m.cfg.logger.Error("peer refused session update", rpcErr, watermill.LogFields{
			"topic":  payload.Topic,
			"method": payload.Request.Method,
		})
	}
	return nil
}
