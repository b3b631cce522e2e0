package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
)

// SessionSettler receives the outcome of a completed proposal
type SessionSettler interface {
	Settle(ctx context.Context, settlement core.SessionSettlement) error
}

type pendingProposal struct {
	publicKey crypto.PublicKey
	proposal  core.SessionProposal
}

// PairingEngine creates and consumes pairing URIs and runs the session
// proposal handshake over an established pairing
type PairingEngine struct {
	networking ports.Networking
	kms        *KeyManagementService
	pairings   ports.SequenceStore[core.Pairing]
	settler    SessionSettler
	cfg        config

	// proposals we sent, by request id
	proposals *pendingTable[pendingProposal]
	// proposals we received and have not answered, by request id
	incoming *pendingTable[core.IncomingProposal]

	mu         sync.RWMutex
	onProposal func(core.IncomingProposal)
}

// NewPairingEngine creates a pairing engine and registers its RPC handlers
func NewPairingEngine(
	networking ports.Networking,
	kms *KeyManagementService,
	pairings ports.SequenceStore[core.Pairing],
	settler SessionSettler,
	opts ...Option,
) *PairingEngine {
	e := &PairingEngine{
		networking: networking,
		kms:        kms,
		pairings:   pairings,
		settler:    settler,
		cfg:        newConfig(opts),
		proposals:  newPendingTable[pendingProposal](),
		incoming:   newPendingTable[core.IncomingProposal](),
	}

	networking.OnRequest(core.MethodSessionPropose, e.handleSessionPropose)
	networking.OnResponse(core.MethodSessionPropose, e.handleProposeResponse)
	pairings.OnExpiration(e.handleExpiration)

	return e
}

// OnSessionProposal registers the callback that decides on incoming proposals
func (e *PairingEngine) OnSessionProposal(fn func(core.IncomingProposal)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProposal = fn
}

// Create starts a pairing we own and returns the URI to hand to the peer
func (e *PairingEngine) Create(ctx context.Context) (core.URI, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return core.URI{}, err
	}
	// only the public half feeds the topic
	crypto.Wipe(kp.Private[:])
	topic := crypto.TopicFromPublicKey(kp.Public)

	symKey, err := crypto.NewSymmetricKey()
	if err != nil {
		return core.URI{}, err
	}
	if err := e.kms.SetSymmetricKey(ctx, symKey, topic); err != nil {
		return core.URI{}, err
	}

	pairing := core.NewPairing(topic, core.RelayOptions{}, core.PairingURICreated, e.cfg.now())
	pairing.Self = core.Participant{Metadata: e.cfg.metadata}
	if err := e.pairings.Set(ctx, pairing); err != nil {
		_ = e.kms.DeleteSymmetricKey(ctx, topic)
		return core.URI{}, err
	}

	if err := e.networking.Subscribe(ctx, topic); err != nil {
		e.discard(ctx, topic)
		return core.URI{}, fmt.Errorf("failed to subscribe to pairing: %w", err)
	}

	e.cfg.logger.Info("pairing created", watermill.LogFields{"topic": topic})
	e.cfg.emit(ctx, core.EventPairingCreated, topic, "")

	return core.URI{Topic: topic, Relay: pairing.Relay, SymKey: symKey.Hex()}, nil
}

// Pair consumes a URI created by a peer. A URI can be paired once.
func (e *PairingEngine) Pair(ctx context.Context, rawURI string) error {
	uri, err := core.ParseURI(rawURI)
	if err != nil {
		return err
	}
	symKey, err := crypto.ParseSymmetricKey(uri.SymKey)
	if err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrMalformedURI)
	}

	unlock := e.cfg.locks.Lock(uri.Topic)
	_, known, err := e.pairings.Get(ctx, uri.Topic)
	if err != nil {
		unlock()
		return err
	}
	if known {
		unlock()
		return core.ErrPairingAlreadyKnown
	}

	if err := e.kms.SetSymmetricKey(ctx, symKey, uri.Topic); err != nil {
		unlock()
		return err
	}
	pairing := core.NewPairing(uri.Topic, uri.Relay, core.PairingPaired, e.cfg.now())
	pairing.Self = core.Participant{Metadata: e.cfg.metadata}
	if err := e.pairings.Set(ctx, pairing); err != nil {
		unlock()
		_ = e.kms.DeleteSymmetricKey(ctx, uri.Topic)
		return err
	}
	unlock()

	if err := e.networking.Subscribe(ctx, uri.Topic); err != nil {
		e.discard(ctx, uri.Topic)
		return fmt.Errorf("failed to subscribe to pairing: %w", err)
	}

	e.cfg.logger.Info("paired", watermill.LogFields{"topic": uri.Topic})
	e.cfg.emit(ctx, core.EventPairingPaired, uri.Topic, "")
	return nil
}

// Propose asks the peer of a pairing to establish a session and returns the request id
func (e *PairingEngine) Propose(ctx context.Context, pairingTopic string, permissions core.Permissions, relay core.RelayOptions) (int64, error) {
	methods, err := core.NormalizeMethods(permissions.Methods)
	if err != nil {
		return 0, err
	}
	permissions.Methods = methods

	unlock := e.cfg.locks.Lock(pairingTopic)
	pairing, ok, err := e.pairings.Get(ctx, pairingTopic)
	if err != nil {
		unlock()
		return 0, err
	}
	if !ok {
		unlock()
		return 0, core.ErrNoPairingMatchingTopic
	}

	pub, err := e.kms.GenerateKeyPair(ctx)
	if err != nil {
		unlock()
		return 0, err
	}
	proposal := core.SessionProposal{
		Relay:       relay.WithDefault(),
		Proposer:    core.Participant{PublicKey: pub.Hex(), Metadata: e.cfg.metadata},
		Permissions: permissions,
	}
	req, err := core.NewRPCRequest(core.MethodSessionPropose, proposal)
	if err != nil {
		unlock()
		_ = e.kms.DeletePrivateKey(ctx, pub.Hex())
		return 0, fmt.Errorf("failed to build proposal: %w", err)
	}

	if !pairing.IsActive {
		pairing.State = core.PairingProposalSent
	}
	if err := e.pairings.Set(ctx, pairing); err != nil {
		unlock()
		_ = e.kms.DeletePrivateKey(ctx, pub.Hex())
		return 0, err
	}
	unlock()

	// registered before sending so a fast response finds it
	e.proposals.put(req.ID, pairingTopic, pendingProposal{publicKey: pub, proposal: proposal})

	if err := e.networking.Request(ctx, req, pairingTopic, core.Envelope{}); err != nil {
		e.proposals.take(req.ID)
		_ = e.kms.DeletePrivateKey(ctx, pub.Hex())
		return 0, fmt.Errorf("failed to send proposal: %w", err)
	}

	e.cfg.logger.Info("session proposed", watermill.LogFields{"topic": pairingTopic, "id": req.ID})
	return req.ID, nil
}

// PendingProposals lists proposals received and not yet answered
func (e *PairingEngine) PendingProposals() []core.IncomingProposal {
	return e.incoming.values()
}

// RespondSessionPropose accepts a proposal, granting accounts, and returns the session topic.
// Only the id of proposal is read; the proposal as received is what gets answered.
func (e *PairingEngine) RespondSessionPropose(ctx context.Context, proposal core.IncomingProposal, accounts []string) (string, error) {
	proposal, ok := e.incoming.get(proposal.ID)
	if !ok {
		return "", core.ErrNoProposalMatchingID
	}
	accounts, err := core.NormalizeAccounts(accounts)
	if err != nil {
		return "", err
	}
	if _, ok, err := e.pairings.Get(ctx, proposal.PairingTopic); err != nil {
		return "", err
	} else if !ok {
		return "", core.ErrNoPairingMatchingTopic
	}
	if _, ok := e.incoming.take(proposal.ID); !ok {
		return "", core.ErrNoProposalMatchingID
	}

	selfPub, err := e.kms.GenerateKeyPair(ctx)
	if err != nil {
		return "", err
	}
	secret, err := e.kms.Agree(ctx, selfPub, proposal.Proposal.Proposer.PublicKey)
	if err != nil {
		_ = e.kms.DeletePrivateKey(ctx, selfPub.Hex())
		return "", err
	}
	topic := e.kms.DeriveTopic(secret)
	if err := e.kms.SetSymmetricKey(ctx, secret.SymmetricKey(), topic); err != nil {
		_ = e.kms.DeletePrivateKey(ctx, selfPub.Hex())
		return "", err
	}

	if err := e.networking.Subscribe(ctx, topic); err != nil {
		e.releaseSessionKeys(ctx, topic, selfPub)
		return "", fmt.Errorf("failed to subscribe to session: %w", err)
	}

	self := core.Participant{PublicKey: selfPub.Hex(), Metadata: e.cfg.metadata}
	relay := proposal.Proposal.Relay.WithDefault()
	resp, err := core.NewRPCResult(proposal.ID, core.ProposalResponse{Relay: relay, Responder: self})
	if err != nil {
		e.releaseSessionKeys(ctx, topic, selfPub)
		return "", err
	}
	// answered on the pairing topic; the proposer is not on the session topic yet
	if err := e.networking.Respond(ctx, resp, proposal.PairingTopic, core.Envelope{}); err != nil {
		e.releaseSessionKeys(ctx, topic, selfPub)
		return "", fmt.Errorf("failed to respond to proposal: %w", err)
	}

	if err := e.activate(ctx, proposal.PairingTopic); err != nil {
		e.cfg.logger.Error("failed to activate pairing", err, watermill.LogFields{"topic": proposal.PairingTopic})
	}

	settlement := core.SessionSettlement{
		Topic:            topic,
		PairingTopic:     proposal.PairingTopic,
		Relay:            relay,
		Self:             self,
		Peer:             proposal.Proposal.Proposer,
		Permissions:      proposal.Proposal.Permissions,
		Accounts:         accounts,
		SelfIsController: true,
	}
	if err := e.settler.Settle(ctx, settlement); err != nil {
		return topic, fmt.Errorf("failed to settle session: %w", err)
	}

	e.cfg.logger.Info("proposal approved", watermill.LogFields{"pairing": proposal.PairingTopic, "session": topic})
	return topic, nil
}

// RejectSessionPropose declines a proposal with an explicit rejection response
func (e *PairingEngine) RejectSessionPropose(ctx context.Context, proposal core.IncomingProposal, reason string) error {
	proposal, ok := e.incoming.take(proposal.ID)
	if !ok {
		return core.ErrNoProposalMatchingID
	}
	if reason == "" {
		reason = "user rejected"
	}

	resp := core.NewRPCErrorResponse(proposal.ID, &core.RPCError{Code: core.CodeUserRejected, Message: reason})
	if err := e.networking.Respond(ctx, resp, proposal.PairingTopic, core.Envelope{}); err != nil {
		return fmt.Errorf("failed to send rejection: %w", err)
	}

	e.cfg.emit(ctx, core.EventProposalRejected, proposal.PairingTopic, reason)
	return nil
}

// Pairings lists live pairings
func (e *PairingEngine) Pairings(ctx context.Context) ([]core.Pairing, error) {
	return e.pairings.GetAll(ctx)
}

// Extend moves the expiry of a pairing to now+ttl
func (e *PairingEngine) Extend(ctx context.Context, topic string, ttl time.Duration) error {
	unlock := e.cfg.locks.Lock(topic)
	defer unlock()

	pairing, ok, err := e.pairings.Get(ctx, topic)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNoPairingMatchingTopic
	}
	if err := pairing.Extend(ttl, e.cfg.now()); err != nil {
		return err
	}
	return e.pairings.Set(ctx, pairing)
}

// Delete removes a pairing together with its key and pending proposals
func (e *PairingEngine) Delete(ctx context.Context, topic string) error {
	unlock := e.cfg.locks.Lock(topic)
	_, ok, err := e.pairings.Get(ctx, topic)
	if err == nil && ok {
		err = e.pairings.Delete(ctx, topic)
	}
	unlock()
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNoPairingMatchingTopic
	}

	e.cleanup(ctx, topic)
	e.cfg.emit(ctx, core.EventPairingDeleted, topic, "")
	return nil
}

func (e *PairingEngine) handleSessionPropose(ctx context.Context, payload core.RequestPayload) error {
	var proposal core.SessionProposal
	if err := json.Unmarshal(payload.Request.Params, &proposal); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
	}
	if _, err := crypto.ParsePublicKey(proposal.Proposer.PublicKey); err != nil {
		return fmt.Errorf("proposer key: %v: %w", err, core.ErrMalformedPayload)
	}

	unlock := e.cfg.locks.Lock(payload.Topic)
	pairing, ok, err := e.pairings.Get(ctx, payload.Topic)
	if err != nil {
		unlock()
		return err
	}
	if !ok {
		unlock()
		return core.ErrNoPairingMatchingTopic
	}
	if !pairing.IsActive {
		pairing.State = core.PairingProposalReceived
	}
	pairing.Peer = &core.Participant{Metadata: proposal.Proposer.Metadata}
	err = e.pairings.Set(ctx, pairing)
	unlock()
	if err != nil {
		return err
	}

	incoming := core.IncomingProposal{ID: payload.Request.ID, PairingTopic: payload.Topic, Proposal: proposal}
	e.incoming.put(incoming.ID, payload.Topic, incoming)

	e.cfg.logger.Info("session proposal received", watermill.LogFields{"topic": payload.Topic, "id": incoming.ID})
	e.cfg.emit(ctx, core.EventProposalReceived, payload.Topic, fmt.Sprint(incoming.ID))

	e.mu.RLock()
	onProposal := e.onProposal
	e.mu.RUnlock()
	if onProposal != nil {
		onProposal(incoming)
	}
	return nil
}

func (e *PairingEngine) handleProposeResponse(ctx context.Context, payload core.ResponsePayload) error {
	pending, ok := e.proposals.take(payload.Response.ID)
	if !ok {
		// the pairing expired or was deleted first
		e.cfg.logger.Debug("response for unknown proposal", watermill.LogFields{"id": payload.Response.ID})
		return nil
	}

	if rpcErr := payload.Response.Error; rpcErr != nil {
		if err := e.kms.DeletePrivateKey(ctx, pending.publicKey.Hex()); err != nil {
			return err
		}
		e.cfg.logger.Info("session proposal rejected", watermill.LogFields{"topic": payload.Topic, "code": rpcErr.Code})
		e.cfg.emit(ctx, core.EventProposalRejected, payload.Topic, rpcErr.Message)
		return nil
	}

	var resp core.ProposalResponse
	if err := json.Unmarshal(payload.Response.Result, &resp); err != nil {
		_ = e.kms.DeletePrivateKey(ctx, pending.publicKey.Hex())
		return fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
	}

	secret, err := e.kms.Agree(ctx, pending.publicKey, resp.Responder.PublicKey)
	if err != nil {
		_ = e.kms.DeletePrivateKey(ctx, pending.publicKey.Hex())
		return err
	}
	topic := e.kms.DeriveTopic(secret)
	if err := e.kms.SetSymmetricKey(ctx, secret.SymmetricKey(), topic); err != nil {
		_ = e.kms.DeletePrivateKey(ctx, pending.publicKey.Hex())
		return err
	}

	settlement := core.SessionSettlement{
		Topic:        topic,
		PairingTopic: payload.Topic,
		Relay:        resp.Relay.WithDefault(),
		Self:         core.Participant{PublicKey: pending.publicKey.Hex(), Metadata: e.cfg.metadata},
		Peer:         resp.Responder,
		Permissions:  pending.proposal.Permissions,
	}
	// stored before subscribing so the settlement request finds it
	if err := e.settler.Settle(ctx, settlement); err != nil {
		e.releaseSessionKeys(ctx, topic, pending.publicKey)
		return fmt.Errorf("failed to settle session: %w", err)
	}
	if err := e.networking.Subscribe(ctx, topic); err != nil {
		e.releaseSessionKeys(ctx, topic, pending.publicKey)
		return fmt.Errorf("failed to subscribe to session: %w", err)
	}

	if err := e.activate(ctx, payload.Topic); err != nil {
		e.cfg.logger.Error("failed to activate pairing", err, watermill.LogFields{"topic": payload.Topic})
	}

	e.cfg.logger.Info("proposal accepted", watermill.LogFields{"pairing": payload.Topic, "session": topic})
	return nil
}

func (e *PairingEngine) handleExpiration(pairing core.Pairing) {
	ctx := context.Background()
	e.cleanup(ctx, pairing.Topic)
	e.cfg.logger.Info("pairing expired", watermill.LogFields{"topic": pairing.Topic})
	e.cfg.emit(ctx, core.EventPairingExpired, pairing.Topic, "")
}

func (e *PairingEngine) activate(ctx context.Context, topic string) error {
	unlock := e.cfg.locks.Lock(topic)
	defer unlock()

	pairing, ok, err := e.pairings.Get(ctx, topic)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNoPairingMatchingTopic
	}
	if pairing.IsActive {
		return nil
	}
	pairing.Activate(e.cfg.now())
	if err := e.pairings.Set(ctx, pairing); err != nil {
		return err
	}
	e.cfg.emit(ctx, core.EventPairingActivated, topic, "")
	return nil
}

// cleanup releases everything tied to a pairing topic once the sequence is gone
func (e *PairingEngine) cleanup(ctx context.Context, topic string) {
	if err := e.networking.Unsubscribe(ctx, topic); err != nil {
		e.cfg.logger.Error("failed to unsubscribe", err, watermill.LogFields{"topic": topic})
	}
	if err := e.kms.DeleteSymmetricKey(ctx, topic); err != nil {
		e.cfg.logger.Error("failed to delete pairing key", err, watermill.LogFields{"topic": topic})
	}
	for _, pending := range e.proposals.dropTopic(topic) {
		if err := e.kms.DeletePrivateKey(ctx, pending.publicKey.Hex()); err != nil {
			e.cfg.logger.Error("failed to delete proposal key", err, watermill.LogFields{"topic": topic})
		}
	}
	e.incoming.dropTopic(topic)
}

// discard undoes a pairing whose subscription failed
func (e *PairingEngine) discard(ctx context.Context, topic string) {
	_ = e.pairings.Delete(ctx, topic)
	_ = e.kms.DeleteSymmetricKey(ctx, topic)
}

func (e *PairingEngine) releaseSessionKeys(ctx context.Context, topic string, self crypto.PublicKey) {
	_ = e.networking.Unsubscribe(ctx, topic)
	_ = e.kms.DeleteSymmetricKey(ctx, topic)
	_ = e.kms.DeletePrivateKey(ctx, self.Hex())
}
