package walletlink

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/walletlink/adapters/relay"
	"github.com/layer-3/walletlink/adapters/signer"
	"github.com/layer-3/walletlink/adapters/tokenizer"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
	"github.com/layer-3/walletlink/service"
)

// DefaultKeyServer is advertised in identity registrations when none is configured
const DefaultKeyServer = "https://keys.walletconnect.com"

// Client wires the handshake services of one peer over a relay
type Client struct {
	KMS        *service.KeyManagementService
	Pairing    *service.PairingEngine
	Sessions   *service.SessionEngine
	Controller *service.ControllerSessionStateMachine
	Identity   *service.IdentityService
	Invites    *service.InviteService

	relay      *relay.Relay
	networking *relay.Interactor
	stores     Stores
	logger     watermill.LoggerAdapter
}

type clientOptions struct {
	logger    watermill.LoggerAdapter
	events    ports.EventPublisher
	metadata  *core.AppMetadata
	keyServer string
	verifier  ports.SignatureVerifier
	onError   func(error)
}

// Option configures a Client
type Option func(*clientOptions)

func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithEventPublisher forwards lifecycle events to events
func WithEventPublisher(events ports.EventPublisher) Option {
	return func(o *clientOptions) { o.events = events }
}

func WithMetadata(metadata core.AppMetadata) Option {
	return func(o *clientOptions) { o.metadata = &metadata }
}

// WithKeyServer sets the key server URL embedded in identity registrations and invite tokens
func WithKeyServer(url string) Option {
	return func(o *clientOptions) { o.keyServer = url }
}

// WithSignatureVerifier replaces the EIP-191 verifier of identity registrations
func WithSignatureVerifier(verifier ports.SignatureVerifier) Option {
	return func(o *clientOptions) { o.verifier = verifier }
}

// WithErrorHandler receives inbound failures the relay could not hand to a service
func WithErrorHandler(fn func(error)) Option {
	return func(o *clientOptions) { o.onError = fn }
}

// NewClient builds a client over the given watermill transport and stores,
// restores persisted sequences and resubscribes to their topics
func NewClient(
	ctx context.Context,
	publisher message.Publisher,
	subscriber message.Subscriber,
	stores Stores,
	opts ...Option,
) (*Client, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}

	o := clientOptions{
		logger:    watermill.NopLogger{},
		keyServer: DefaultKeyServer,
		verifier:  signer.EthVerifier{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := relay.NewRelay(publisher, subscriber, o.logger)
	interactorOpts := []relay.InteractorOption{relay.WithInteractorLogger(o.logger)}
	if o.onError != nil {
		interactorOpts = append(interactorOpts, relay.WithErrorHandler(o.onError))
	}
	networking := relay.NewInteractor(r, stores.Keys, interactorOpts...)

	svcOpts := []service.Option{
		service.WithLogger(o.logger),
		service.WithTopicLocks(service.NewTopicLocks()),
	}
	if o.events != nil {
		svcOpts = append(svcOpts, service.WithEventPublisher(o.events))
	}
	if o.metadata != nil {
		svcOpts = append(svcOpts, service.WithMetadata(*o.metadata))
	}

	kms := service.NewKeyManagementService(stores.Keys)
	sessions := service.NewSessionEngine(networking, kms, stores.Sessions, svcOpts...)
	identity := service.NewIdentityService(networking, kms, stores.Identities, o.verifier, o.keyServer, svcOpts...)

	c := &Client{
		KMS:        kms,
		Pairing:    service.NewPairingEngine(networking, kms, stores.Pairings, sessions, svcOpts...),
		Sessions:   sessions,
		Controller: service.NewControllerSessionStateMachine(networking, stores.Sessions, svcOpts...),
		Identity:   identity,
		Invites: service.NewInviteService(
			networking, kms, identity, tokenizer.NewJWTTokenizer(),
			stores.SentInvites, stores.ReceivedInvites, stores.Threads,
			svcOpts...,
		),
		relay:      r,
		networking: networking,
		stores:     stores,
		logger:     o.logger,
	}

	if err := c.restore(ctx); err != nil {
		c.relay.Close()
		return nil, err
	}
	return c, nil
}

// restore reloads persisted sequences, rescheduling their expiry, and
// subscribes to every topic that can still receive traffic
func (c *Client) restore(ctx context.Context) error {
	for _, s := range []interface{ Restore(context.Context) error }{
		c.stores.Pairings, c.stores.Sessions, c.stores.SentInvites, c.stores.ReceivedInvites, c.stores.Threads,
	} {
		if err := s.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore sequences: %w", err)
		}
	}

	var topics []string
	pairings, err := c.stores.Pairings.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairings {
		topics = append(topics, p.Topic)
	}

	sessions, err := c.stores.Sessions.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		topics = append(topics, s.Topic)
	}

	threads, err := c.stores.Threads.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, t := range threads {
		topics = append(topics, t.Topic)
	}

	sent, err := c.stores.SentInvites.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, i := range sent {
		if i.Status == core.InvitePending {
			topics = append(topics, i.ResponseTopic)
		}
	}

	for _, topic := range topics {
		if err := c.networking.Subscribe(ctx, topic); err != nil {
			return fmt.Errorf("failed to resubscribe to %s: %w", topic, err)
		}
	}
	if len(topics) > 0 {
		c.logger.Info("Restored subscriptions", watermill.LogFields{"topics": len(topics)})
	}
	return nil
}

// Close stops every subscription and releases the stores
func (c *Client) Close() error {
	return errors.Join(c.relay.Close(), c.stores.Close())
}
