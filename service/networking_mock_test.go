package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/layer-3/walletlink/adapters/keystore"
	"github.com/layer-3/walletlink/adapters/signer"
	"github.com/layer-3/walletlink/adapters/store"
	"github.com/layer-3/walletlink/adapters/tokenizer"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
	"github.com/layer-3/walletlink/service"
	"github.com/stretchr/testify/require"
)

type sentRequest struct {
	topic    string
	request  core.RPCRequest
	envelope core.Envelope
	// key the request was sealed with
	key crypto.SymmetricKey
}

type sentResponse struct {
	topic    string
	response core.RPCResponse
}

// fakeNetworking records outbound traffic and lets tests deliver inbound
// traffic synchronously. Sends fail like the real transport when no key is
// stored for the topic.
type fakeNetworking struct {
	keys ports.KeyStore

	mu               sync.Mutex
	subscribed       map[string]bool
	requests         []sentRequest
	responses        []sentResponse
	requestHandlers  map[string]ports.RequestHandler
	responseHandlers map[string]ports.ResponseHandler
}

func newFakeNetworking(keys ports.KeyStore) *fakeNetworking {
	return &fakeNetworking{
		keys:             keys,
		subscribed:       make(map[string]bool),
		requestHandlers:  make(map[string]ports.RequestHandler),
		responseHandlers: make(map[string]ports.ResponseHandler),
	}
}

var _ ports.Networking = (*fakeNetworking)(nil)

func (n *fakeNetworking) Subscribe(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribed[topic] = true
	return nil
}

func (n *fakeNetworking) Unsubscribe(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subscribed, topic)
	return nil
}

func (n *fakeNetworking) Request(ctx context.Context, req core.RPCRequest, topic string, envelope core.Envelope) error {
	key, err := n.sealingKey(ctx, topic)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, sentRequest{topic: topic, request: req, envelope: envelope, key: key})
	return nil
}

func (n *fakeNetworking) Respond(ctx context.Context, resp core.RPCResponse, topic string, envelope core.Envelope) error {
	if _, err := n.sealingKey(ctx, topic); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses = append(n.responses, sentResponse{topic: topic, response: resp})
	return nil
}

func (n *fakeNetworking) OnRequest(method string, handler ports.RequestHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requestHandlers[method] = handler
}

func (n *fakeNetworking) OnResponse(method string, handler ports.ResponseHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responseHandlers[method] = handler
}

func (n *fakeNetworking) sealingKey(ctx context.Context, topic string) (crypto.SymmetricKey, error) {
	key, err := n.keys.GetSymmetricKey(ctx, topic)
	if errors.Is(err, core.ErrKeyNotFound) {
		return crypto.SymmetricKey{}, fmt.Errorf("topic %s: %w", topic, core.ErrMissingKey)
	}
	return key, err
}

func (n *fakeNetworking) isSubscribed(topic string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subscribed[topic]
}

func (n *fakeNetworking) lastRequest(t *testing.T, method string) sentRequest {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.requests) - 1; i >= 0; i-- {
		if n.requests[i].request.Method == method {
			return n.requests[i]
		}
	}
	require.FailNow(t, "no request sent", method)
	return sentRequest{}
}

func (n *fakeNetworking) requestsOf(method string) []sentRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentRequest
	for _, r := range n.requests {
		if r.request.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (n *fakeNetworking) requestCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, r := range n.requests {
		if r.request.Method == method {
			count++
		}
	}
	return count
}

func (n *fakeNetworking) lastResponse(t *testing.T) sentResponse {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.responses, "no response sent")
	return n.responses[len(n.responses)-1]
}

func (n *fakeNetworking) deliverRequest(ctx context.Context, topic string, req core.RPCRequest, sender string) error {
	n.mu.Lock()
	handler, ok := n.requestHandlers[req.Method]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler for %s", req.Method)
	}
	return handler(ctx, core.RequestPayload{Topic: topic, Request: req, SenderPublicKey: sender})
}

func (n *fakeNetworking) deliverResponse(ctx context.Context, topic string, req core.RPCRequest, resp core.RPCResponse) error {
	n.mu.Lock()
	handler, ok := n.responseHandlers[req.Method]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("no response handler for %s", req.Method)
	}
	return handler(ctx, core.ResponsePayload{Topic: topic, Request: req, Response: resp})
}

// failingKeys fails symmetric key writes while armed
type failingKeys struct {
	ports.KeyStore
	armed atomic.Bool
}

func (k *failingKeys) SetSymmetricKey(ctx context.Context, key crypto.SymmetricKey, topic string) error {
	if k.armed.Load() {
		return errors.New("key store unavailable")
	}
	return k.KeyStore.SetSymmetricKey(ctx, key, topic)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event core.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []core.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

// node is one peer with every service wired over a fake transport
type node struct {
	net    *fakeNetworking
	keys   *keystore.MemoryStore
	events *recordingPublisher

	kms        *service.KeyManagementService
	pairings   *store.SequenceStore[core.Pairing]
	sessions   *store.SequenceStore[core.Session]
	sent       *store.SequenceStore[core.SentInvite]
	received   *store.SequenceStore[core.ReceivedInvite]
	threads    *store.SequenceStore[core.Thread]
	pairing    *service.PairingEngine
	session    *service.SessionEngine
	controller *service.ControllerSessionStateMachine
	identity   *service.IdentityService
	invites    *service.InviteService
}

func newNode(t *testing.T, opts ...service.Option) *node {
	return newNodeWithKeys(t, nil, opts...)
}

// newNodeWithKeys builds a node whose services reach the key store through
// wrap; n.keys stays the unwrapped store for assertions
func newNodeWithKeys(t *testing.T, wrap func(ports.KeyStore) ports.KeyStore, opts ...service.Option) *node {
	n := &node{
		keys:     keystore.NewMemoryStore(),
		events:   &recordingPublisher{},
		pairings: store.NewMemoryStore[core.Pairing](),
		sessions: store.NewMemoryStore[core.Session](),
		sent:     store.NewMemoryStore[core.SentInvite](),
		received: store.NewMemoryStore[core.ReceivedInvite](),
		threads:  store.NewMemoryStore[core.Thread](),
	}
	t.Cleanup(func() {
		n.pairings.Close()
		n.sessions.Close()
		n.sent.Close()
		n.received.Close()
		n.threads.Close()
	})
	n.net = newFakeNetworking(n.keys)
	var keys ports.KeyStore = n.keys
	if wrap != nil {
		keys = wrap(keys)
	}
	n.kms = service.NewKeyManagementService(keys)

	opts = append([]service.Option{
		service.WithTopicLocks(service.NewTopicLocks()),
		service.WithEventPublisher(n.events),
		service.WithMetadata(core.AppMetadata{Name: "walletlink-test"}),
	}, opts...)

	n.session = service.NewSessionEngine(n.net, n.kms, n.sessions, opts...)
	n.pairing = service.NewPairingEngine(n.net, n.kms, n.pairings, n.session, opts...)
	n.controller = service.NewControllerSessionStateMachine(n.net, n.sessions, opts...)
	n.identity = service.NewIdentityService(n.net, n.kms, keystore.NewIdentityMemoryStore(), signer.EthVerifier{}, "https://keys.walletlink.test", opts...)
	n.invites = service.NewInviteService(n.net, n.kms, n.identity, tokenizer.NewJWTTokenizer(), n.sent, n.received, n.threads, opts...)
	return n
}

const (
	accountA = "eip155:1:0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	accountB = "eip155:137:0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)
