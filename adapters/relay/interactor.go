package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/crypto"
	"github.com/layer-3/walletlink/ports"
)

// Interactor implements ports.Networking: it seals RPC envelopes with the
// key stored for each topic and dispatches inbound traffic by method
type Interactor struct {
	relay   *Relay
	keys    ports.KeyStore
	logger  watermill.LoggerAdapter
	onError func(error)
	history *history

	mu               sync.RWMutex
	requestHandlers  map[string]ports.RequestHandler
	responseHandlers map[string]ports.ResponseHandler
}

// InteractorOption configures an Interactor
type InteractorOption func(*Interactor)

// WithErrorHandler receives every inbound failure: undecodable payloads,
// missing keys and handler errors
func WithErrorHandler(fn func(error)) InteractorOption {
	return func(i *Interactor) { i.onError = fn }
}

// WithInteractorLogger sets the logger
func WithInteractorLogger(logger watermill.LoggerAdapter) InteractorOption {
	return func(i *Interactor) { i.logger = logger }
}

// WithHistoryClock overrides the clock used to age request history
func WithHistoryClock(now func() time.Time) InteractorOption {
	return func(i *Interactor) { i.history = newHistory(now) }
}

// NewInteractor creates an Interactor over relay using keys for sealing
func NewInteractor(relay *Relay, keys ports.KeyStore, opts ...InteractorOption) *Interactor {
	i := &Interactor{
		relay:            relay,
		keys:             keys,
		logger:           watermill.NopLogger{},
		history:          newHistory(time.Now),
		requestHandlers:  make(map[string]ports.RequestHandler),
		responseHandlers: make(map[string]ports.ResponseHandler),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.onError == nil {
		i.onError = func(err error) {
			i.logger.Error("inbound rpc failed", err, nil)
		}
	}
	return i
}

var _ ports.Networking = (*Interactor)(nil)

func (i *Interactor) OnRequest(method string, handler ports.RequestHandler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.requestHandlers[method] = handler
}

func (i *Interactor) OnResponse(method string, handler ports.ResponseHandler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responseHandlers[method] = handler
}

func (i *Interactor) Subscribe(ctx context.Context, topic string) error {
	return i.relay.Subscribe(ctx, topic, i.handleInbound)
}

func (i *Interactor) Unsubscribe(ctx context.Context, topic string) error {
	return i.relay.Unsubscribe(ctx, topic)
}

// Request seals and publishes req on topic and remembers it for correlation
func (i *Interactor) Request(ctx context.Context, req core.RPCRequest, topic string, envelope core.Envelope) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	i.history.add(topic, req)
	if err := i.publish(ctx, topic, payload, envelope); err != nil {
		return err
	}
	i.logger.Debug("request sent", watermill.LogFields{"topic": topic, "method": req.Method, "id": req.ID})
	return nil
}

// Respond seals and publishes resp on topic
func (i *Interactor) Respond(ctx context.Context, resp core.RPCResponse, topic string, envelope core.Envelope) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := i.publish(ctx, topic, payload, envelope); err != nil {
		return err
	}
	i.logger.Debug("response sent", watermill.LogFields{"topic": topic, "id": resp.ID, "error": resp.Error != nil})
	return nil
}

func (i *Interactor) publish(ctx context.Context, topic string, payload []byte, envelope core.Envelope) error {
	key, err := i.keys.GetSymmetricKey(ctx, topic)
	if errors.Is(err, core.ErrKeyNotFound) {
		return fmt.Errorf("topic %s: %w", topic, core.ErrMissingKey)
	}
	if err != nil {
		return fmt.Errorf("failed to load topic key: %w", err)
	}

	var sender *crypto.PublicKey
	if envelope.Type == core.EnvelopeSenderKey {
		pub, err := crypto.ParsePublicKey(envelope.SenderPublicKey)
		if err != nil {
			return fmt.Errorf("failed to parse sender key: %w", err)
		}
		sender = &pub
	}

	sealed, err := crypto.Seal(key, sender, payload)
	if err != nil {
		return fmt.Errorf("failed to seal payload: %w", err)
	}
	return i.relay.Publish(ctx, topic, sealed)
}

// inbound is the union of request and response envelopes
type inbound struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *core.RPCError  `json:"error"`
}

func (i *Interactor) handleInbound(ctx context.Context, topic string, data []byte) {
	plaintext, sender, err := i.open(ctx, topic, data)
	if err != nil {
		i.onError(fmt.Errorf("topic %s: %w", topic, err))
		return
	}

	var msg inbound
	if err := json.Unmarshal(plaintext, &msg); err != nil || msg.ID == 0 {
		i.onError(fmt.Errorf("topic %s: %w", topic, core.ErrMalformedPayload))
		return
	}

	switch {
	case msg.Method != "":
		i.handleRequest(ctx, topic, sender, msg)
	case msg.Result != nil || msg.Error != nil:
		i.handleResponse(ctx, topic, msg)
	default:
		i.onError(fmt.Errorf("topic %s: neither request nor response: %w", topic, core.ErrMalformedPayload))
	}
}

func (i *Interactor) handleRequest(ctx context.Context, topic, sender string, msg inbound) {
	if i.history.isOutbound(msg.ID) {
		// our own request echoed back by the relay
		return
	}

	i.mu.RLock()
	handler, ok := i.requestHandlers[msg.Method]
	i.mu.RUnlock()
	if !ok {
		i.logger.Info("no handler for request", watermill.LogFields{"topic": topic, "method": msg.Method})
		return
	}

	payload := core.RequestPayload{
		Topic:           topic,
		Request:         core.RPCRequest{ID: msg.ID, JSONRPC: "2.0", Method: msg.Method, Params: msg.Params},
		SenderPublicKey: sender,
	}
	if err := handler(ctx, payload); err != nil {
		i.onError(fmt.Errorf("%s on %s: %w", msg.Method, topic, err))
	}
}

func (i *Interactor) handleResponse(ctx context.Context, topic string, msg inbound) {
	rec, ok := i.history.resolve(msg.ID)
	if !ok {
		// not ours, or already handled
		return
	}

	i.mu.RLock()
	handler, ok := i.responseHandlers[rec.request.Method]
	i.mu.RUnlock()
	if !ok {
		i.logger.Info("no handler for response", watermill.LogFields{"topic": topic, "method": rec.request.Method})
		return
	}

	payload := core.ResponsePayload{
		Topic:    topic,
		Request:  rec.request,
		Response: core.RPCResponse{ID: msg.ID, JSONRPC: "2.0", Result: msg.Result, Error: msg.Error},
	}
	if err := handler(ctx, payload); err != nil {
		i.onError(fmt.Errorf("%s response on %s: %w", rec.request.Method, topic, err))
	}
}

// open decrypts data; sender-key envelopes are opened with the agreement
// between the private key registered for topic and the sender key
func (i *Interactor) open(ctx context.Context, topic string, data []byte) ([]byte, string, error) {
	sealed, err := crypto.ParseEnvelope(data)
	if err != nil {
		return nil, "", fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
	}

	var key crypto.SymmetricKey
	var sender string
	if sealed.SenderPublicKey != nil {
		sender = sealed.SenderPublicKey.Hex()
		key, err = i.senderKey(ctx, topic, *sealed.SenderPublicKey)
	} else {
		key, err = i.keys.GetSymmetricKey(ctx, topic)
	}
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, "", core.ErrMissingKey
	}
	if err != nil {
		return nil, "", err
	}

	plaintext, err := sealed.Open(key)
	if err != nil {
		return nil, "", fmt.Errorf("%v: %w", err, core.ErrMalformedPayload)
	}
	return plaintext, sender, nil
}

func (i *Interactor) senderKey(ctx context.Context, topic string, sender crypto.PublicKey) (crypto.SymmetricKey, error) {
	self, err := i.keys.GetPublicKey(ctx, topic)
	if err != nil {
		return crypto.SymmetricKey{}, err
	}
	priv, err := i.keys.GetPrivateKey(ctx, self.Hex())
	if err != nil {
		return crypto.SymmetricKey{}, err
	}
	secret, err := crypto.Agree(priv, sender)
	if err != nil {
		return crypto.SymmetricKey{}, fmt.Errorf("%v: %w", err, core.ErrAgreement)
	}
	return secret.SymmetricKey(), nil
}
