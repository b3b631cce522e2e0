package ports

import (
	"context"

	"github.com/layer-3/walletlink/core"
)

type RequestHandler func(ctx context.Context, payload core.RequestPayload) error
type ResponseHandler func(ctx context.Context, payload core.ResponsePayload) error

// Networking sends and receives RPC envelopes on encrypted topics
type Networking interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Request(ctx context.Context, req core.RPCRequest, topic string, envelope core.Envelope) error
	Respond(ctx context.Context, resp core.RPCResponse, topic string, envelope core.Envelope) error

	// OnRequest registers the handler for inbound requests of method
	OnRequest(method string, handler RequestHandler)
	// OnResponse registers the handler for responses to our requests of method
	OnResponse(method string, handler ResponseHandler)
}
