package ports

import (
	"context"

	"github.com/layer-3/walletlink/core"
)

// EventPublisher publishes lifecycle events to interested collaborators
type EventPublisher interface {
	Publish(ctx context.Context, event core.Event) error
}
