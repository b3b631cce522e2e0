package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/layer-3/walletlink/adapters/metrics"
	"github.com/layer-3/walletlink/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, core.Event) error {
	p.calls++
	return errors.New("bus down")
}

func counted(t *testing.T, reg *prometheus.Registry, kind core.EventKind) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "walletlink_lifecycle_events_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "kind" && label.GetValue() == string(kind) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEventCounterCountsAndForwards(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	next := &failingPublisher{}

	counter, err := metrics.NewEventCounter(reg, next)
	require.NoError(t, err)

	assert.Error(t, counter.Publish(ctx, core.Event{Kind: core.EventSessionSettled}))
	assert.Error(t, counter.Publish(ctx, core.Event{Kind: core.EventSessionSettled}))
	assert.Error(t, counter.Publish(ctx, core.Event{Kind: core.EventPairingExpired}))

	assert.Equal(t, 3, next.calls)
	assert.Equal(t, float64(2), counted(t, reg, core.EventSessionSettled))
	assert.Equal(t, float64(1), counted(t, reg, core.EventPairingExpired))
	assert.Zero(t, counted(t, reg, core.EventThreadCreated))
}

func TestEventCounterWithoutNext(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter, err := metrics.NewEventCounter(reg, nil)
	require.NoError(t, err)
	require.NoError(t, counter.Publish(context.Background(), core.Event{Kind: core.EventInviteSent}))
	assert.Equal(t, float64(1), counted(t, reg, core.EventInviteSent))

	// a second counter on the same registry collides
	_, err = metrics.NewEventCounter(reg, nil)
	assert.Error(t, err)
}
