package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/walletlink/adapters/events"
	"github.com/layer-3/walletlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillPublisherPublishesEvent(t *testing.T) {
	ctx := context.Background()
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1}, watermill.NopLogger{})
	defer bus.Close()

	messages, err := bus.Subscribe(ctx, events.Topic)
	require.NoError(t, err)

	pub := events.NewWatermillPublisher(bus)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, pub.Publish(ctx, core.Event{Kind: core.EventSessionExpired, Topic: "abc", At: at}))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, string(core.EventSessionExpired), msg.Metadata.Get("kind"))

		var event core.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, "abc", event.Topic)
		assert.True(t, at.Equal(event.At))
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}
}

func TestWatermillPublisherCustomTopic(t *testing.T) {
	ctx := context.Background()
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1}, watermill.NopLogger{})
	defer bus.Close()

	messages, err := bus.Subscribe(ctx, "wallet.lifecycle")
	require.NoError(t, err)

	pub := events.NewWatermillPublisher(bus, events.WithTopic("wallet.lifecycle"))
	require.NoError(t, pub.Publish(ctx, core.Event{Kind: core.EventPairingCreated, Topic: "def"}))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "def", msg.Metadata.Get("sequence_topic"))
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}
}
