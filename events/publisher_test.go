package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-wallet-refresh/credential"
	"github.com/jrsteele09/go-wallet-refresh/events"
	"github.com/jrsteele09/go-wallet-refresh/registry"
)

func TestPublisherForwardsRegistryChanges(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })

	msgs, err := pubsub.Subscribe(context.Background(), "wallet.refresh.registry")
	require.NoError(t, err)

	reg := registry.New()
	events.NewPublisher(reg, pubsub, zerolog.Nop())

	reg.MarkExpiredWithReplacement("c1", credential.Ref{ID: "c1-new", Format: credential.FormatSDJWTVC})

	select {
	case msg := <-msgs:
		var event events.ChangeEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		require.Equal(t, []string{"c1"}, event.Expired)
		require.Equal(t, 1, event.Replacements)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no registry change event published")
	}
}

func TestPublisherCustomTopic(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })

	msgs, err := pubsub.Subscribe(context.Background(), "custom.topic")
	require.NoError(t, err)

	reg := registry.New()
	events.NewPublisher(reg, pubsub, zerolog.Nop(), events.WithTopic("custom.topic"))

	reg.Upsert(credential.Ref{ID: "c1"})

	select {
	case msg := <-msgs:
		var event events.ChangeEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		require.Equal(t, 1, event.Credentials)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("no event on custom topic")
	}
}
