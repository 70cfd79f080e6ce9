package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribeRoundTrip(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "t1", Message{Event: "fsm_created"}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "fsm_created", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("never received published message")
	}
}

func TestMemoryBusTenantAndSubscriberNamespacesAreIsolated(t *testing.T) {
	b := NewMemoryBus()

	tenantSub, err := b.Subscribe(context.Background(), "acme")
	require.NoError(t, err)
	subscriberSub, err := b.SubscribeAsSubscriber(context.Background(), "acme")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "acme", Message{Event: "tenant_only"}))

	select {
	case msg := <-tenantSub.Channel():
		assert.Equal(t, "tenant_only", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("tenant channel never received its own publish")
	}

	select {
	case msg := <-subscriberSub.Channel():
		t.Fatalf("subscriber channel unexpectedly received %q — namespaces are not isolated", msg.Event)
	case <-time.After(50 * time.Millisecond):
		// expected: identical ids in different namespaces never cross-deliver.
	}

	require.NoError(t, b.PublishToSubscriber(context.Background(), "acme", Message{Event: "subscriber_only"}))

	select {
	case msg := <-subscriberSub.Channel():
		assert.Equal(t, "subscriber_only", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel never received PublishToSubscriber")
	}
}

func TestMemoryBusCloseClosesEverySubscription(t *testing.T) {
	b := NewMemoryBus()
	sub, err := b.Subscribe(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, b.Close())

	_, ok := <-sub.Channel()
	assert.False(t, ok, "channel should be closed after Bus.Close")
}
