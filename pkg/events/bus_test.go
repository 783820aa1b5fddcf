package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscribeReceivesMatchingInstance(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx, "inst-1")
	bus.Publish(New(KindMessage, "inst-1", map[string]interface{}{"body": "hi"}))
	bus.Publish(New(KindMessage, "inst-2", nil))

	select {
	case evt := <-ch:
		assert.Equal(t, "inst-1", evt.InstanceID)
		assert.Equal(t, KindMessage, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event for %s", evt.InstanceID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllInstances(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.SubscribeBuffered(ctx, "", 8)
	bus.Publish(New(KindReady, "a", nil))
	bus.Publish(New(KindReady, "b", nil))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			seen[evt.InstanceID] = true
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])
}

func TestCancelRemovesSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch := bus.Subscribe(ctx, "inst-1")
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool {
		return bus.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	// Channel is closed so consumers unblock.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestSlowSubscriberKeepsNewestEvent(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.SubscribeBuffered(ctx, "inst-1", 1)
	for seq := 1; seq <= 3; seq++ {
		bus.Publish(New(KindMessage, "inst-1", map[string]interface{}{"seq": seq}))
	}

	select {
	case evt := <-ch:
		assert.Equal(t, 3, evt.Data["seq"])
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Nobody reads from this subscription.
	_ = bus.SubscribeBuffered(ctx, "inst-1", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(New(KindMessage, "inst-1", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
