package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(Config{QueueDepth: 4})
	sub := b.Subscribe("jobs")
	defer sub.Close()

	b.Publish(context.Background(), "jobs", Event{Resource: "job", ID: "job-1"})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "job-1", ev.ID)
		assert.Equal(t, "jobs", ev.Channel)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsWhenSubscriberQueueFull(t *testing.T) {
	b := New(Config{QueueDepth: 1})
	sub := b.Subscribe("jobs")
	defer sub.Close()

	b.Publish(context.Background(), "jobs", Event{ID: "first"})
	b.Publish(context.Background(), "jobs", Event{ID: "second"})

	assert.Equal(t, int64(1), b.Dropped())

	ev := <-sub.Events()
	assert.Equal(t, "first", ev.ID)
}

func TestUnrelatedChannelsAreIsolated(t *testing.T) {
	b := New(Config{QueueDepth: 4})
	jobsSub := b.Subscribe("jobs")
	defer jobsSub.Close()

	b.Publish(context.Background(), "batch_jobs", Event{ID: "bj-1"})

	select {
	case <-jobsSub.Events():
		t.Fatal("should not receive event published to a different channel")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCloseStopsDeliveryAndClosesQueues(t *testing.T) {
	b := New(Config{QueueDepth: 4})
	sub := b.Subscribe("jobs")

	b.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), "jobs", Event{ID: "after-close"})
	})
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	b := New(Config{QueueDepth: 1})
	sub := b.Subscribe("jobs")
	require.NotPanics(t, func() {
		sub.Close()
		sub.Close()
	})
}
