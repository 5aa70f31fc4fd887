package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skytracker/types"
)

func receive(t *testing.T, ch <-chan types.DetectionEvent) types.DetectionEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	return types.DetectionEvent{}
}

func TestHubDeliversToEverySubscriber(t *testing.T) {
	h := NewHub(zerolog.Nop())
	defer h.Close()

	_, a := h.Subscribe()
	_, b := h.Subscribe()
	require.True(t, h.Publish(types.DetectionEvent{ID: 1, ObjectID: 4}))

	assert.Equal(t, 4, receive(t, a).ObjectID)
	assert.Equal(t, 4, receive(t, b).ObjectID)
}

func TestHubPrunesSlowSubscriber(t *testing.T) {
	h := NewHub(zerolog.Nop())
	defer h.Close()

	_, slow := h.Subscribe()
	_, fast := h.Subscribe()

	for i := 0; i <= subscriberBufSize; i++ {
		require.True(t, h.Publish(types.DetectionEvent{ID: int64(i)}))
		assert.Equal(t, int64(i), receive(t, fast).ID)
	}

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	n := 0
	for range slow {
		n++
	}
	assert.Equal(t, subscriberBufSize, n)
}

func TestHubUnsubscribeAndClose(t *testing.T) {
	h := NewHub(zerolog.Nop())

	id, ch := h.Subscribe()
	h.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	h.Unsubscribe("missing")

	_, other := h.Subscribe()
	h.Close()
	h.Close()
	_, ok = <-other
	assert.False(t, ok)

	assert.False(t, h.Publish(types.DetectionEvent{}))
	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestHubFullQueueStillDelivers(t *testing.T) {
	// Bridge not started yet, so the queue fills up.
	h := &Hub{
		log:  zerolog.Nop(),
		in:   make(chan types.DetectionEvent, 1),
		subs: make(map[string]chan types.DetectionEvent),
		done: make(chan struct{}),
	}
	_, ch := h.Subscribe()

	require.True(t, h.Publish(types.DetectionEvent{ID: 1}))
	require.True(t, h.Publish(types.DetectionEvent{ID: 2}))
	assert.Equal(t, int64(2), receive(t, ch).ID)

	go h.bridge()
	assert.Equal(t, int64(1), receive(t, ch).ID)
	h.Close()
	_, ok := <-ch
	assert.False(t, ok)
}
