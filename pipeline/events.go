package pipeline

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skytracker/types"
)

const (
	hubQueueSize      = 64
	subscriberBufSize = 16
)

// Hub fans detection events out to subscribers. Publish never blocks: events
// go through a bounded queue to a single bridge goroutine, and a subscriber
// whose buffer is full is dropped. When the queue itself is full, Publish
// delivers directly, so only slow subscribers ever miss an event; events may
// then arrive out of order.
type Hub struct {
	log zerolog.Logger
	in  chan types.DetectionEvent

	mu     sync.Mutex
	subs   map[string]chan types.DetectionEvent
	closed bool

	done chan struct{}
	once sync.Once
}

// NewHub starts a Hub.
func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		log:  log,
		in:   make(chan types.DetectionEvent, hubQueueSize),
		subs: make(map[string]chan types.DetectionEvent),
		done: make(chan struct{}),
	}
	go h.bridge()
	return h
}

// Subscribe registers a new subscriber. The channel is closed when the
// subscriber is removed or the Hub closes.
func (h *Hub) Subscribe() (string, <-chan types.DetectionEvent) {
	ch := make(chan types.DetectionEvent, subscriberBufSize)
	id := uuid.NewString()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish hands ev to the subscribers. It reports false if the Hub is closed.
func (h *Hub) Publish(ev types.DetectionEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	select {
	case h.in <- ev:
	default:
		h.log.Debug().Int("object_id", ev.ObjectID).Msg("event queue full, delivering directly")
		h.fanOut(ev)
	}
	return true
}

func (h *Hub) bridge() {
	defer close(h.done)
	for ev := range h.in {
		h.mu.Lock()
		h.fanOut(ev)
		h.mu.Unlock()
	}
}

// fanOut sends ev to every subscriber, removing those whose buffer is full.
// h.mu must be held.
func (h *Hub) fanOut(ev types.DetectionEvent) {
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, id)
			close(ch)
			h.log.Warn().Str("subscriber", id).Msg("subscriber not keeping up, removed")
		}
	}
}

// Close stops delivery after the queued events are sent and closes every
// subscriber channel.
func (h *Hub) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.in)
		h.mu.Unlock()
		<-h.done

		h.mu.Lock()
		defer h.mu.Unlock()
		for id, ch := range h.subs {
			delete(h.subs, id)
			close(ch)
		}
	})
}
