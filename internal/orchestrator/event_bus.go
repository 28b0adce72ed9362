package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultSubscriberBuffer is the per-subscriber channel capacity.
	DefaultSubscriberBuffer = 256
	// sendTimeout is how long Publish waits on a full subscriber before dropping.
	sendTimeout = 100 * time.Millisecond
)

type subscriber struct {
	ch    chan Event
	kinds map[EventType]bool
}

func (s *subscriber) wants(t EventType) bool {
	return len(s.kinds) == 0 || s.kinds[t]
}

// EventBus fans orchestrator events out to subscribers. Each subscriber gets
// its own buffered channel; a subscriber that stops draining loses events
// instead of stalling the orchestrator.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	buffer  int
	closed  bool
	dropped atomic.Uint64
	onDrop  func(EventType)
}

// NewEventBus creates a bus whose subscriber channels hold buffer events.
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &EventBus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when none are given, and a function that ends the subscription.
// The channel is closed on unsubscribe or when the bus closes.
func (b *EventBus) Subscribe(kinds ...EventType) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	sub := &subscriber{ch: ch}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventType]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers an event to every interested subscriber.
// If a subscriber's channel is full, it tries with a timeout before dropping the event.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.wants(event.Type) {
			b.send(sub, event)
		}
	}
}

func (b *EventBus) send(sub *subscriber, event Event) {
	// Try immediate send first
	select {
	case sub.ch <- event:
		return
	default:
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case sub.ch <- event:
	case <-timer.C:
		count := b.dropped.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[orchestrator] WARNING: subscriber channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
		if b.onDrop != nil {
			b.onDrop(event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (b *EventBus) DroppedCount() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
