package orchestrator

import (
	"testing"
	"time"
)

func TestEventBusFiltersByType(t *testing.T) {
	b := NewEventBus(8)
	all, unsubAll := b.Subscribe()
	defer unsubAll()
	done, unsubDone := b.Subscribe(EventTaskCompleted)
	defer unsubDone()

	b.Publish(Event{Type: EventTaskStarted})
	b.Publish(Event{Type: EventTaskCompleted})

	if got := len(all); got != 2 {
		t.Errorf("wildcard subscriber got %d events, want 2", got)
	}
	if got := len(done); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	if e := <-done; e.Type != EventTaskCompleted {
		t.Errorf("filtered subscriber got %s", e.Type)
	}
}

func TestEventBusDropsWhenFull(t *testing.T) {
	b := NewEventBus(1)
	var hooked int
	b.onDrop = func(EventType) { hooked++ }
	_, unsub := b.Subscribe()
	defer unsub()

	start := time.Now()
	b.Publish(Event{Type: EventTaskStarted})
	b.Publish(Event{Type: EventTaskStarted})

	if b.DroppedCount() != 1 {
		t.Errorf("DroppedCount() = %d, want 1", b.DroppedCount())
	}
	if hooked != 1 {
		t.Errorf("drop hook called %d times, want 1", hooked)
	}
	if elapsed := time.Since(start); elapsed < sendTimeout {
		t.Errorf("Publish gave up after %v, want at least %v", elapsed, sendTimeout)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	b := NewEventBus(4)
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: EventTaskStarted}) // must not panic
}

func TestEventBusClose(t *testing.T) {
	b := NewEventBus(4)
	ch, unsub := b.Subscribe()
	b.Close()
	b.Close()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed bus should return a closed channel")
	}
	b.Publish(Event{Type: EventTaskStarted})
}
