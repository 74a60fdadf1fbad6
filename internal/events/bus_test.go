package events

import (
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	bus.Publish(NewPluginEvent(EventPluginLoaded, SourceHost, "blog", map[string]any{"version": "1.0.0"}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Type != EventPluginLoaded {
		t.Errorf("expected plugin.loaded, got %s", received[0].Type)
	}
	if received[0].Namespace != "blog" {
		t.Errorf("expected namespace blog, got %q", received[0].Namespace)
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var count int

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, EventGuardBlocked)

	bus.Publish(NewEvent(EventPluginLoaded, SourceHost, nil))
	bus.Publish(NewEvent(EventGuardBlocked, SourcePlugin, nil))
	bus.Publish(NewEvent(EventHostStarted, SourceHost, nil))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var count int

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewEvent(EventHostStarted, SourceHost, nil))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	unsub()
	bus.Publish(NewEvent(EventHostStopped, SourceHost, nil))

	// Give the dispatcher a moment; the count must not move.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestBus_History(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(NewEvent(EventPluginLoaded, SourceHost, map[string]any{"i": i}))
	}

	waitFor(t, func() bool { return len(bus.History(10)) == 5 })

	history := bus.History(3)
	if len(history) != 3 {
		t.Fatalf("expected 3 events, got %d", len(history))
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Event{ID: string(rune('a' + i))})
	}

	got := rb.Get(3)
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	// Oldest two (a, b) were overwritten.
	if got[0].ID != "c" || got[2].ID != "e" {
		t.Errorf("unexpected ring contents: %v", got)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	// Must not panic.
	bus.Publish(NewEvent(EventHostStopped, SourceHost, nil))
}
