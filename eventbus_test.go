package seestar

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversToMatchingKindOnly(t *testing.T) {
	b := NewEventBus(8, nil, nil)
	defer b.Close()

	var mu sync.Mutex
	var got []EventKind
	done := make(chan struct{}, 1)

	unsub := b.Subscribe(EventPiStatus, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
		done <- struct{}{}
	})
	defer unsub()

	b.Publish(Event{Kind: EventViewStateChanged})
	b.Publish(Event{Kind: EventPiStatus})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventPiStatus}, got)
}

func TestEventBusWildcardReceivesEverything(t *testing.T) {
	b := NewEventBus(8, nil, nil)
	defer b.Close()

	received := make(chan EventKind, 4)
	unsub := b.Subscribe(eventKindWildcard, func(ev Event) { received <- ev.Kind })
	defer unsub()

	b.Publish(Event{Kind: EventPiStatus})
	b.Publish(Event{Kind: EventStackingStatus})

	kinds := map[EventKind]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-received:
			kinds[k] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wildcard delivery")
		}
	}
	assert.True(t, kinds[EventPiStatus])
	assert.True(t, kinds[EventStackingStatus])
}

func TestEventBusOverflowDropsOldest(t *testing.T) {
	b := NewEventBus(1, nil, nil)
	defer b.Close()

	block := make(chan struct{})
	release := make(chan struct{})
	var blockOnce sync.Once
	got := make(chan string, 4)
	unsub := b.Subscribe(EventPiStatus, func(ev Event) {
		blockOnce.Do(func() { close(block) })
		got <- string(ev.Payload)
		<-release
	})
	defer unsub()

	b.Publish(Event{Kind: EventPiStatus, Payload: []byte(`1`)})
	<-block // first delivery is now in-flight, blocking the subscriber goroutine

	// Queue capacity is 1: `2` is queued, then `3` evicts it.
	b.Publish(Event{Kind: EventPiStatus, Payload: []byte(`2`)})
	b.Publish(Event{Kind: EventPiStatus, Payload: []byte(`3`)})

	close(release)

	for _, want := range []string{"1", "3"} {
		select {
		case p := <-got:
			assert.Equal(t, want, p)
		case <-time.After(time.Second):
			t.Fatalf("event %s never delivered", want)
		}
	}
}

func TestEventBusPanicInHandlerDoesNotCrashBus(t *testing.T) {
	b := NewEventBus(4, nil, nil)
	defer b.Close()

	done := make(chan struct{}, 1)
	unsub := b.Subscribe(EventPiStatus, func(ev Event) {
		defer func() { done <- struct{}{} }()
		panic("boom")
	})
	defer unsub()

	b.Publish(Event{Kind: EventPiStatus})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking handler should still have run")
	}
}

func TestEventBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewEventBus(4, nil, nil)
	defer b.Close()

	count := 0
	var mu sync.Mutex
	unsub := b.Subscribe(EventPiStatus, func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	b.Publish(Event{Kind: EventPiStatus})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, count)
}
