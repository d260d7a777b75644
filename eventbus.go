package seestar

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/scopinator/seestar/internal/queue"
)

// Handler receives one Event at a time, in publish order relative to other
// events of the same Kind delivered to this Handler. A panic inside Handler
// is recovered and logged; it never reaches the publisher or other
// subscribers.
type Handler func(Event)

type subscriber struct {
	kind    EventKind
	handler Handler
	q       *queue.Queue[Event]
	stop    chan struct{}
	limiter *rate.Limiter
}

// EventBus is the publish/subscribe hub for device events and internal
// status changes. Each subscriber owns a bounded delivery queue and a
// dedicated goroutine, so a slow or panicking subscriber never blocks or
// crashes delivery to anyone else.
type EventBus struct {
	mu   sync.Mutex
	subs []*subscriber
	wg   sync.WaitGroup

	queueSize int
	log       Logger
	dropped   prometheus.Counter
}

func NewEventBus(queueSize int, log Logger, dropped prometheus.Counter) *EventBus {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &EventBus{queueSize: queueSize, log: loggerOrNoop(log), dropped: dropped}
}

// Subscribe registers handler for kind (or eventKindWildcard for every
// kind). It returns an unsubscribe function.
func (b *EventBus) Subscribe(kind EventKind, handler Handler) func() {
	sub := &subscriber{
		kind:    kind,
		handler: handler,
		q:       queue.New[Event](b.queueSize),
		stop:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliverLoop(sub)

	return func() { b.unsubscribe(sub) }
}

func (b *EventBus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	close(sub.stop)
	sub.q.Close()
}

// Publish fans ev out to every subscriber registered on ev.Kind or the
// wildcard. Overflow at a subscriber's queue drops the oldest queued event
// for that subscriber and logs at most once per rate-limit window.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == eventKindWildcard || s.kind == ev.Kind {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		if dropped := s.q.Push(ev); dropped {
			if b.dropped != nil {
				b.dropped.Inc()
			}
			if s.limiter.Allow() {
				b.log.Warn("seestar: subscriber queue full, dropping oldest event", "kind", ev.Kind)
			}
		}
	}
}

func (b *EventBus) deliverLoop(sub *subscriber) {
	defer b.wg.Done()
	for {
		ev, ok := sub.q.Pop(sub.stop)
		if !ok {
			return
		}
		b.invoke(sub.handler, ev)
	}
}

func (b *EventBus) invoke(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("seestar: event subscriber panicked", "recover", r)
		}
	}()
	handler(ev)
}

// Close unsubscribes everyone and waits for delivery goroutines to exit.
func (b *EventBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		close(s.stop)
		s.q.Close()
	}
	b.wg.Wait()
}
