package seestar

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// pendingRequest is one outstanding request awaiting a Response.
type pendingRequest struct {
	id        uint64
	method    string
	deadline  time.Time
	completer chan Response
	done      atomic.Bool
}

func (p *pendingRequest) complete(resp Response) bool {
	if !p.done.CompareAndSwap(false, true) {
		return false
	}
	p.completer <- resp
	return true
}

// Correlator issues monotonically increasing request ids and matches
// device responses back to the caller that issued them. At most one
// pending entry exists per id at any instant.
type Correlator struct {
	nextID uint64 // atomic

	mu      sync.Mutex
	pending map[uint64]*pendingRequest

	reaperStop chan struct{}
	reaperDone chan struct{}

	inFlight prometheus.Gauge
}

// NewCorrelator starts a Correlator with its reaper ticking every 100ms.
func NewCorrelator(inFlight prometheus.Gauge) *Correlator {
	c := &Correlator{
		nextID:     0,
		pending:    make(map[uint64]*pendingRequest),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
		inFlight:   inFlight,
	}
	go c.reap()
	return c
}

// NextID allocates the next request id. Ids start at 1; Client resets the
// counter when the transport reconnects, so each connection starts over at 1.
func (c *Correlator) NextID() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

// Register inserts a pending entry for id, to be completed later by
// Deliver, Timeout via the reaper, or DrainAll on disconnect/close.
func (c *Correlator) Register(id uint64, method string, deadline time.Time) *pendingRequest {
	p := &pendingRequest{id: id, method: method, deadline: deadline, completer: make(chan Response, 1)}
	c.mu.Lock()
	c.pending[id] = p
	n := len(c.pending)
	c.mu.Unlock()
	if c.inFlight != nil {
		c.inFlight.Set(float64(n))
	}
	return p
}

// Deliver matches an incoming Response to its pending request by id. A
// response whose id has no pending entry is dropped silently: expected
// after a reconnect resets the id space, not an error.
func (c *Correlator) Deliver(resp Response) {
	c.mu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	n := len(c.pending)
	c.mu.Unlock()
	if c.inFlight != nil {
		c.inFlight.Set(float64(n))
	}
	if ok {
		p.complete(resp)
	}
}

// Await blocks until p is completed or ctx is cancelled. Command deadlines
// are enforced by the reaper, not by ctx; ctx cancelling here means the
// caller's own context ended first, which Send reports as Cancelled (or as
// Timeout, if the caller's own deadline is what elapsed).
func (c *Correlator) Await(ctx context.Context, p *pendingRequest) (Response, error) {
	select {
	case resp := <-p.completer:
		return resp, nil
	case <-ctx.Done():
		c.remove(p.id)
		return Response{}, ctx.Err()
	}
}

func (c *Correlator) remove(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	n := len(c.pending)
	c.mu.Unlock()
	if c.inFlight != nil {
		c.inFlight.Set(float64(n))
	}
}

// reap scans pending entries every 100ms and fails any past its deadline
// with a Timeout response.
func (c *Correlator) reap() {
	defer close(c.reaperDone)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.reaperStop:
			return
		case now := <-ticker.C:
			c.reapOnce(now)
		}
	}
}

func (c *Correlator) reapOnce(now time.Time) {
	c.mu.Lock()
	var expired []*pendingRequest
	for id, p := range c.pending {
		if !p.deadline.IsZero() && now.After(p.deadline) {
			expired = append(expired, p)
			delete(c.pending, id)
		}
	}
	n := len(c.pending)
	c.mu.Unlock()
	if c.inFlight != nil {
		c.inFlight.Set(float64(n))
	}

	for _, p := range expired {
		p.complete(Response{ID: p.id, Err: &TimeoutError{Method: p.method, ID: p.id}})
	}
}

// DrainAll completes every pending entry with err, atomically emptying the
// table first so a concurrent Register can't slip a request in mid-drain
// and be silently forgotten. Used on transport disconnect and on Close.
func (c *Correlator) DrainAll(err error) {
	c.mu.Lock()
	all := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()
	if c.inFlight != nil {
		c.inFlight.Set(0)
	}

	for _, p := range all {
		p.complete(Response{ID: p.id, Err: err})
	}
}

// Close stops the reaper. Call it exactly once; a second call panics.
func (c *Correlator) Close() {
	close(c.reaperStop)
	<-c.reaperDone
}

// Len reports the number of pending requests, for tests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
