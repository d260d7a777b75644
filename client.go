package seestar

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Client is the control-channel façade (C7): one text Transport, one
// Correlator, one EventBus and one StatusStore, wired together so that
// Send, Subscribe and Status are the only things a caller needs.
//
// A Client is used with a scoped acquisition pattern: Connect on entry,
// and Disconnect on every exit path, however the caller leaves the scope.
type Client struct {
	endpoint Endpoint
	cfg      Config
	log      Logger

	sessionID string

	mu        sync.Mutex
	transport *Transport
	corr      *Correlator
	closed    bool

	bus    *EventBus
	status *StatusStore

	pumpDone chan struct{}

	metrics clientMetrics
}

type clientMetrics struct {
	inFlight       prometheus.Gauge
	eventsDrop     prometheus.Counter
	protocolErrors prometheus.Counter
}

// NewClient builds a Client bound to endpoint. It does not connect; call
// Connect to open the control transport.
func NewClient(endpoint Endpoint, cfg Config, log Logger) *Client {
	log = loggerOrNoop(log)
	m := clientMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seestar", Subsystem: "control", Name: "requests_in_flight",
			Help: "Number of control requests awaiting a response.",
		}),
		eventsDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seestar", Subsystem: "events", Name: "dropped_total",
			Help: "Number of events dropped because a subscriber's queue was full.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seestar", Subsystem: "control", Name: "protocol_errors_total",
			Help: "Number of malformed or undecodable control lines received.",
		}),
	}
	return &Client{
		endpoint:  endpoint,
		cfg:       cfg,
		log:       log,
		sessionID: uuid.NewString(),
		bus:       NewEventBus(cfg.SubscriberQueueSize, log, m.eventsDrop),
		status:    NewStatusStore(),
		metrics:   m,
	}
}

// Metrics registers the client's Prometheus collectors with reg. Optional;
// skip it if the caller doesn't run a metrics endpoint.
func (c *Client) Metrics(reg prometheus.Registerer) error {
	if err := reg.Register(c.metrics.inFlight); err != nil {
		return err
	}
	if err := reg.Register(c.metrics.eventsDrop); err != nil {
		return err
	}
	return reg.Register(c.metrics.protocolErrors)
}

// Connect opens the control transport and starts the correlation/event
// pump. It returns once the initial TCP connection succeeds; subsequent
// drops are handled by the transport's own reconnect loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.transport != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	transport := NewTransport(func() string { return c.endpoint.controlAddr() }, ModeText, c.cfg, c.log)
	corr := NewCorrelator(c.metrics.inFlight)
	c.transport = transport
	c.corr = corr
	c.pumpDone = make(chan struct{})
	c.mu.Unlock()

	if err := transport.Open(ctx); err != nil {
		c.mu.Lock()
		c.transport = nil
		c.corr = nil
		c.mu.Unlock()
		corr.Close()
		return &ConnectFailedError{Endpoint: c.endpoint, Cause: err}
	}

	c.status.SetControlConnected(true)
	go c.pump(transport, corr)
	return nil
}

// pump reads decoded lines and internal events off transport and routes
// them to the Correlator or the EventBus until the transport is closed.
func (c *Client) pump(transport *Transport, corr *Correlator) {
	defer close(c.pumpDone)
	for {
		select {
		case in, ok := <-transport.Text():
			if !ok {
				return
			}
			c.handleLine(in, corr)
		case ev, ok := <-transport.InternalEvents():
			if !ok {
				return
			}
			c.handleInternalEvent(ev, corr)
		}
		if transport.State() == StateClosed {
			return
		}
	}
}

func (c *Client) handleLine(in inboundText, corr *Correlator) {
	if in.err != nil {
		c.metrics.protocolErrors.Inc()
		c.log.Warn("seestar: malformed control line", "err", in.err)
		return
	}
	kind, resp, ev, err := decodeLine(in.line, time.Now)
	if err != nil {
		c.metrics.protocolErrors.Inc()
		c.log.Warn("seestar: undecodable control line", "err", err)
		return
	}
	switch kind {
	case lineResponse:
		corr.Deliver(resp)
	case lineEvent:
		c.status.ApplyEvent(ev)
		c.bus.Publish(ev)
	}
}

func (c *Client) handleInternalEvent(ev Event, corr *Correlator) {
	switch ev.Kind {
	case EventInternalDisconnected:
		c.status.SetControlConnected(false)
		corr.DrainAll(&DisconnectedError{})
	case EventInternalReconnected:
		// Every pending entry was drained on the disconnect, so the new
		// connection starts its id space over at 1.
		atomic.StoreUint64(&corr.nextID, 0)
		c.status.SetControlConnected(true)
	}
	c.bus.Publish(ev)
}

// Send issues method with params and blocks for a response, subject to
// Config.CommandTimeout (or ctx's own deadline, if sooner).
//
// If Config.WaitForReconnect is set and the transport is Reconnecting when
// Send is called, Send blocks up to Config.ReconnectWaitTimeout for the
// transport to come back before it even tries to enqueue the frame, rather
// than failing the command fast against a connection it knows is down.
func (c *Client) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	transport, corr, closed := c.transport, c.corr, c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if transport == nil || corr == nil {
		return nil, ErrNotConnected
	}

	if c.cfg.WaitForReconnect && transport.State() == StateReconnecting {
		waitCtx, cancel := context.WithTimeout(ctx, orDefault(c.cfg.ReconnectWaitTimeout, 30*time.Second))
		err := c.waitForConnected(waitCtx, transport)
		cancel()
		if err != nil {
			return nil, &DisconnectedError{Cause: err}
		}
	}

	id := corr.NextID()
	line, err := encodeEnvelope(id, method, params)
	if err != nil {
		return nil, err
	}

	timeout := orDefault(c.cfg.CommandTimeout, 10*time.Second)
	deadline := time.Now().Add(timeout)
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending := corr.Register(id, method, deadline)
	if err := transport.SendFrame(sendCtx, line); err != nil {
		corr.Deliver(Response{ID: id, Err: &CancelledError{Method: method, ID: id}})
		return nil, err
	}

	// ctx, not sendCtx: the command deadline is enforced by the Correlator's
	// reaper, which completes p with a TimeoutError once deadline passes. If
	// Await were bounded by sendCtx instead, its identical deadline would
	// race the reaper's next 100ms tick and win first almost every time,
	// turning every timeout into a CancelledError before the reaper ever
	// gets a chance to run.
	resp, err := corr.Await(ctx, pending)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: method, ID: id}
		}
		return nil, &CancelledError{Method: method, ID: id}
	}
	return resp.Result, resp.Err
}

// waitForConnected blocks until transport reports Connected or ctx expires.
// It listens for EventInternalReconnected rather than polling State, so it
// wakes as soon as the transport's own reconnect loop redials successfully.
func (c *Client) waitForConnected(ctx context.Context, transport *Transport) error {
	if transport.State() == StateConnected {
		return nil
	}

	reconnected := make(chan struct{}, 1)
	unsubscribe := c.bus.Subscribe(EventInternalReconnected, func(Event) {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	if transport.State() == StateConnected {
		return nil
	}
	select {
	case <-reconnected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendCommand issues cmd and validates the result against its
// ResponseSchema (if any) before returning it.
func (c *Client) SendCommand(ctx context.Context, cmd Command) (json.RawMessage, error) {
	result, err := c.Send(ctx, cmd.Method(), cmd.Params())
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(cmd.ResponseSchema(), result); err != nil {
		return nil, err
	}
	return result, nil
}

// Subscribe registers handler for kind.
func (c *Client) Subscribe(kind EventKind, handler Handler) func() {
	return c.bus.Subscribe(kind, handler)
}

// SubscribeAll registers handler for every event kind, including the
// internal InternalDisconnected/InternalReconnected pair.
func (c *Client) SubscribeAll(handler Handler) func() {
	return c.bus.Subscribe(eventKindWildcard, handler)
}

// Status returns a copy-on-read snapshot of everything the client has
// learned from device events so far.
func (c *Client) Status() Snapshot {
	return c.status.Snapshot()
}

// SessionID identifies this Client instance across reconnects, for callers
// that log or correlate against it externally. It does not change when the
// transport reconnects; only a fresh NewClient gets a fresh one.
func (c *Client) SessionID() string { return c.sessionID }

// Disconnect tears down the control transport and fails every pending
// request with CancelledError. Safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	transport, corr, pumpDone := c.transport, c.corr, c.pumpDone
	c.mu.Unlock()

	if corr != nil {
		corr.DrainAll(&CancelledError{})
	}
	var err error
	if transport != nil {
		err = transport.Close()
	}
	if pumpDone != nil {
		<-pumpDone
	}
	if corr != nil {
		corr.Close()
	}
	c.bus.Close()
	c.status.SetControlConnected(false)
	return err
}
