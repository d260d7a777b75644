package seestar

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/scopinator/seestar/internal/backoff"
)

// TransportState is the C1 connection state machine:
// Disconnected -> Connecting -> Connected -> {Reconnecting -> Connecting} | Closing -> Closed.
type TransportState int

const (
	StateDisconnected TransportState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateClosed
)

func (s TransportState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// TransportMode selects which framing a Transport speaks. A single
// Transport never mixes the two.
type TransportMode int

const (
	ModeText TransportMode = iota
	ModeBinary
)

// inboundText is one LF-delimited, CR-stripped line read off a text
// transport, or a decode error for a malformed line (non-fatal).
type inboundText struct {
	line []byte
	err  error
}

// inboundBinary is one decoded BinaryFrame off a binary transport. The read
// loop never sends a decode error here: any error from readBinaryFrame,
// including io.EOF and a malformed frame, ends the connection and starts a
// reconnect instead.
type inboundBinary struct {
	frame BinaryFrame
	err   error
}

// Transport owns exactly one socket: it dials, frames bytes, and
// reconnects with backoff on any I/O error. It posts internal
// InternalDisconnected/InternalReconnected events to a channel rather than
// holding a reference back to its owner.
type Transport struct {
	mode addr
	tmode TransportMode
	cfg   Config
	log   Logger

	mu    sync.Mutex
	state TransportState
	conn  net.Conn

	writeCh chan writeRequest
	textCh  chan inboundText
	binCh   chan inboundBinary
	eventCh chan Event

	cancel     context.CancelFunc
	loopDone   chan struct{}
	closeOnce  sync.Once
}

type addr struct {
	dial func() string
}

type writeRequest struct {
	data []byte
	done chan error
}

// NewTransport creates a Transport for the given dial target. dialAddr
// returns the "host:port" string to dial (kept as a func so Endpoint's
// control vs imaging port selection stays in one place).
func NewTransport(dialAddr func() string, mode TransportMode, cfg Config, log Logger) *Transport {
	return &Transport{
		mode:    addr{dial: dialAddr},
		tmode:   mode,
		cfg:     cfg,
		log:     loggerOrNoop(log),
		state:   StateDisconnected,
		writeCh: make(chan writeRequest, maxInt(cfg.WriteQueueSize, 1)),
		textCh:  make(chan inboundText, 16),
		binCh:   make(chan inboundBinary, 16),
		eventCh: make(chan Event, 16),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Text returns the channel of decoded lines. Only meaningful for a
// ModeText transport.
func (t *Transport) Text() <-chan inboundText { return t.textCh }

// Binary returns the channel of decoded frames. Only meaningful for a
// ModeBinary transport.
func (t *Transport) Binary() <-chan inboundBinary { return t.binCh }

// InternalEvents returns InternalDisconnected/InternalReconnected events.
func (t *Transport) InternalEvents() <-chan Event { return t.eventCh }

// State returns the current connection state.
func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s TransportState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Open dials once, synchronously, then starts the background loop that
// owns the socket for the rest of the session (reconnecting as needed).
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateDisconnected && t.state != StateClosed {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(StateDisconnected)
		return &ConnectFailedError{Cause: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateConnected
	t.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.loopDone = make(chan struct{})
	go t.loop(loopCtx, conn)
	return nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, orDefault(t.cfg.ConnectTimeout, 10*time.Second))
	defer cancel()
	var d net.Dialer
	return d.DialContext(dialCtx, "tcp", t.mode.dial())
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// loop owns conn for as long as it stays healthy, then reconnects with
// backoff until Close is called.
func (t *Transport) loop(ctx context.Context, conn net.Conn) {
	defer close(t.loopDone)

	bo := backoff.New(backoff.Config{
		Base:        t.cfg.ReconnectBase,
		Cap:         t.cfg.ReconnectCap,
		MaxAttempts: t.cfg.ReconnectMaxAttempts,
	})

	current := conn
	for {
		connCtx, cancelConn := context.WithCancel(ctx)
		writerDone := t.runWriter(connCtx, current)
		err := t.runReader(connCtx, current)
		cancelConn()
		<-writerDone
		current.Close()

		if ctx.Err() != nil {
			return
		}

		t.setState(StateReconnecting)
		t.emitInternal(EventInternalDisconnected)
		t.log.Warn("seestar: transport disconnected", "mode", t.tmode, "err", err)

		next, ok := t.reconnectLoop(ctx, bo)
		if !ok {
			return
		}
		current = next
	}
}

// runWriter drains the write queue onto conn until conn breaks or ctx is
// cancelled, returning a channel that closes once the goroutine has
// actually exited. ctx is scoped to this one connection (see loop), and
// loop waits on the returned channel before dialing the next connection,
// so a writer for a dead conn never lives on to race a writer for its
// replacement over the shared write queue.
func (t *Transport) runWriter(ctx context.Context, conn net.Conn) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-t.writeCh:
				if !ok {
					return
				}
				_, err := conn.Write(req.data)
				if req.done != nil {
					req.done <- err
				}
				if err != nil {
					return
				}
			}
		}
	}()
	return done
}

// runReader blocks reading frames/lines off conn until it errors or ctx is
// cancelled, returning the error that ended it.
func (t *Transport) runReader(ctx context.Context, conn net.Conn) error {
	idle := orDefault(t.cfg.ReadIdleTimeout, 30*time.Second)

	if t.tmode == ModeText {
		reader := bufio.NewReader(conn)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			conn.SetReadDeadline(time.Now().Add(idle))
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if len(line) > 0 {
					// Partial line on EOF: surface as malformed, not silently dropped.
					select {
					case t.textCh <- inboundText{err: &ProtocolError{Message: "truncated line", Cause: err}}:
					default:
					}
				}
				return err
			}
			line = trimLineEnding(line)
			select {
			case t.textCh <- inboundText{line: line}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(idle))
		frame, err := readBinaryFrame(conn, t.cfg.MaxFrameSize)
		if err != nil {
			return err
		}
		select {
		case t.binCh <- inboundBinary{frame: frame}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func trimLineEnding(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	n = len(line)
	if n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

// reconnectLoop redials with full-jitter backoff until it succeeds, ctx is
// cancelled, or MaxAttempts is exhausted.
func (t *Transport) reconnectLoop(ctx context.Context, bo *backoff.Backoff) (net.Conn, bool) {
	for {
		delay, exhausted := bo.Next()
		if exhausted {
			t.log.Error("seestar: reconnect attempts exhausted")
			t.setState(StateDisconnected)
			return nil, false
		}

		t.setState(StateReconnecting)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		t.setState(StateConnecting)
		conn, err := t.dial(ctx)
		if err != nil {
			t.log.Debug("seestar: reconnect attempt failed", "err", err)
			continue
		}

		bo.Success()
		t.mu.Lock()
		t.conn = conn
		t.state = StateConnected
		t.mu.Unlock()
		t.emitInternal(EventInternalReconnected)
		return conn, true
	}
}

func (t *Transport) emitInternal(kind EventKind) {
	select {
	case t.eventCh <- Event{Kind: kind, Timestamp: time.Now()}:
	default:
	}
}

// SendFrame enqueues data for the writer goroutine, blocking up to
// WriteQueueTimeout if the queue is full.
func (t *Transport) SendFrame(ctx context.Context, data []byte) error {
	if t.State() != StateConnected {
		return &DisconnectedError{}
	}
	done := make(chan error, 1)
	timeout := orDefault(t.cfg.WriteQueueTimeout, 5*time.Second)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case t.writeCh <- writeRequest{data: data, done: done}:
	case <-timer.C:
		return &OverloadedError{Queue: "write"}
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		if err != nil {
			return &DisconnectedError{Cause: err}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the reader/writer loop and closes the socket, completing
// promptly even mid-Reconnecting.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.setState(StateClosing)
		if t.cancel != nil {
			t.cancel()
		}
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
		if t.loopDone != nil {
			<-t.loopDone
		}
		// Safe once loopDone has fired: the loop goroutine, the only writer
		// to these channels, has exited for good. Closing them lets any
		// pump() select on Text()/Binary()/InternalEvents() observe ok=false
		// and return instead of blocking forever.
		close(t.textCh)
		close(t.binCh)
		close(t.eventCh)
		t.setState(StateClosed)
	})
	return err
}
