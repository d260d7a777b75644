package seestar

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/scopinator/seestar/internal/queue"
)

// StreamMode selects which class of binary frame the imaging channel
// should be producing. The device is told about this via a control-channel
// command (issued by the caller, not by ImagingClient itself); ImagingClient
// only classifies and fans out whatever the imaging socket actually sends.
type StreamMode int

const (
	StreamPreview StreamMode = iota
	StreamStacked
	StreamRaw
	StreamThumbnail
)

// FrameHandler receives one decoded BinaryFrame at a time, in arrival
// order, for as long as a subscription lasts.
type FrameHandler func(BinaryFrame)

// frameSubscriber owns a bounded delivery queue and a dedicated drain
// goroutine, the same shape as eventbus.go's subscriber, so a slow or
// blocking FrameHandler misses frames instead of stalling the transport's
// read loop.
type frameSubscriber struct {
	handler FrameHandler
	q       *queue.Queue[BinaryFrame]
	stop    chan struct{}
	limiter *rate.Limiter
}

// attachedSource wraps a FrameSource so Close only runs once regardless of
// whether the source's own frame channel closed first or ImagingClient.Close
// got there first.
type attachedSource struct {
	source FrameSource
	once   sync.Once
}

func (a *attachedSource) close() error {
	var err error
	a.once.Do(func() { err = a.source.Close() })
	return err
}

// ImagingClient is the binary-channel façade (C8): a dedicated Transport in
// ModeBinary, fanning decoded frames out to subscribers and tracking
// stacked/dropped/skipped counters.
//
// A mid-stream disconnect drops whatever frame was in flight and requires
// an explicit StartStreaming call to resume; ImagingClient never
// auto-resumes a stream on reconnect, since the device has no notion of
// "where it left off" for a live feed.
type ImagingClient struct {
	endpoint Endpoint
	cfg      Config
	log      Logger

	mu        sync.Mutex
	transport *Transport
	closed    bool
	streaming bool

	// status is the same StatusStore the paired control Client publishes
	// through, wired in by OpenSession so imaging_connected reflects this
	// client's own stream instead of always reading false. nil when an
	// ImagingClient is constructed standalone, outside a Session.
	status *StatusStore

	subMu sync.Mutex
	subs  []*frameSubscriber
	subWG sync.WaitGroup

	srcMu   sync.Mutex
	sources []*attachedSource

	pumpDone chan struct{}

	stacked           prometheus.Counter
	dropped           prometheus.Counter
	skipped           prometheus.Counter
	subscriberDropped prometheus.Counter
}

func NewImagingClient(endpoint Endpoint, cfg Config, log Logger) *ImagingClient {
	return &ImagingClient{
		endpoint: endpoint,
		cfg:      cfg,
		log:      loggerOrNoop(log),
		stacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seestar", Subsystem: "imaging", Name: "frames_stacked_total",
			Help: "Number of stacked frames received.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seestar", Subsystem: "imaging", Name: "frames_dropped_total",
			Help: "Number of frames the device marked dropped.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seestar", Subsystem: "imaging", Name: "frames_skipped_total",
			Help: "Number of timestamp jumps larger than one nominal frame interval.",
		}),
		subscriberDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seestar", Subsystem: "imaging", Name: "subscriber_frames_dropped_total",
			Help: "Number of frames dropped because a subscriber's queue was full.",
		}),
	}
}

// Metrics registers the imaging counters with reg.
func (ic *ImagingClient) Metrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Counter{ic.stacked, ic.dropped, ic.skipped, ic.subscriberDropped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// StartStreaming opens the imaging transport, or returns ErrAlreadyConnected
// if a stream is already open or opening.
// mode is informational only here; the caller is responsible for telling
// the device (via the control Client) which stream to produce.
func (ic *ImagingClient) StartStreaming(ctx context.Context, mode StreamMode) error {
	ic.mu.Lock()
	if ic.streaming || ic.transport != nil {
		ic.mu.Unlock()
		return ErrAlreadyConnected
	}
	transport := NewTransport(func() string { return ic.endpoint.imagingAddr() }, ModeBinary, ic.cfg, ic.log)
	ic.transport = transport
	ic.pumpDone = make(chan struct{})
	ic.mu.Unlock()

	if err := transport.Open(ctx); err != nil {
		ic.mu.Lock()
		ic.transport = nil
		ic.mu.Unlock()
		return &ConnectFailedError{Endpoint: ic.endpoint, Cause: err}
	}

	ic.mu.Lock()
	ic.streaming = true
	ic.mu.Unlock()

	if ic.status != nil {
		ic.status.SetImagingConnected(true)
	}

	go ic.pump(transport)
	return nil
}

// StopStreaming closes the imaging transport. Any subscriber still
// registered stays registered; it simply stops receiving frames until the
// next StartStreaming.
func (ic *ImagingClient) StopStreaming() error {
	ic.mu.Lock()
	if !ic.streaming {
		ic.mu.Unlock()
		return nil
	}
	ic.streaming = false
	transport, pumpDone := ic.transport, ic.pumpDone
	ic.transport = nil
	ic.mu.Unlock()

	var err error
	if transport != nil {
		err = transport.Close()
	}
	if pumpDone != nil {
		<-pumpDone
	}
	if ic.status != nil {
		ic.status.SetImagingConnected(false)
	}
	return err
}

func (ic *ImagingClient) pump(transport *Transport) {
	ic.mu.Lock()
	pumpDone := ic.pumpDone
	ic.mu.Unlock()
	defer close(pumpDone)
	var lastTimestampByKind = map[BinaryFrameKind]int64{}

	for {
		select {
		case in, ok := <-transport.Binary():
			if !ok {
				return
			}
			if in.err != nil {
				ic.log.Warn("seestar: malformed imaging frame", "err", in.err)
				continue
			}
			ic.classify(in.frame, lastTimestampByKind)
			ic.fanOut(in.frame)
		case ev, ok := <-transport.InternalEvents():
			if !ok {
				return
			}
			if ev.Kind == EventInternalDisconnected {
				ic.log.Warn("seestar: imaging stream dropped mid-frame, no auto-resume")
				ic.mu.Lock()
				detached := ic.transport == transport
				if detached {
					ic.streaming = false
					ic.transport = nil
				}
				ic.mu.Unlock()
				if detached {
					transport.Close()
					if ic.status != nil {
						ic.status.SetImagingConnected(false)
					}
				}
				return
			}
		}
		if transport.State() == StateClosed {
			return
		}
	}
}

// classify updates the stacked/dropped/skipped counters. "skipped" counts
// a frame whose timestamp is more than one nominal frame interval later
// than the previous frame of the same kind: the timestamps jumped, so
// frames in between never arrived, per the heuristic recorded alongside the
// drop-marker bit decision.
func (ic *ImagingClient) classify(f BinaryFrame, last map[BinaryFrameKind]int64) {
	if f.Dropped {
		ic.dropped.Inc()
	}
	if f.Kind == FrameKindStacked && !f.Dropped {
		ic.stacked.Inc()
	}

	const nominalFrameIntervalMs = 1000
	ts := f.Timestamp.UnixMilli()
	if prev, ok := last[f.Kind]; ok && ts-prev > nominalFrameIntervalMs {
		ic.skipped.Inc()
	}
	last[f.Kind] = ts
}

// fanOut pushes f onto every subscriber's own bounded queue and returns
// immediately; it never calls a FrameHandler itself. That keeps a slow or
// blocking subscriber from ever stalling pump()'s read loop, at the cost of
// that one subscriber missing frames once its queue fills.
func (ic *ImagingClient) fanOut(f BinaryFrame) {
	ic.subMu.Lock()
	subs := append([]*frameSubscriber(nil), ic.subs...)
	ic.subMu.Unlock()

	for _, s := range subs {
		if dropped := s.q.Push(f); dropped {
			if ic.subscriberDropped != nil {
				ic.subscriberDropped.Inc()
			}
			if s.limiter.Allow() {
				ic.log.Warn("seestar: frame subscriber queue full, dropping oldest frame")
			}
		}
	}
}

func (ic *ImagingClient) deliverLoop(sub *frameSubscriber) {
	defer ic.subWG.Done()
	for {
		f, ok := sub.q.Pop(sub.stop)
		if !ok {
			return
		}
		ic.invoke(sub.handler, f)
	}
}

func (ic *ImagingClient) invoke(handler FrameHandler, f BinaryFrame) {
	defer func() {
		if r := recover(); r != nil {
			ic.log.Warn("seestar: frame subscriber panicked", "recover", r)
		}
	}()
	handler(f)
}

// SubscribeFrames registers handler to receive every decoded frame from
// here forward, delivered off its own bounded queue by a dedicated
// goroutine. It returns an unsubscribe function.
func (ic *ImagingClient) SubscribeFrames(handler FrameHandler) func() {
	sub := &frameSubscriber{
		handler: handler,
		q:       queue.New[BinaryFrame](ic.cfg.SubscriberQueueSize),
		stop:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	ic.subMu.Lock()
	ic.subs = append(ic.subs, sub)
	ic.subMu.Unlock()

	ic.subWG.Add(1)
	go ic.deliverLoop(sub)

	return func() { ic.unsubscribe(sub) }
}

func (ic *ImagingClient) unsubscribe(sub *frameSubscriber) {
	ic.subMu.Lock()
	for i, s := range ic.subs {
		if s == sub {
			ic.subs = append(ic.subs[:i], ic.subs[i+1:]...)
			break
		}
	}
	ic.subMu.Unlock()
	close(sub.stop)
	sub.q.Close()
}

// FetchImage blocks until the next frame matching kind arrives, or ctx is
// cancelled. It is meant for a one-shot "grab a frame" call; long-running
// consumers should use SubscribeFrames instead.
func (ic *ImagingClient) FetchImage(ctx context.Context, kind BinaryFrameKind) (BinaryFrame, error) {
	result := make(chan BinaryFrame, 1)
	unsubscribe := ic.SubscribeFrames(func(f BinaryFrame) {
		if f.Kind != kind {
			return
		}
		select {
		case result <- f:
		default:
		}
	})
	defer unsubscribe()

	select {
	case f := <-result:
		return f, nil
	case <-ctx.Done():
		return BinaryFrame{}, ctx.Err()
	}
}

// AttachFrameSource wires an externally supplied FrameSource, such as an
// RTSP feed the device advertised, into the same classify/fanOut pipeline
// used for frames arriving over the imaging transport, so a subscriber sees
// both without needing to know which one produced a given frame. Attaching
// a source does not require StartStreaming to have been called.
func (ic *ImagingClient) AttachFrameSource(ctx context.Context, source FrameSource) error {
	frames, err := source.Open(ctx)
	if err != nil {
		return err
	}

	attached := &attachedSource{source: source}
	ic.srcMu.Lock()
	ic.sources = append(ic.sources, attached)
	ic.srcMu.Unlock()

	go ic.pumpFrameSource(attached, frames)
	return nil
}

func (ic *ImagingClient) pumpFrameSource(attached *attachedSource, frames <-chan BinaryFrame) {
	lastTimestampByKind := map[BinaryFrameKind]int64{}
	for f := range frames {
		ic.classify(f, lastTimestampByKind)
		ic.fanOut(f)
	}
	attached.close()
}

// Close stops streaming, releases any attached frame sources, and tears
// down every subscriber's delivery goroutine.
func (ic *ImagingClient) Close() error {
	ic.mu.Lock()
	if ic.closed {
		ic.mu.Unlock()
		return nil
	}
	ic.closed = true
	ic.mu.Unlock()

	err := ic.StopStreaming()

	ic.srcMu.Lock()
	sources := ic.sources
	ic.sources = nil
	ic.srcMu.Unlock()
	for _, s := range sources {
		s.close()
	}

	ic.subMu.Lock()
	subs := ic.subs
	ic.subs = nil
	ic.subMu.Unlock()
	for _, s := range subs {
		close(s.stop)
		s.q.Close()
	}
	ic.subWG.Wait()

	return err
}
