package seestar

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBinaryMockDevice listens on a loopback TCP port, accepts a single
// connection, and writes whatever frames are pushed onto send to it.
type binaryMockDevice struct {
	listener net.Listener
	send     chan []byte
}

func startBinaryMockDevice(t *testing.T) *binaryMockDevice {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	md := &binaryMockDevice{listener: l, send: make(chan []byte, 16)}
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		for buf := range md.send {
			if _, err := conn.Write(buf); err != nil {
				return
			}
		}
	}()
	return md
}

func (md *binaryMockDevice) endpoint(t *testing.T) Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(md.listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Endpoint{ImagingPort: port, Host: host}
}

func TestImagingClientClassifiesStackedFrames(t *testing.T) {
	md := startBinaryMockDevice(t)
	ic := NewImagingClient(md.endpoint(t), fastTestConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ic.StartStreaming(ctx, StreamStacked))
	defer ic.Close()

	received := make(chan BinaryFrame, 1)
	unsub := ic.SubscribeFrames(func(f BinaryFrame) {
		select {
		case received <- f:
		default:
		}
	})
	defer unsub()

	md.send <- buildTestFrame(t, uint32(FrameKindStacked), []byte{9, 9})

	select {
	case f := <-received:
		assert.Equal(t, FrameKindStacked, f.Kind)
		assert.False(t, f.Dropped)
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestImagingClientDropMarkerIncrementsDroppedCounter(t *testing.T) {
	md := startBinaryMockDevice(t)
	ic := NewImagingClient(md.endpoint(t), fastTestConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ic.StartStreaming(ctx, StreamStacked))
	defer ic.Close()

	received := make(chan BinaryFrame, 1)
	unsub := ic.SubscribeFrames(func(f BinaryFrame) { received <- f })
	defer unsub()

	md.send <- buildTestFrame(t, uint32(FrameKindStacked)|dropMarkerBit, nil)

	select {
	case f := <-received:
		assert.True(t, f.Dropped)
		assert.Equal(t, float64(1), testutil.ToFloat64(ic.dropped))
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestImagingClientFetchImageOneShot(t *testing.T) {
	md := startBinaryMockDevice(t)
	ic := NewImagingClient(md.endpoint(t), fastTestConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ic.StartStreaming(ctx, StreamPreview))
	defer ic.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		md.send <- buildTestFrame(t, uint32(FrameKindPreview), []byte{1, 2, 3})
	}()

	f, err := ic.FetchImage(ctx, FrameKindPreview)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload)
}

func TestImagingClientStopStreamingRequiresRestart(t *testing.T) {
	md := startBinaryMockDevice(t)
	ic := NewImagingClient(md.endpoint(t), fastTestConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ic.StartStreaming(ctx, StreamStacked))
	require.NoError(t, ic.StopStreaming())

	assert.False(t, ic.streaming)
}

// A slow FrameHandler must not stall delivery to other subscribers: each
// subscriber owns its own bounded queue, so one falling behind only costs
// that subscriber dropped frames.
func TestImagingClientSlowSubscriberDoesNotStallOthers(t *testing.T) {
	md := startBinaryMockDevice(t)
	cfg := fastTestConfig()
	cfg.SubscriberQueueSize = 1
	ic := NewImagingClient(md.endpoint(t), cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ic.StartStreaming(ctx, StreamStacked))
	defer ic.Close()

	block := make(chan struct{})
	defer close(block)
	slowUnsub := ic.SubscribeFrames(func(f BinaryFrame) {
		<-block
	})
	defer slowUnsub()

	fastReceived := make(chan BinaryFrame, 8)
	fastUnsub := ic.SubscribeFrames(func(f BinaryFrame) {
		select {
		case fastReceived <- f:
		default:
		}
	})
	defer fastUnsub()

	for i := 0; i < 5; i++ {
		md.send <- buildTestFrame(t, uint32(FrameKindStacked), []byte{byte(i)})
	}

	for i := 0; i < 5; i++ {
		select {
		case <-fastReceived:
		case <-time.After(time.Second):
			t.Fatal("fast subscriber stalled behind a slow one")
		}
	}
}

type fakeFrameSource struct {
	frames chan BinaryFrame
	mu     sync.Mutex
	closed bool
}

func newFakeFrameSource() *fakeFrameSource {
	return &fakeFrameSource{frames: make(chan BinaryFrame, 4)}
}

func (f *fakeFrameSource) Open(ctx context.Context) (<-chan BinaryFrame, error) {
	return f.frames, nil
}

func (f *fakeFrameSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
	return nil
}

func TestImagingClientAttachFrameSourceFansOutFrames(t *testing.T) {
	ic := NewImagingClient(Endpoint{Host: "127.0.0.1"}, fastTestConfig(), nil)
	defer ic.Close()

	source := newFakeFrameSource()
	require.NoError(t, ic.AttachFrameSource(context.Background(), source))

	received := make(chan BinaryFrame, 1)
	unsub := ic.SubscribeFrames(func(f BinaryFrame) {
		select {
		case received <- f:
		default:
		}
	})
	defer unsub()

	source.frames <- BinaryFrame{Kind: FrameKindPreview, Payload: []byte{7}}

	select {
	case f := <-received:
		assert.Equal(t, []byte{7}, f.Payload)
	case <-time.After(time.Second):
		t.Fatal("frame from attached source never delivered")
	}
}

func buildTestFrame(t *testing.T, kind uint32, payload []byte) []byte {
	t.Helper()
	h := binaryHeader{
		Magic:  0x80000001,
		Length: uint32(binaryHeaderSize + len(payload)),
		ID:     1,
		Kind:   kind,
	}
	buf := encodeBinaryHeader(h)
	return append(buf, payload...)
}
