package seestar

import "context"

// FrameSource is a pluggable capability for pulling frames from something
// other than the device's own binary imaging socket, such as an RTSP relay
// sitting in front of the telescope. It mirrors the shape of
// ImagingClient's own frame delivery (a channel of BinaryFrame) so callers
// can treat either source interchangeably.
//
// No concrete implementation ships here; wiring up an actual RTSP client is
// left to the caller's own transport of choice.
type FrameSource interface {
	// Open starts producing frames on the returned channel until ctx is
	// cancelled or Close is called. The channel is closed when the source
	// stops for any reason.
	Open(ctx context.Context) (<-chan BinaryFrame, error)

	Close() error
}
