package seestar

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Session is the scoped-acquisition pairing of a control Client and an
// imaging Client against the same device. Imaging streaming is opt-in (the
// caller decides when to call StartStreaming), but OpenSession still holds
// both under one handle so Close always releases whichever of the two ever
// got opened.
type Session struct {
	Control *Client
	Imaging *ImagingClient
}

// OpenSession connects the control channel and returns a Session pairing it
// with a not-yet-streaming ImagingClient for the same endpoint.
func OpenSession(ctx context.Context, endpoint Endpoint, cfg Config, log Logger) (*Session, error) {
	control := NewClient(endpoint, cfg, log)
	imaging := NewImagingClient(endpoint, cfg, log)
	imaging.status = control.status

	if err := control.Connect(ctx); err != nil {
		return nil, err
	}
	return &Session{Control: control, Imaging: imaging}, nil
}

// Close releases both the control and imaging transports on every exit
// path, tearing the two down concurrently. Safe to call more than
// once and safe to call even if Imaging streaming was never started.
func (s *Session) Close() error {
	g := new(errgroup.Group)
	g.Go(s.Control.Disconnect)
	g.Go(s.Imaging.Close)
	return g.Wait()
}
