// Package seestar implements a client for a networked consumer telescope's
// two TCP protocols: a line-delimited JSON-RPC control channel and a
// parallel binary imaging channel.
//
// The package is organized around seven collaborating pieces:
//
//	Transport     dials, reconnects with backoff, and frames bytes off the wire.
//	Codec         encodes/decodes the text (JSON-line) and binary (fixed-header) wire formats.
//	Correlator    matches responses to outstanding requests by id.
//	EventBus      fans out device events and internal status changes to subscribers.
//	StatusStore   holds a consolidated, copy-on-read snapshot of device state.
//	Client        the control-channel façade: Connect/Disconnect/Send/Subscribe.
//	ImagingClient the imaging-channel façade: streaming start/stop and frame delivery.
//
// None of these types call a global logger or hold process-wide state; a
// Logger is passed in explicitly by the caller (see logger.go), and every
// goroutine the package starts is owned and torn down by the Client or
// ImagingClient that started it.
//
// # Basic usage
//
//	client := seestar.NewClient(seestar.Endpoint{Host: "192.168.1.100"}, seestar.DefaultConfig(), logger)
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	resp, err := client.Send(ctx, "GetTime", nil)
//
// Or, to acquire both the control and imaging channels together with
// guaranteed release on every exit path:
//
//	sess, err := seestar.OpenSession(ctx, endpoint, seestar.DefaultConfig(), logger)
//	defer sess.Close()
//
// # Event handling
//
//	client.Subscribe(seestar.EventPiStatus, func(ev seestar.Event) {
//	    fmt.Println(ev.Kind, ev.Timestamp)
//	})
//
// # Thread safety
//
// Client and ImagingClient are safe for concurrent use from multiple
// goroutines; all public methods use proper synchronization.
package seestar
