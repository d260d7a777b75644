package seestar

import (
	"encoding/json"
	"time"
)

// envelope is the wire shape of an outgoing text-protocol request:
// {"id": N, "method": "X", "params": {...}}\n
type envelope struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcError is the wire shape of a device-reported error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// incomingLine is the classification target for a decoded JSON line; only
// the fields relevant to the branch that matched are populated.
type incomingLine struct {
	ID     *uint64         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Event  string          `json:"Event,omitempty"`
	Method string          `json:"method,omitempty"`
	// Params carries the payload for both event and (in principle)
	// server-initiated notifications.
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the result of a correlated request, delivered to exactly one
// caller. Err is nil on success; otherwise it is one of the error taxonomy
// types in errors.go (CommandRejectedError for a device-reported error,
// TimeoutError/DisconnectedError/CancelledError for local failures).
type Response struct {
	ID         uint64
	Result     json.RawMessage
	Err        error
	ReceivedAt time.Time
}

// EventKind names the asynchronous event types the device is known to emit.
// Kinds not in this list still decode fine; Kind simply carries the raw
// string from the wire.
type EventKind string

const (
	EventPiStatus             EventKind = "PiStatus"
	EventViewStateChanged     EventKind = "ViewStateChanged"
	EventStackingStatus       EventKind = "StackingStatus"
	EventFocuserMove          EventKind = "FocuserMove"
	EventAnnotateResult       EventKind = "AnnotateResult"
	EventInternalDisconnected EventKind = "InternalDisconnected"
	EventInternalReconnected  EventKind = "InternalReconnected"

	// eventKindWildcard subscribes to every kind.
	eventKindWildcard EventKind = "*"
)

// Event is an asynchronous, unsolicited message from the device (or an
// internal status change synthesized by the transport).
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Payload   json.RawMessage
}

// BinaryFrameKind classifies a decoded binary frame's payload.
type BinaryFrameKind uint32

const (
	FrameKindPreview BinaryFrameKind = iota
	FrameKindStacked
	FrameKindRaw
	FrameKindThumbnail
)

func (k BinaryFrameKind) String() string {
	switch k {
	case FrameKindPreview:
		return "Preview"
	case FrameKindStacked:
		return "Stacked"
	case FrameKindRaw:
		return "Raw"
	case FrameKindThumbnail:
		return "Thumbnail"
	default:
		return "Unknown"
	}
}

// BinaryFrame is one decoded unit from the imaging channel.
type BinaryFrame struct {
	ID        uint64
	Kind      BinaryFrameKind
	Timestamp time.Time
	Width     uint32 // 0 if not encoded in this frame's header meta
	Height    uint32
	Dropped   bool // explicit drop marker was set in the header
	Payload   []byte
}
