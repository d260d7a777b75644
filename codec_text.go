package seestar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// lineKind classifies a decoded JSON line as a correlated response, a
// device-initiated event, or an unclassifiable notification.
type lineKind int

const (
	lineResponse lineKind = iota
	lineEvent
	lineNotification
)

// encodeEnvelope renders {"id","method","params"} as a single LF-terminated
// line, ready to hand to the transport's writer.
func encodeEnvelope(id uint64, method string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, &ProtocolError{Message: "encode params", Cause: err}
	}
	if raw == nil || bytes.Equal(raw, []byte("null")) {
		raw = json.RawMessage("{}")
	}
	env := envelope{ID: id, Method: method, Params: raw}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, &ProtocolError{Message: "encode envelope", Cause: err}
	}
	buf = append(buf, '\n')
	return buf, nil
}

// decodeEnvelope is the exact inverse of encodeEnvelope, used by round-trip
// tests and by any mock device fixture that needs to read what a real
// device would see on the wire.
func decodeEnvelope(line []byte) (id uint64, method string, params json.RawMessage, err error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return 0, "", nil, &ProtocolError{Message: "decode envelope", Cause: err}
	}
	return env.ID, env.Method, env.Params, nil
}

// decodeLine classifies and decodes one LF-stripped JSON line from the
// control channel into a Response or an Event. Malformed JSON and
// notifications (kind lineNotification) both come back with a non-nil
// error so the caller can count them without treating them as fatal.
func decodeLine(line []byte, now func() time.Time) (lineKind, Response, Event, error) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return lineNotification, Response{}, Event{}, &ProtocolError{Message: "empty line"}
	}

	var in incomingLine
	if err := json.Unmarshal(line, &in); err != nil {
		return lineNotification, Response{}, Event{}, &ProtocolError{Message: "invalid JSON", Cause: err}
	}

	switch {
	case in.ID != nil && (in.Result != nil || in.Error != nil):
		resp := Response{ID: *in.ID, Result: in.Result, ReceivedAt: now()}
		if in.Error != nil {
			resp.Err = &CommandRejectedError{Code: in.Error.Code, Message: in.Error.Message}
		}
		return lineResponse, resp, Event{}, nil

	case in.Event != "" || (in.Method != "" && in.ID == nil):
		kind := EventKind(in.Event)
		if kind == "" {
			kind = EventKind(in.Method)
		}
		payload := in.Params
		if payload == nil {
			payload = json.RawMessage(line)
		}
		return lineEvent, Response{}, Event{Kind: kind, Timestamp: now(), Payload: payload}, nil

	default:
		return lineNotification, Response{}, Event{}, &ProtocolError{
			Message: fmt.Sprintf("unclassifiable line: %s", string(line)),
		}
	}
}
