package seestar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	line, err := encodeEnvelope(7, "get_pointing", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1])

	id, method, params, err := decodeEnvelope(line[:len(line)-1])
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	assert.Equal(t, "get_pointing", method)
	assert.JSONEq(t, `{"a":1}`, string(params))
}

func TestEncodeEnvelopeNilParams(t *testing.T) {
	line, err := encodeEnvelope(1, "ping", nil)
	require.NoError(t, err)
	_, _, params, err := decodeEnvelope(line[:len(line)-1])
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(params))
}

func TestDecodeLineResponseSuccess(t *testing.T) {
	kind, resp, _, err := decodeLine([]byte(`{"id":3,"result":{"ok":true}}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, lineResponse, kind)
	assert.Equal(t, uint64(3), resp.ID)
	assert.NoError(t, resp.Err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestDecodeLineResponseError(t *testing.T) {
	kind, resp, _, err := decodeLine([]byte(`{"id":3,"error":{"code":5,"message":"nope"}}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, lineResponse, kind)
	var rejected *CommandRejectedError
	require.True(t, errors.As(resp.Err, &rejected))
	assert.Equal(t, 5, rejected.Code)
	assert.Equal(t, "nope", rejected.Message)
}

func TestDecodeLineEventByEventField(t *testing.T) {
	kind, _, ev, err := decodeLine([]byte(`{"Event":"PiStatus","params":{"battery_percent":80}}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, lineEvent, kind)
	assert.Equal(t, EventPiStatus, ev.Kind)
	assert.JSONEq(t, `{"battery_percent":80}`, string(ev.Payload))
}

func TestDecodeLineEventByMethodWithoutID(t *testing.T) {
	kind, _, ev, err := decodeLine([]byte(`{"method":"ViewStateChanged","params":{"mode":"stack"}}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, lineEvent, kind)
	assert.Equal(t, EventViewStateChanged, ev.Kind)
}

func TestDecodeLineMalformedJSON(t *testing.T) {
	_, _, _, err := decodeLine([]byte(`not json`), fixedNow)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestDecodeLineUnclassifiable(t *testing.T) {
	_, _, _, err := decodeLine([]byte(`{"foo":"bar"}`), fixedNow)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestDecodeLineEmpty(t *testing.T) {
	_, _, _, err := decodeLine([]byte("   "), fixedNow)
	require.Error(t, err)
}
