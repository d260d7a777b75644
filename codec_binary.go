package seestar

import (
	"encoding/binary"
	"io"
	"time"
)

// binaryHeaderSize is the fixed header length: magic, reserved, length, id,
// kind, timestamp, then filler out to 80 bytes.
const binaryHeaderSize = 80

// binaryMagicByte is the expected high byte of the magic field (0x80......).
// Only the high byte is pinned ("magic(4)=0x80..."); the low three bytes
// are device-assigned and not validated here.
const binaryMagicByte = 0x80

// dropMarkerBit is set in the high bit of the kind field by the device to
// signal a dropped frame. The exact field is undocumented by the device;
// this is the heuristic decision recorded in DESIGN.md.
const dropMarkerBit uint32 = 0x8000_0000

type binaryHeader struct {
	Magic     uint32
	Reserved  uint32
	Length    uint32
	ID        uint64
	Kind      uint32
	Timestamp uint64
	// Width/Height occupy the first 8 bytes of the meta[] filler; zero when
	// the device doesn't populate them for this frame kind.
	Width  uint32
	Height uint32
}

// decodeBinaryHeader parses the fixed 80-byte little-endian header. It does
// not read the payload; callers use the returned Length to size the next
// read.
func decodeBinaryHeader(buf []byte) (binaryHeader, error) {
	if len(buf) < binaryHeaderSize {
		return binaryHeader{}, &ProtocolError{Message: "short binary header"}
	}
	h := binaryHeader{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Reserved:  binary.LittleEndian.Uint32(buf[4:8]),
		Length:    binary.LittleEndian.Uint32(buf[8:12]),
		ID:        binary.LittleEndian.Uint64(buf[12:20]),
		Kind:      binary.LittleEndian.Uint32(buf[20:24]),
		Timestamp: binary.LittleEndian.Uint64(buf[24:32]),
		Width:     binary.LittleEndian.Uint32(buf[32:36]),
		Height:    binary.LittleEndian.Uint32(buf[36:40]),
	}
	return h, nil
}

// encodeBinaryHeader is the inverse of decodeBinaryHeader, used by tests and
// by mock device fixtures.
func encodeBinaryHeader(h binaryHeader) []byte {
	buf := make([]byte, binaryHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Reserved)
	binary.LittleEndian.PutUint32(buf[8:12], h.Length)
	binary.LittleEndian.PutUint64(buf[12:20], h.ID)
	binary.LittleEndian.PutUint32(buf[20:24], h.Kind)
	binary.LittleEndian.PutUint64(buf[24:32], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[32:36], h.Width)
	binary.LittleEndian.PutUint32(buf[36:40], h.Height)
	return buf
}

// readBinaryFrame reads one header+payload unit from r. It never allocates
// more than maxFrame bytes for the payload, and it never retains a buffer
// across calls: each call returns a freshly allocated payload slice sized
// exactly to the frame.
func readBinaryFrame(r io.Reader, maxFrame int) (BinaryFrame, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}

	hdrBuf := make([]byte, binaryHeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		if err == io.EOF {
			return BinaryFrame{}, io.EOF
		}
		return BinaryFrame{}, &ProtocolError{Message: "read header", Cause: err}
	}

	h, err := decodeBinaryHeader(hdrBuf)
	if err != nil {
		return BinaryFrame{}, err
	}

	if h.Length < binaryHeaderSize {
		return BinaryFrame{}, &ProtocolError{Message: "frame length shorter than header"}
	}
	payloadLen := int(h.Length) - binaryHeaderSize
	if payloadLen > maxFrame {
		return BinaryFrame{}, &ProtocolError{Message: "frame exceeds max_frame"}
	}
	if byte(h.Magic>>24) != binaryMagicByte {
		return BinaryFrame{}, &ProtocolError{Message: "bad binary magic"}
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return BinaryFrame{}, &ProtocolError{Message: "read payload", Cause: err}
		}
	}

	frame := BinaryFrame{
		ID:        h.ID,
		Kind:      BinaryFrameKind(h.Kind &^ dropMarkerBit),
		Timestamp: time.UnixMilli(int64(h.Timestamp)),
		Width:     h.Width,
		Height:    h.Height,
		Dropped:   h.Kind&dropMarkerBit != 0,
		Payload:   payload,
	}
	return frame, nil
}
