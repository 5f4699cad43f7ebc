package protocol

import (
	"errors"
	"fmt"

	"github.com/1ureka/rudp/internal/clock"
)

var (
	ErrShortFrame  = errors.New("protocol: frame too short")
	ErrBadMarker   = errors.New("protocol: bad start marker")
	ErrUnknownType = errors.New("protocol: unknown frame type")
)

// Encode serializes a Frame into a byte slice ready for the transport.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = StartMarker
	buf[1] = f.Type
	buf[2] = f.Version
	buf[3] = f.Seq
	buf[4] = f.Ack
	buf[5] = f.Chunk
	clock.PutTimestamp(buf[6:HeaderSize], f.Timestamp)
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Decode deserializes a byte slice into a Frame. The payload is copied, so
// the caller may reuse data.
func Decode(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrShortFrame, len(data), MinFrameSize)
	}
	if data[0] != StartMarker {
		return nil, fmt.Errorf("%w: %#02x", ErrBadMarker, data[0])
	}

	switch data[1] {
	case TypeBroadcast, TypeData, TypeConnect, TypeMessage, TypeClose:
	default:
		return nil, fmt.Errorf("%w: %#02x", ErrUnknownType, data[1])
	}

	f := &Frame{
		Type:      data[1],
		Version:   data[2],
		Seq:       data[3],
		Ack:       data[4],
		Chunk:     data[5],
		Timestamp: clock.Timestamp(data[6:HeaderSize]),
		Payload:   make([]byte, len(data)-HeaderSize),
	}
	copy(f.Payload, data[HeaderSize:])
	return f, nil
}
