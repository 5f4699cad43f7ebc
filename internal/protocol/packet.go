// Package protocol defines the frame format exchanged between endpoints.
package protocol

import "fmt"

// StartMarker is the sentinel byte that opens every frame.
const StartMarker uint8 = 0xA5

// Frame type constants. Connection-bound types share the TypeData bit; the
// bare TypeData value is an ack-only frame.
const (
	TypeBroadcast uint8 = 0x00            // Unsequenced broadcast
	TypeData      uint8 = 0x80            // Ack-only, no application data
	TypeConnect   uint8 = TypeData | 0x01 // Handshake request / reply
	TypeMessage   uint8 = TypeData | 0x02 // Application message chunk
	TypeClose     uint8 = TypeData | 0x04 // Close handshake
)

// HeaderSize is the fixed header size:
// Marker(1) + Type(1) + Version(1) + Seq(1) + Ack(1) + Chunk(1) + Timestamp(8).
const HeaderSize = 14

// MinFrameSize is the smallest frame that is accepted; every frame carries
// at least one payload byte.
const MinFrameSize = HeaderSize + 1

// Frame is one datagram-sized protocol message.
type Frame struct {
	Type      uint8
	Version   uint8
	Seq       uint8 // sender's frame sequence, mod 256
	Ack       uint8 // last sequence the sender accepted from its peer
	Chunk     uint8 // countdown, 0 = final chunk of the message
	Timestamp int64 // sender's clock in ms at send time
	Payload   []byte
}

// IsData reports whether t belongs to a connection (as opposed to broadcast).
func IsData(t uint8) bool {
	return t&TypeData != 0
}

// TypeName returns a short human-readable name for a frame type.
func TypeName(t uint8) string {
	switch t {
	case TypeBroadcast:
		return "BCAST"
	case TypeData:
		return "ACK"
	case TypeConnect:
		return "CONNECT"
	case TypeMessage:
		return "MESSAGE"
	case TypeClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("0x%02x", t)
	}
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s(v%d seq=%d ack=%d chunk=%d len=%d)",
		TypeName(f.Type), f.Version, f.Seq, f.Ack, f.Chunk, len(f.Payload))
}
