package protocol_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/1ureka/rudp/internal/protocol"
)

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse operations
// for all frame types with various payload sizes.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		frame *protocol.Frame
	}{
		{
			name: "TypeConnect with token",
			frame: &protocol.Frame{
				Type:      protocol.TypeConnect,
				Version:   1,
				Seq:       1,
				Ack:       0,
				Timestamp: 1_700_000_000_000,
				Payload:   []byte("token"),
			},
		},
		{
			name: "TypeMessage middle chunk",
			frame: &protocol.Frame{
				Type:      protocol.TypeMessage,
				Version:   1,
				Seq:       42,
				Ack:       41,
				Chunk:     3,
				Timestamp: 12345,
				Payload:   []byte("hello world"),
			},
		},
		{
			name: "TypeClose",
			frame: &protocol.Frame{
				Type:      protocol.TypeClose,
				Version:   2,
				Seq:       255,
				Ack:       255,
				Timestamp: -86_400_001,
				Payload:   []byte{0x65},
			},
		},
		{
			name: "TypeData ack-only",
			frame: &protocol.Frame{
				Type:    protocol.TypeData,
				Version: 1,
				Seq:     7,
				Ack:     9,
				Payload: []byte{0x3B, 0x1B, 0x19, 0x00},
			},
		},
		{
			name: "TypeBroadcast with large payload",
			frame: &protocol.Frame{
				Type:    protocol.TypeBroadcast,
				Version: 1,
				Payload: make([]byte, 960),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := protocol.Encode(tc.frame)

			decoded, err := protocol.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Type != tc.frame.Type {
				t.Errorf("Type mismatch: got %#02x, want %#02x", decoded.Type, tc.frame.Type)
			}
			if decoded.Version != tc.frame.Version {
				t.Errorf("Version mismatch: got %d, want %d", decoded.Version, tc.frame.Version)
			}
			if decoded.Seq != tc.frame.Seq || decoded.Ack != tc.frame.Ack {
				t.Errorf("Seq/Ack mismatch: got %d/%d, want %d/%d",
					decoded.Seq, decoded.Ack, tc.frame.Seq, tc.frame.Ack)
			}
			if decoded.Chunk != tc.frame.Chunk {
				t.Errorf("Chunk mismatch: got %d, want %d", decoded.Chunk, tc.frame.Chunk)
			}
			if decoded.Timestamp != tc.frame.Timestamp {
				t.Errorf("Timestamp mismatch: got %d, want %d", decoded.Timestamp, tc.frame.Timestamp)
			}
			if !bytes.Equal(decoded.Payload, tc.frame.Payload) {
				t.Errorf("Payload mismatch: got %v, want %v", decoded.Payload, tc.frame.Payload)
			}
		})
	}
}

// TestEncodeLayout pins the header byte offsets.
func TestEncodeLayout(t *testing.T) {
	encoded := protocol.Encode(&protocol.Frame{
		Type:    protocol.TypeMessage,
		Version: 3,
		Seq:     10,
		Ack:     20,
		Chunk:   1,
		Payload: []byte{0xEE},
	})

	if len(encoded) != protocol.MinFrameSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), protocol.MinFrameSize)
	}
	want := map[int]byte{0: protocol.StartMarker, 1: protocol.TypeMessage, 2: 3, 3: 10, 4: 20, 5: 1, 14: 0xEE}
	for off, b := range want {
		if encoded[off] != b {
			t.Errorf("byte %d = %#02x, want %#02x", off, encoded[off], b)
		}
	}
}

// TestDecodeTooShort verifies that Decode rejects anything shorter than one
// header plus one payload byte.
func TestDecodeTooShort(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"1 byte", []byte{protocol.StartMarker}},
		{"header only", append([]byte{protocol.StartMarker, protocol.TypeData}, make([]byte, protocol.HeaderSize-2)...)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode(tc.data)
			if !errors.Is(err, protocol.ErrShortFrame) {
				t.Fatalf("expected ErrShortFrame, got %v", err)
			}
		})
	}
}

func TestDecodeBadMarker(t *testing.T) {
	encoded := protocol.Encode(&protocol.Frame{Type: protocol.TypeMessage, Payload: []byte("x")})
	encoded[0] = 0x00

	if _, err := protocol.Decode(encoded); !errors.Is(err, protocol.ErrBadMarker) {
		t.Fatalf("expected ErrBadMarker, got %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	encoded := protocol.Encode(&protocol.Frame{Type: 0x83, Payload: []byte("x")})

	if _, err := protocol.Decode(encoded); !errors.Is(err, protocol.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

// TestEncodeAllFrameTypes ensures every frame type survives the trip and is
// classified correctly.
func TestEncodeAllFrameTypes(t *testing.T) {
	types := []struct {
		name     string
		typeCode uint8
		isData   bool
	}{
		{"TypeBroadcast", protocol.TypeBroadcast, false},
		{"TypeData", protocol.TypeData, true},
		{"TypeConnect", protocol.TypeConnect, true},
		{"TypeMessage", protocol.TypeMessage, true},
		{"TypeClose", protocol.TypeClose, true},
	}

	for _, tt := range types {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := protocol.Decode(protocol.Encode(&protocol.Frame{
				Type:    tt.typeCode,
				Payload: []byte("payload"),
			}))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if decoded.Type != tt.typeCode {
				t.Errorf("Type mismatch: got %d, want %d", decoded.Type, tt.typeCode)
			}
			if protocol.IsData(decoded.Type) != tt.isData {
				t.Errorf("IsData(%#02x) = %v, want %v", decoded.Type, !tt.isData, tt.isData)
			}
		})
	}
}

// TestEncodeLargePayload verifies that chunk-sized and larger payloads are handled correctly.
func TestEncodeLargePayload(t *testing.T) {
	sizes := []int{1, 960, 1000, 64 * 1024}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 256)
			}

			decoded, err := protocol.Decode(protocol.Encode(&protocol.Frame{
				Type:    protocol.TypeMessage,
				Payload: payload,
			}))
			if err != nil {
				t.Fatalf("Decode failed for size %d: %v", size, err)
			}
			if !bytes.Equal(decoded.Payload, payload) {
				t.Errorf("Payload mismatch for size %d", size)
			}
		})
	}
}

// TestDecodePreservesPayload verifies that the payload is correctly copied
// and not aliased to the input buffer.
func TestDecodePreservesPayload(t *testing.T) {
	encoded := protocol.Encode(&protocol.Frame{
		Type:    protocol.TypeMessage,
		Seq:     10,
		Payload: []byte("original"),
	})

	decoded, err := protocol.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	encoded[protocol.HeaderSize] = 0xFF

	if !bytes.Equal(decoded.Payload, []byte("original")) {
		t.Errorf("Payload was incorrectly aliased: got %v", decoded.Payload)
	}
}
