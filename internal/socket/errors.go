package socket

import (
	"errors"
	"fmt"

	"github.com/1ureka/rudp/internal/arq"
)

var (
	// ErrInvalidStateTransition is returned when an API call does not fit the
	// socket's role or phase.
	ErrInvalidStateTransition = errors.New("socket: invalid state transition")

	// ErrPayloadTooLarge is returned when an encoded payload does not fit
	// the frames it has to travel in.
	ErrPayloadTooLarge = fmt.Errorf("socket: %w", arq.ErrPayloadTooLarge)

	// ErrClosed is returned by calls on a terminated socket.
	ErrClosed = errors.New("socket: closed")
)

// CloseCode tells why a connection ended.
type CloseCode int

const (
	CodeNormal     CloseCode = 0 // close handshake completed
	CodeNoResponse CloseCode = 1 // retry budget exhausted
)

func (c CloseCode) String() string {
	switch c {
	case CodeNormal:
		return "normal"
	case CodeNoResponse:
		return "no response"
	default:
		return fmt.Sprintf("code %d", int(c))
	}
}
