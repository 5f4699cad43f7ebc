package socket

import (
	"encoding/json"

	"github.com/1ureka/rudp/internal/transport"
)

// Observer receives socket events. Calls are made one at a time, in the
// order the events happened, from a goroutine that does not hold the
// socket's lock, so implementations may call back into the socket API.
type Observer interface {
	// OnReady fires once the transport can carry traffic.
	OnReady()

	// OnError reports transport failures.
	OnError(err error)

	// OnBroadcast delivers a broadcast frame, whatever the socket's role.
	OnBroadcast(payload json.RawMessage, from transport.Addr, version uint8)

	// OnConnection fires on a listening socket for every accepted peer.
	// Setting child's observer here guarantees it sees all of the child's events.
	OnConnection(child *Socket, peerPayload, acceptPayload json.RawMessage)

	// OnConnect delivers the listener's accept payload to a client.
	OnConnect(acceptPayload json.RawMessage)

	OnMessage(payload json.RawMessage)
	OnClose(code CloseCode)
}

// NopObserver ignores every event. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) OnReady()                                               {}
func (NopObserver) OnError(error)                                          {}
func (NopObserver) OnBroadcast(json.RawMessage, transport.Addr, uint8)     {}
func (NopObserver) OnConnection(*Socket, json.RawMessage, json.RawMessage) {}
func (NopObserver) OnConnect(json.RawMessage)                              {}
func (NopObserver) OnMessage(json.RawMessage)                              {}
func (NopObserver) OnClose(CloseCode)                                      {}

// Acceptor decides what a listening socket replies to a handshake. The
// returned value is marshaled as the accept payload; an error rejects the
// peer and no connection is created. It runs synchronously while the
// socket's lock is held and must not call socket methods.
type Acceptor func(from transport.Addr, token json.RawMessage) (any, error)
