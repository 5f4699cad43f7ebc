// Package transport provides the unreliable datagram substrates the socket
// layer runs on: plain UDP, an in-memory network for tests and demos, and a
// WebRTC DataChannel configured for unordered, zero-retransmit delivery.
package transport

import (
	"fmt"
	"net"
	"strconv"
)

// BroadcastHost is the IPv4 limited-broadcast address.
const BroadcastHost = "255.255.255.255"

// Addr identifies a datagram endpoint.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsBroadcast reports whether a addresses every endpoint on its port.
func (a Addr) IsBroadcast() bool {
	return a.Host == BroadcastHost
}

// ParseAddr parses "host:port".
func ParseAddr(s string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("transport: parse address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Addr{}, fmt.Errorf("transport: parse address %q: invalid port", s)
	}
	return Addr{Host: host, Port: port}, nil
}

// PacketHandler receives one inbound datagram. data is owned by the handler.
type PacketHandler func(data []byte, from Addr)

// Datagram is a bound, unreliable, unordered packet transport.
//
// Send is fire-and-forget: delivery failures are reported through the
// OnError callback rather than returned. Handlers may be registered at any
// time; datagrams arriving before OnPacket is called are dropped.
type Datagram interface {
	Send(data []byte, to Addr)
	OnPacket(fn PacketHandler)
	OnError(fn func(error))
	LocalAddr() Addr
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Close() error
}

var (
	_ Datagram = (*UDP)(nil)
	_ Datagram = (*Endpoint)(nil)
	_ Datagram = (*DataChannel)(nil)
)

// handlers holds the callbacks shared by every Datagram implementation.
type handlers struct {
	packet atomicValue[PacketHandler]
	err    atomicValue[func(error)]
}

func (h *handlers) OnPacket(fn PacketHandler) { h.packet.Store(fn) }
func (h *handlers) OnError(fn func(error))    { h.err.Store(fn) }

func (h *handlers) deliver(data []byte, from Addr) {
	if fn := h.packet.Load(); fn != nil {
		fn(data, from)
	}
}

func (h *handlers) fail(err error) {
	if fn := h.err.Load(); fn != nil {
		fn(err)
	}
}
