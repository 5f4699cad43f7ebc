// Package app contains the top-level orchestration behind the CLI commands.
package app

import (
	"context"
	"encoding/json"

	"github.com/1ureka/rudp/internal/socket"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// Welcome is the accept payload the echo server hands to every peer.
type Welcome struct {
	Server  string `json:"server"`
	Version uint8  `json:"version"`
}

// echoServer is the listening socket's observer.
type echoServer struct {
	socket.NopObserver
}

func (echoServer) OnReady() {
	util.LogDebug("echo server ready")
}

func (echoServer) OnError(err error) {
	util.LogWarning("transport error: %v", err)
}

func (echoServer) OnBroadcast(payload json.RawMessage, from transport.Addr, version uint8) {
	util.LogInfo("broadcast from %s (v%d): %s", from, version, payload)
}

func (echoServer) OnConnection(child *socket.Socket, peerPayload, _ json.RawMessage) {
	tag := util.PeerTag(child.Remote().String())
	util.LogSuccess("[%08x] new connection from %s, clock shift %d ms, token %s",
		tag, child.Remote(), child.ClockShift(), peerPayload)
	child.SetObserver(&echoConn{child: child, tag: tag})
}

// echoConn sends every message back to the peer it came from.
type echoConn struct {
	socket.NopObserver
	child *socket.Socket
	tag   uint32
}

func (c *echoConn) OnMessage(payload json.RawMessage) {
	util.LogInfo("[%08x] rx %s", c.tag, payload)
	if err := c.child.Send(payload); err != nil {
		util.LogWarning("[%08x] echo failed: %v", c.tag, err)
	}
}

func (c *echoConn) OnClose(code socket.CloseCode) {
	util.LogInfo("[%08x] connection closed (%s)", c.tag, code)
}

// RunEcho listens on tr and echoes every message back to its sender until
// ctx is cancelled or the transport goes away. The listener then closes
// every connection and RunEcho returns once they have all terminated.
func RunEcho(ctx context.Context, tr transport.Datagram, opts ...socket.Option) error {
	s := socket.New(tr, append(opts,
		socket.WithObserver(echoServer{}),
		socket.WithAcceptor(func(from transport.Addr, token json.RawMessage) (any, error) {
			return Welcome{Server: "rudp-echo", Version: socket.DefaultVersion}, nil
		}),
	)...)

	if err := s.Listen(); err != nil {
		s.Close(socket.CodeNormal)
		return err
	}
	util.LogSuccess("echo server listening on %s", tr.LocalAddr())

	select {
	case <-ctx.Done():
	case <-tr.Done():
	case <-s.Done():
	}

	s.Close(socket.CodeNormal)
	<-s.Done()
	util.LogInfo("echo server stopped")
	return nil
}
