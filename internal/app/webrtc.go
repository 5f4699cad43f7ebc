package app

import (
	"context"
	"io"

	"github.com/1ureka/rudp/internal/signaling"
	"github.com/1ureka/rudp/internal/socket"
	"github.com/1ureka/rudp/internal/util"
)

// RunHost waits for a peer through WebSocket signaling on wsAddr and serves
// the echo protocol over the resulting DataChannel. The socket closes the
// DataChannel when the echo server stops.
func RunHost(ctx context.Context, wsAddr string, opts ...socket.Option) error {
	dc, err := signaling.EstablishAsHost(ctx, wsAddr)
	if err != nil {
		return err
	}

	util.LogSuccess("P2P DataChannel established with %s", dc.RemoteAddr())
	return RunEcho(ctx, dc, opts...)
}

// RunJoin joins a host through the signaling URL and runs the interactive
// client over the resulting DataChannel.
func RunJoin(ctx context.Context, wsURL string, token any, in io.Reader, out io.Writer, opts ...socket.Option) error {
	dc, err := signaling.EstablishAsClient(ctx, wsURL)
	if err != nil {
		return err
	}

	util.LogSuccess("P2P DataChannel established with %s", dc.RemoteAddr())
	return RunClient(ctx, dc, dc.RemoteAddr(), token, in, out, opts...)
}
