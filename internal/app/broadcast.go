package app

import (
	"context"

	"github.com/1ureka/rudp/internal/socket"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// RunBroadcast sends msg once to host on the transport's own port and
// closes the socket.
func RunBroadcast(ctx context.Context, tr transport.Datagram, host string, msg any, opts ...socket.Option) error {
	s := socket.New(tr, opts...)
	defer func() {
		s.Close(socket.CodeNormal)
		<-s.Done()
	}()

	select {
	case <-tr.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.Broadcast(msg, host); err != nil {
		return err
	}
	if host == "" {
		host = transport.BroadcastHost
	}
	util.LogSuccess("broadcast sent to %s:%d", host, tr.LocalAddr().Port)
	return nil
}
