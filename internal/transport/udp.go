package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/1ureka/rudp/internal/util"
	"golang.org/x/sync/errgroup"
)

const maxDatagramSize = 64 * 1024

// UDP is a Datagram backed by an IPv4 UDP socket. The Go runtime enables
// SO_BROADCAST on datagram sockets, so Send to BroadcastHost works as is.
type UDP struct {
	handlers

	conn  *net.UDPConn
	local Addr

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// ListenUDP binds port on all IPv4 interfaces (0 picks a free port) and
// starts the read loop. The transport shuts down when ctx is cancelled.
func ListenUDP(ctx context.Context, port int) (*UDP, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("transport: bind udp port %d: %w", port, err)
	}

	la := conn.LocalAddr().(*net.UDPAddr)
	gCtx, gCancel := context.WithCancel(ctx)
	group, gCtx := errgroup.WithContext(gCtx)

	u := &UDP{
		conn:   conn,
		local:  Addr{Host: la.IP.String(), Port: la.Port},
		ready:  make(chan struct{}),
		ctx:    gCtx,
		cancel: gCancel,
		group:  group,
	}
	close(u.ready)

	group.Go(u.readLoop)
	group.Go(func() error {
		<-gCtx.Done()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	util.Logf("UDP bound on %s", u.local)
	return u, nil
}

// readLoop hands every datagram to the packet handler until the socket is closed.
func (u *UDP) readLoop() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || u.ctx.Err() != nil {
				return nil
			}
			u.fail(fmt.Errorf("transport: udp read: %w", err))
			return err
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		u.deliver(data, Addr{Host: from.IP.String(), Port: from.Port})
	}
}

// Send writes one datagram to the given address.
func (u *UDP) Send(data []byte, to Addr) {
	dst, err := net.ResolveUDPAddr("udp4", to.String())
	if err != nil {
		u.fail(fmt.Errorf("transport: resolve %s: %w", to, err))
		return
	}
	if _, err := u.conn.WriteToUDP(data, dst); err != nil {
		u.fail(fmt.Errorf("transport: udp send to %s: %w", to, err))
	}
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() Addr { return u.local }

// Ready is closed from the start; a bound UDP socket is usable at once.
func (u *UDP) Ready() <-chan struct{} { return u.ready }

// Done is closed once the transport shuts down.
func (u *UDP) Done() <-chan struct{} { return u.ctx.Done() }

// Close releases the socket. It does not wait for the read loop, so it is
// safe to call from inside a packet handler; use Wait for that.
func (u *UDP) Close() error {
	u.cancel()
	if err := u.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close udp: %w", err)
	}
	return nil
}

// Wait blocks until the read loop has exited and returns its error.
func (u *UDP) Wait() error {
	return u.group.Wait()
}
