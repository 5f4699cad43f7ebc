package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/rudp/internal/socket"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// clientObserver prints what the client receives and remembers how the
// connection ended.
type clientObserver struct {
	socket.NopObserver
	s   *socket.Socket
	tag uint32

	mu   sync.Mutex
	out  io.Writer
	code socket.CloseCode
}

func (o *clientObserver) OnError(err error) {
	util.LogWarning("transport error: %v", err)
}

func (o *clientObserver) OnConnect(acceptPayload json.RawMessage) {
	util.LogSuccess("[%08x] connected, clock shift %d ms, server says %s",
		o.tag, o.s.ClockShift(), acceptPayload)
}

func (o *clientObserver) OnMessage(payload json.RawMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, "< %s\n", payload)
}

func (o *clientObserver) OnClose(code socket.CloseCode) {
	o.mu.Lock()
	o.code = code
	o.mu.Unlock()
	util.LogInfo("[%08x] connection closed (%s)", o.tag, code)
}

func (o *clientObserver) closeCode() socket.CloseCode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.code
}

// RunClient connects to peer over tr and sends each line read from in as
// a string message, writing received messages to out. It runs until ctx is
// cancelled or the connection ends; reaching the end of in only stops
// reading. A connection that ends because the peer stopped answering is
// reported as an error.
func RunClient(ctx context.Context, tr transport.Datagram, peer transport.Addr, token any, in io.Reader, out io.Writer, opts ...socket.Option) error {
	obs := &clientObserver{out: out, tag: util.PeerTag(peer.String())}
	s := socket.New(tr, append(opts, socket.WithObserver(obs))...)
	obs.s = s

	if err := s.Connect(peer, token); err != nil {
		s.Close(socket.CodeNormal)
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-s.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if line == "" {
				continue
			}
			if err := s.Send(line); err != nil {
				util.LogWarning("send failed: %v", err)
			}

		case <-s.Done():
			if code := obs.closeCode(); code == socket.CodeNoResponse {
				return fmt.Errorf("connection to %s lost: %s", peer, code)
			}
			return nil

		case <-ctx.Done():
			s.Close(socket.CodeNormal)
			<-s.Done()
			return nil
		}
	}
}
