package socket

import (
	"encoding/json"

	"github.com/1ureka/rudp/internal/codec"
	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/util"
)

// Close starts shutting the socket down. code travels to the peer in the
// CLOSE frame and is reported there by OnClose.
//
//   - A connection sends CLOSE after anything already queued and terminates
//     when it is acknowledged, or with CodeNoResponse when it is not.
//   - A listening socket closes every child and releases the transport once
//     the last one has terminated.
//   - An Unbound socket releases the transport at once.
//
// Calling Close again, or on a terminated socket, does nothing.
func (s *Socket) Close(code CloseCode) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	s.close(code)
}

func (s *Socket) close(code CloseCode) {
	if s.terminated || s.closing {
		return
	}

	switch s.role {
	case RoleListening:
		s.closing = true
		s.closeCode = code
		if len(s.arena) == 0 {
			s.terminate(code)
			return
		}
		children := make([]*Socket, 0, len(s.arena))
		for _, child := range s.arena {
			children = append(children, child)
		}
		util.LogDebug("closing listener, waiting for %d connection(s)", len(children))
		for _, child := range children {
			child.close(code)
		}

	case RoleClient:
		payload, err := codec.Marshal(int(code))
		if err != nil {
			s.terminate(code)
			return
		}
		s.closing = true
		s.connected = false
		if err := s.engine.Enqueue(protocol.TypeClose, payload); err != nil {
			s.terminate(code)
			return
		}
		util.LogDebug("[%08x] closing (%s)", s.tag, code)
		s.engine.Dispatch()

	default:
		s.terminate(code)
	}
}

// receiveClose handles the peer's CLOSE: anything still queued is dropped,
// the CLOSE is acknowledged, and the socket terminates once that ack is out.
func (s *Socket) receiveClose(payload json.RawMessage) {
	code := CodeNormal
	var n int
	if err := json.Unmarshal(payload, &n); err == nil {
		code = CloseCode(n)
	}

	util.LogDebug("[%08x] peer closed (%s)", s.tag, code)
	s.engine.Discard()
	s.closing = true
	s.connected = false
	s.connecting = false
	s.peerClosed = true
	s.closeCode = code
}

// terminate releases everything the socket holds and reports code through
// OnClose. It runs at most once per socket.
func (s *Socket) terminate(code CloseCode) {
	if s.terminated {
		return
	}
	s.terminated = true
	s.connecting = false
	s.connected = false

	if s.engine != nil {
		s.engine.Reset()
	}
	if s.established {
		util.Stats.RemoveConn()
	}

	util.LogDebug("[%08x] terminated: %s", s.tag, code)
	s.emit(func(obs Observer) { obs.OnClose(code) })
	s.g.notify.push(func() { close(s.done) })

	switch {
	case s.parent != nil:
		s.parent.release(s.id)
	case !s.released:
		if err := s.g.tr.Close(); err != nil {
			util.LogWarning("closing transport: %v", err)
		}
		s.g.notify.stop()
	}
}
