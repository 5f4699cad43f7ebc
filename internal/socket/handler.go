package socket

import (
	"errors"

	"github.com/1ureka/rudp/internal/arq"
	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// handlePacket is the transport's packet handler for a root socket. Bad
// frames are dropped here and never reach the connection state.
func (s *Socket) handlePacket(data []byte, from transport.Addr) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	util.Stats.AddRecv(len(data))

	f, err := protocol.Decode(data)
	if err != nil {
		util.Stats.AddDropped(dropReason(err))
		util.Logf("dropping datagram from %s: %v", from, err)
		return
	}
	util.Logf("<- %s %s", from, f)

	if f.Type == protocol.TypeBroadcast {
		s.receiveBroadcast(f, from)
		return
	}

	if s.terminated {
		return
	}

	switch s.role {
	case RoleListening:
		s.demux(f, from)
	case RoleClient:
		s.process(f)
	default:
		util.Stats.AddDropped("unbound")
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrShortFrame):
		return "short"
	case errors.Is(err, protocol.ErrBadMarker):
		return "bad-marker"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown-type"
	default:
		return "malformed"
	}
}

func (s *Socket) receiveBroadcast(f *protocol.Frame, from transport.Addr) {
	payload, ok := s.payloadOf(f.Payload)
	if !ok {
		return
	}
	version := f.Version
	s.emit(func(obs Observer) { obs.OnBroadcast(payload, from, version) })
}

// process runs one connection-bound frame through the endpoint: the ack
// byte first, then the receive window, then whatever the completed message
// asks for. It always ends by letting the engine send what is pending.
func (s *Socket) process(f *protocol.Frame) {
	if s.terminated {
		return
	}
	s.shift.Observe(s.opts.now(), f.Timestamp)
	s.lastStamp = max(s.lastStamp, f.Timestamp)

	s.engine.Acknowledge(f.Ack)
	if s.terminated {
		return
	}

	if f.Type == protocol.TypeData {
		s.flush()
		return
	}

	msg, msgType, res := s.engine.Accept(f)
	switch res {
	case arq.Dropped:
		util.Stats.AddDropped("out-of-order")
		util.Logf("[%08x] out of order seq=%d (acked %d)", s.tag, f.Seq, s.engine.LocalAck())
	case arq.Duplicate:
		s.engine.Ack()
	case arq.Partial:
		s.engine.Ack()
	case arq.Complete:
		if msgType == protocol.TypeConnect && f.Version < s.version {
			s.version = f.Version
		}
		s.deliver(msgType, msg)
		if s.terminated {
			return
		}
		s.engine.Ack()
	}

	s.flush()
}

// flush dispatches pending output and finishes a peer-initiated close once
// nothing is left to send.
func (s *Socket) flush() {
	if s.terminated {
		return
	}
	s.engine.Dispatch()
	if s.peerClosed && s.engine.Idle() {
		s.terminate(s.closeCode)
	}
}

// deliver hands a reassembled message to the application or the close logic.
func (s *Socket) deliver(msgType uint8, msg []byte) {
	payload, ok := s.payloadOf(msg)
	if !ok {
		return
	}

	switch msgType {
	case protocol.TypeMessage:
		s.emit(func(obs Observer) { obs.OnMessage(payload) })
	case protocol.TypeConnect:
		s.emit(func(obs Observer) { obs.OnConnect(payload) })
	case protocol.TypeClose:
		s.receiveClose(payload)
	}
}

// acked is the engine's hook for an acknowledged descriptor.
func (s *Socket) acked(d *arq.Descriptor) {
	switch d.Type {
	case protocol.TypeConnect:
		if s.connecting && d.Chunk == 0 {
			s.connecting = false
			s.connected = !s.closing
			s.established = true
			util.Stats.AddConn()
			util.LogDebug("[%08x] connected to %s (v%d)", s.tag, s.remote, s.version)
		}
	case protocol.TypeClose:
		if d.Chunk == 0 {
			s.terminate(CodeNormal)
		}
	}
}

// exhausted is the engine's hook for a frame that used its try budget.
func (s *Socket) exhausted() {
	util.LogWarning("[%08x] no response from %s after %d tries", s.tag, s.remote, s.maxTries())
	s.terminate(CodeNoResponse)
}
