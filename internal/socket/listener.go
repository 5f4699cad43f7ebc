package socket

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/1ureka/rudp/internal/codec"
	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// demux routes a frame received by a listening socket to the child that
// owns the sender's address, or starts a handshake for a new peer.
func (s *Socket) demux(f *protocol.Frame, from transport.Addr) {
	key := from.String()

	if id, ok := s.peers[key]; ok {
		child := s.arena[id]
		if f.Type != protocol.TypeConnect || !child.connected || f.Timestamp <= child.lastStamp {
			child.process(f)
			return
		}
		// A CONNECT newer than anything the peer sent on the current
		// connection: the other side restarted. Drop the stale connection
		// and handshake again. Late retransmits of the first CONNECT are
		// older than the ack that completed the handshake and fall through
		// to process as duplicates.
		util.LogInfo("[%08x] %s reconnected, resetting", child.tag, key)
		child.terminate(CodeNoResponse)
	}

	if f.Type != protocol.TypeConnect || f.Chunk != 0 {
		util.Stats.AddDropped("unknown-peer")
		util.Logf("dropping %s from unknown peer %s", protocol.TypeName(f.Type), key)
		return
	}
	if s.closing {
		util.Logf("listener closing, ignoring CONNECT from %s", key)
		return
	}

	s.accept(f, from)
}

// accept answers a handshake. The child is created in Connecting state with
// its ack counter seeded from the CONNECT frame, so the reply acknowledges
// it; the reply carries the Acceptor's payload.
func (s *Socket) accept(f *protocol.Frame, from transport.Addr) {
	token, ok := s.payloadOf(f.Payload)
	if !ok {
		return
	}

	reply, err := s.opts.acceptor(from, token)
	if err != nil {
		util.LogWarning("rejected connection from %s: %v", from, err)
		return
	}
	acceptPayload, err := json.Marshal(reply)
	if err != nil {
		util.LogError("cannot marshal accept payload for %s: %v", from, err)
		return
	}

	child := s.spawn(f, from)
	if err := child.engine.Enqueue(protocol.TypeConnect, codec.Encode(string(acceptPayload))); err != nil {
		util.LogError("[%08x] accept payload: %v", child.tag, err)
		return
	}

	s.peers[from.String()] = child.id
	s.arena[child.id] = child
	child.engine.Dispatch()

	util.LogDebug("[%08x] accepted %s (v%d), %d connection(s)", child.tag, from, child.version, len(s.arena))
	s.emit(func(obs Observer) { obs.OnConnection(child, token, acceptPayload) })
}

// spawn creates the child endpoint for a new peer.
func (s *Socket) spawn(f *protocol.Frame, from transport.Addr) *Socket {
	o := s.opts
	o.observer = NopObserver{}

	child := newSocket(s.g, o)
	child.parent = s
	child.role = RoleClient
	child.connecting = true
	child.remote = from
	child.tag = util.PeerTag(from.String())
	child.version = min(s.opts.version, f.Version)
	child.engine = child.newEngine(s.opts.childMaxTries)
	child.engine.SeedAck(f.Seq)
	child.shift.Observe(s.opts.now(), f.Timestamp)
	child.lastStamp = f.Timestamp
	return child
}

// release removes a terminated child from the arena. A closing listener
// finishes once its last child is gone.
func (s *Socket) release(id uuid.UUID) {
	child, ok := s.arena[id]
	if !ok {
		return
	}
	delete(s.arena, id)
	if s.peers[child.remote.String()] == id {
		delete(s.peers, child.remote.String())
	}

	if s.closing && len(s.arena) == 0 {
		s.terminate(s.closeCode)
	}
}
