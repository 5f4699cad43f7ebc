// Package socket implements connection endpoints on top of a datagram
// transport: the handshake, a listening socket that hands every peer its
// own child endpoint, stop-and-wait message delivery, the close handshake,
// and an unacknowledged broadcast side channel.
package socket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/rudp/internal/arq"
	"github.com/1ureka/rudp/internal/clock"
	"github.com/1ureka/rudp/internal/codec"
	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// Role is what an endpoint does. It is chosen at most once.
type Role int

const (
	RoleUnbound Role = iota
	RoleClient
	RoleListening
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleListening:
		return "listening"
	default:
		return "unbound"
	}
}

// group is what a root socket shares with the children it accepts: the
// transport, the lock serializing all of their state, and the event queue.
type group struct {
	mu     sync.Mutex
	tr     transport.Datagram
	notify *notifier
}

// scheduler wraps s so that retry callbacks run under the group lock.
func (g *group) scheduler(s arq.Scheduler) arq.Scheduler {
	return arq.SchedulerFunc(func(d time.Duration, f func()) arq.Timer {
		return s.AfterFunc(d, func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			f()
		})
	})
}

// Socket is one protocol endpoint. A root socket owns a transport; a child
// socket is created by a listening root for each accepted peer and shares
// the root's transport.
//
// All methods are safe for concurrent use.
type Socket struct {
	id   uuid.UUID
	g    *group
	opts options
	obs  atomic.Pointer[Observer]

	role        Role
	connecting  bool
	connected   bool
	closing     bool
	peerClosed  bool // CLOSE received, terminate once the queue drains
	terminated  bool
	released    bool // transport handed to another socket
	established bool // handshake completed at some point

	closeCode CloseCode
	version   uint8
	remote    transport.Addr
	tag       uint32
	engine    *arq.Engine
	shift     clock.ShiftEstimator
	lastStamp int64 // newest peer timestamp seen

	// Listening role only.
	parent *Socket
	peers  map[string]uuid.UUID
	arena  map[uuid.UUID]*Socket

	done chan struct{}
}

// New creates an Unbound root socket on tr. The socket subscribes to tr's
// packets and errors; OnReady fires once tr reports ready.
func New(tr transport.Datagram, opts ...Option) *Socket {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	g := &group{tr: tr, notify: newNotifier()}
	s := newSocket(g, o)
	s.attach()

	go func() {
		select {
		case <-tr.Ready():
			s.emit(func(obs Observer) { obs.OnReady() })
		case <-tr.Done():
		}
	}()

	return s
}

func newSocket(g *group, o options) *Socket {
	s := &Socket{
		id:      uuid.New(),
		g:       g,
		opts:    o,
		version: o.version,
		done:    make(chan struct{}),
	}
	s.obs.Store(&o.observer)
	return s
}

// attach routes the transport's callbacks to s.
func (s *Socket) attach() {
	s.g.tr.OnPacket(s.handlePacket)
	s.g.tr.OnError(func(err error) {
		s.emit(func(obs Observer) { obs.OnError(err) })
	})
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// ID returns the socket's identifier, unique within the process.
func (s *Socket) ID() uuid.UUID { return s.id }

// SetObserver replaces the event observer. Events already queued are
// delivered to the new observer.
func (s *Socket) SetObserver(obs Observer) {
	if obs == nil {
		obs = NopObserver{}
	}
	s.obs.Store(&obs)
}

func (s *Socket) observer() Observer {
	return *s.obs.Load()
}

// Role returns the socket's role.
func (s *Socket) Role() Role {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.role
}

// Connected reports whether the handshake completed and the socket has not
// terminated.
func (s *Socket) Connected() bool {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.connected
}

// Closing reports whether a close is in progress.
func (s *Socket) Closing() bool {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.closing
}

// Remote returns the peer address, or the zero Addr on a socket without a peer.
func (s *Socket) Remote() transport.Addr {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.remote
}

// LocalAddr returns the address of the underlying transport.
func (s *Socket) LocalAddr() transport.Addr {
	return s.g.tr.LocalAddr()
}

// Version returns the protocol version in use: the local version, or the
// lower of both sides' once a handshake was seen.
func (s *Socket) Version() uint8 {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.version
}

// ClockShift returns the estimated offset between the local clock and the
// peer's clock, in milliseconds, including the one-way latency.
func (s *Socket) ClockShift() int64 {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return s.shift.Shift()
}

// Children returns the number of live connections of a listening socket.
func (s *Socket) Children() int {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	return len(s.arena)
}

// Done is closed after the socket terminated and its OnClose was delivered.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// ---------------------------------------------------------------------------
// Role selection
// ---------------------------------------------------------------------------

// Listen turns an Unbound socket into a listening socket. An Acceptor must
// have been supplied with WithAcceptor.
func (s *Socket) Listen() error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	if err := s.checkUnbound("listen"); err != nil {
		return err
	}
	if s.opts.acceptor == nil {
		return fmt.Errorf("%w: listen requires an acceptor", ErrInvalidStateTransition)
	}

	s.role = RoleListening
	s.peers = make(map[string]uuid.UUID)
	s.arena = make(map[uuid.UUID]*Socket)
	util.LogDebug("listening on %s", s.g.tr.LocalAddr())
	return nil
}

// Connect turns an Unbound socket into a client and starts the handshake.
// token is delivered to the listener's Acceptor; it must fit in one frame.
func (s *Socket) Connect(to transport.Addr, token any) error {
	payload, err := codec.Marshal(token)
	if err != nil {
		return err
	}

	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	if err := s.checkUnbound("connect"); err != nil {
		return err
	}
	if len(payload) > s.opts.chunkSize {
		return fmt.Errorf("%w: connect token is %d bytes, limit %d", ErrPayloadTooLarge, len(payload), s.opts.chunkSize)
	}

	s.role = RoleClient
	s.connecting = true
	s.remote = to
	s.tag = util.PeerTag(to.String())
	s.engine = s.newEngine(s.opts.maxTries)

	if err := s.engine.Enqueue(protocol.TypeConnect, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	}
	util.LogDebug("[%08x] connecting to %s", s.tag, to)
	s.engine.Dispatch()
	return nil
}

// Handoff moves the transport of an Unbound root socket to a new socket
// configured with the old socket's options overridden by opts. The old
// socket is left terminated without closing the transport.
func (s *Socket) Handoff(opts ...Option) (*Socket, error) {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	if err := s.checkUnbound("hand off"); err != nil {
		return nil, err
	}
	if s.parent != nil {
		return nil, fmt.Errorf("%w: cannot hand off a child socket", ErrInvalidStateTransition)
	}

	o := s.opts
	o.observer = s.observer()
	for _, opt := range opts {
		opt(&o)
	}

	next := newSocket(s.g, o)
	next.attach()

	s.released = true
	s.terminated = true
	close(s.done)
	return next, nil
}

func (s *Socket) checkUnbound(op string) error {
	if s.terminated {
		return fmt.Errorf("%w: %s", ErrClosed, op)
	}
	if s.role != RoleUnbound {
		return fmt.Errorf("%w: cannot %s a %s socket", ErrInvalidStateTransition, op, s.role)
	}
	return nil
}

func (s *Socket) newEngine(maxTries int) *arq.Engine {
	return arq.New(s.opts.arqConfig(maxTries), s.g.scheduler(s.opts.scheduler), arq.Hooks{
		Send:      s.sendFrame,
		Acked:     s.acked,
		Exhausted: s.exhausted,
	})
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send queues v for delivery to the peer. On a socket that is neither
// connected nor connecting the payload is dropped with a warning and Send
// returns nil; only marshaling and size errors are reported.
func (s *Socket) Send(v any) error {
	payload, err := codec.Marshal(v)
	if err != nil {
		return err
	}

	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	if s.terminated || s.closing || !(s.connecting || s.connected) {
		util.LogWarning("[%08x] socket is not connected, message dropped", s.tag)
		return nil
	}

	if err := s.engine.Enqueue(protocol.TypeMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
	}
	s.engine.Dispatch()
	return nil
}

// Broadcast sends v in a single unacknowledged frame to host on the
// socket's own port. An empty host means the IPv4 limited broadcast address.
func (s *Socket) Broadcast(v any, host string) error {
	payload, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	if host == "" {
		host = transport.BroadcastHost
	}

	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	if s.released || (s.terminated && s.parent == nil) {
		return ErrClosed
	}
	if len(payload) > s.opts.chunkSize {
		return fmt.Errorf("%w: broadcast is %d bytes, limit %d", ErrPayloadTooLarge, len(payload), s.opts.chunkSize)
	}

	to := transport.Addr{Host: host, Port: s.g.tr.LocalAddr().Port}
	s.transmit(&protocol.Frame{
		Type:    protocol.TypeBroadcast,
		Version: s.version,
		Payload: payload,
	}, to)
	return nil
}

// sendFrame is the engine's transmit hook.
func (s *Socket) sendFrame(f *protocol.Frame) {
	f.Version = s.version
	if f.Type != protocol.TypeData && s.engine != nil && s.engine.Tries() > 1 {
		util.Stats.AddRetransmit()
		util.Logf("[%08x] retry %d/%d seq=%d", s.tag, s.engine.Tries(), s.maxTries(), f.Seq)
	}
	s.transmit(f, s.remote)
}

func (s *Socket) transmit(f *protocol.Frame, to transport.Addr) {
	f.Timestamp = s.opts.now()
	data := protocol.Encode(f)
	s.g.tr.Send(data, to)
	util.Stats.AddSent(protocol.TypeName(f.Type), len(data))
	util.Logf("[%08x] -> %s %s", s.tag, to, f)
}

func (s *Socket) maxTries() int {
	if s.parent != nil {
		return s.opts.childMaxTries
	}
	return s.opts.maxTries
}

// emit queues an observer call. The observer is looked up at delivery time,
// so a SetObserver made by an earlier callback applies to later events.
func (s *Socket) emit(fn func(Observer)) {
	s.g.notify.push(func() { fn(s.observer()) })
}

// payloadOf expands a reassembled message, reporting malformed ones.
func (s *Socket) payloadOf(msg []byte) (json.RawMessage, bool) {
	payload, err := codec.Unmarshal(msg)
	if err != nil {
		util.Stats.AddDropped("malformed")
		util.LogDebug("[%08x] dropping malformed payload: %v", s.tag, err)
		return nil, false
	}
	return payload, true
}
