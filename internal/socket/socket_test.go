package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/rudp/internal/transport"
)

// ---------------------------------------------------------------------------
// Recording observer
// ---------------------------------------------------------------------------

type connEvent struct {
	child         *Socket
	peerPayload   string
	acceptPayload string
}

type bcastEvent struct {
	payload string
	from    transport.Addr
	version uint8
}

// recorder captures every event on buffered channels. When childObserver is
// set, it is installed on each accepted child from OnConnection.
type recorder struct {
	name          string
	log           *eventLog
	childObserver func(child *Socket) Observer

	ready       chan struct{}
	connections chan connEvent
	connects    chan string
	messages    chan string
	broadcasts  chan bcastEvent
	closes      chan CloseCode
}

func newRecorder(name string, log *eventLog) *recorder {
	return &recorder{
		name:        name,
		log:         log,
		ready:       make(chan struct{}, 1),
		connections: make(chan connEvent, 16),
		connects:    make(chan string, 16),
		messages:    make(chan string, 256),
		broadcasts:  make(chan bcastEvent, 16),
		closes:      make(chan CloseCode, 16),
	}
}

func (r *recorder) OnReady() { r.ready <- struct{}{} }

func (r *recorder) OnError(error) {}

func (r *recorder) OnBroadcast(payload json.RawMessage, from transport.Addr, version uint8) {
	r.broadcasts <- bcastEvent{string(payload), from, version}
}

func (r *recorder) OnConnection(child *Socket, peerPayload, acceptPayload json.RawMessage) {
	if r.childObserver != nil {
		child.SetObserver(r.childObserver(child))
	}
	r.connections <- connEvent{child, string(peerPayload), string(acceptPayload)}
}

func (r *recorder) OnConnect(acceptPayload json.RawMessage) {
	r.connects <- string(acceptPayload)
}

func (r *recorder) OnMessage(payload json.RawMessage) {
	r.messages <- string(payload)
}

func (r *recorder) OnClose(code CloseCode) {
	if r.log != nil {
		r.log.add(r.name + ":close")
	}
	r.closes <- code
}

// eventLog records the order of events across several observers.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.events {
		if got == e {
			return i
		}
	}
	return -1
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func none[T any](t *testing.T, ch <-chan T, what string, wait time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(wait):
	}
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var fastRetry = WithRetry(30*time.Millisecond, 10*time.Millisecond)

type fixture struct {
	ctx    context.Context
	net    *transport.Network
	server *Socket
	srvObs *recorder
	log    *eventLog
}

func serverAcceptor(transport.Addr, json.RawMessage) (any, error) {
	return map[string]string{"from": "server"}, nil
}

// newFixture starts a listening socket on 10.0.0.1:9000.
func newFixture(t *testing.T, netOpts []transport.NetworkOption, opts ...Option) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{ctx: ctx, net: transport.NewNetwork(netOpts...), log: &eventLog{}}
	f.srvObs = newRecorder("server", f.log)

	tr, err := f.net.Listen(ctx, "10.0.0.1", 9000)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	opts = append([]Option{fastRetry, WithObserver(f.srvObs), WithAcceptor(serverAcceptor)}, opts...)
	f.server = New(tr, opts...)
	if err := f.server.Listen(); err != nil {
		t.Fatalf("server Listen failed: %v", err)
	}
	return f
}

func (f *fixture) client(t *testing.T, host string, opts ...Option) (*Socket, *recorder) {
	t.Helper()
	tr, err := f.net.Listen(f.ctx, host, 0)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	obs := newRecorder("client@"+host, f.log)
	opts = append([]Option{fastRetry, WithObserver(obs)}, opts...)
	return New(tr, opts...), obs
}

// connect runs a full handshake and returns both ends.
func (f *fixture) connect(t *testing.T, host string, opts ...Option) (client *Socket, clientObs *recorder, child *Socket) {
	t.Helper()
	client, clientObs = f.client(t, host, opts...)
	if err := client.Connect(f.server.LocalAddr(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	recv(t, clientObs.connects, "OnConnect")
	child = recv(t, f.srvObs.connections, "OnConnection").child
	return client, clientObs, child
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestHandshake(t *testing.T) {
	f := newFixture(t, nil)
	client, obs := f.client(t, "10.0.0.2")

	recv(t, obs.ready, "OnReady")
	if err := client.Connect(f.server.LocalAddr(), map[string]string{"user": "alice"}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := recv(t, obs.connects, "OnConnect"); got != `{"from":"server"}` {
		t.Errorf("OnConnect payload = %s, want {\"from\":\"server\"}", got)
	}

	ev := recv(t, f.srvObs.connections, "OnConnection")
	if ev.peerPayload != `{"user":"alice"}` {
		t.Errorf("peer payload = %s", ev.peerPayload)
	}
	if ev.acceptPayload != `{"from":"server"}` {
		t.Errorf("accept payload = %s", ev.acceptPayload)
	}
	if ev.child.Remote() != client.LocalAddr() {
		t.Errorf("child remote = %s, want %s", ev.child.Remote(), client.LocalAddr())
	}

	if !client.Connected() {
		t.Errorf("client not connected after OnConnect")
	}
	if client.Role() != RoleClient || f.server.Role() != RoleListening {
		t.Errorf("roles = %s/%s", client.Role(), f.server.Role())
	}
	if f.server.Children() != 1 {
		t.Errorf("Children = %d, want 1", f.server.Children())
	}
}

func TestVersionNegotiation(t *testing.T) {
	f := newFixture(t, nil, WithVersion(3))
	client, _, child := f.connect(t, "10.0.0.2", WithVersion(2))

	if child.Version() != 2 {
		t.Errorf("child version = %d, want 2", child.Version())
	}
	if client.Version() != 2 {
		t.Errorf("client version = %d, want 2", client.Version())
	}
}

// TestChunkedMessage sends "Hello" with a chunk size small enough to force
// two frames and expects it delivered once.
func TestChunkedMessage(t *testing.T) {
	f := newFixture(t, nil)
	childObs := newRecorder("child", f.log)
	f.srvObs.childObserver = func(*Socket) Observer { return childObs }

	client, _, _ := f.connect(t, "10.0.0.2", WithChunkSize(4))

	if err := client.Send("Hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := recv(t, childObs.messages, "OnMessage"); got != `"Hello"` {
		t.Errorf("message = %s, want \"Hello\"", got)
	}
	none(t, childObs.messages, "second delivery", 150*time.Millisecond)
}

func TestBidirectionalOverLossyNetwork(t *testing.T) {
	f := newFixture(t, []transport.NetworkOption{
		transport.WithLoss(0.2),
		transport.WithDelay(0, 5*time.Millisecond),
	}, WithChildMaxTries(30))

	childObs := newRecorder("child", f.log)
	f.srvObs.childObserver = func(*Socket) Observer { return childObs }

	client, clientObs, child := f.connect(t, "10.0.0.2", WithMaxTries(30), WithChunkSize(16))

	const n = 20
	for i := 0; i < n; i++ {
		if err := client.Send(fmt.Sprintf("c%02d-%s", i, strings.Repeat("x", 40))); err != nil {
			t.Fatalf("client Send failed: %v", err)
		}
		if err := child.Send(map[string]int{"s": i}); err != nil {
			t.Fatalf("child Send failed: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		want := fmt.Sprintf(`"c%02d-%s"`, i, strings.Repeat("x", 40))
		if got := recv(t, childObs.messages, "child OnMessage"); got != want {
			t.Fatalf("child message %d = %s, want %s", i, got, want)
		}
		if got := recv(t, clientObs.messages, "client OnMessage"); got != fmt.Sprintf(`{"s":%d}`, i) {
			t.Fatalf("client message %d = %s", i, got)
		}
	}
}

// TestListenerClose closes the listener while a child is connected. The
// client sees the CLOSE, both connection ends terminate normally, and the
// listener reports its own close only after the child is gone.
func TestListenerClose(t *testing.T) {
	f := newFixture(t, nil)
	childObs := newRecorder("child", f.log)
	f.srvObs.childObserver = func(*Socket) Observer { return childObs }

	client, clientObs, child := f.connect(t, "10.0.0.2")

	f.server.Close(CodeNormal)

	if code := recv(t, clientObs.closes, "client OnClose"); code != CodeNormal {
		t.Errorf("client close code = %s", code)
	}
	if code := recv(t, childObs.closes, "child OnClose"); code != CodeNormal {
		t.Errorf("child close code = %s", code)
	}
	if code := recv(t, f.srvObs.closes, "server OnClose"); code != CodeNormal {
		t.Errorf("server close code = %s", code)
	}

	if f.log.index("child:close") > f.log.index("server:close") {
		t.Errorf("listener closed before its child: %v", f.log.events)
	}

	for name, s := range map[string]*Socket{"client": client, "child": child, "server": f.server} {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Errorf("%s not done", name)
		}
	}
	if f.server.Children() != 0 {
		t.Errorf("Children = %d after close", f.server.Children())
	}
}

func TestClientCloseCarriesCode(t *testing.T) {
	f := newFixture(t, nil)
	childObs := newRecorder("child", f.log)
	f.srvObs.childObserver = func(*Socket) Observer { return childObs }

	client, clientObs, _ := f.connect(t, "10.0.0.2")

	client.Close(CloseCode(42))
	client.Close(CodeNormal)

	if code := recv(t, childObs.closes, "child OnClose"); code != 42 {
		t.Errorf("child close code = %s, want code 42", code)
	}
	if code := recv(t, clientObs.closes, "client OnClose"); code != CodeNormal {
		t.Errorf("client close code = %s, want normal", code)
	}
	none(t, clientObs.closes, "second OnClose", 100*time.Millisecond)
}

func TestCloseWithoutChildren(t *testing.T) {
	f := newFixture(t, nil)
	f.server.Close(CloseCode(3))

	if code := recv(t, f.srvObs.closes, "server OnClose"); code != 3 {
		t.Errorf("close code = %s, want code 3", code)
	}
}

func TestUnboundClose(t *testing.T) {
	f := newFixture(t, nil)
	s, obs := f.client(t, "10.0.0.5")
	addr := s.LocalAddr()

	s.Close(CodeNormal)
	recv(t, obs.closes, "OnClose")

	if _, err := f.net.Listen(f.ctx, addr.Host, addr.Port); err != nil {
		t.Errorf("transport not released: %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t, nil)

	// Same port as the listener, different host.
	tr, err := f.net.Listen(f.ctx, "10.0.0.9", 9000)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	obs := newRecorder("sender", nil)
	sender := New(tr, WithObserver(obs), WithVersion(7))

	if err := sender.Broadcast(map[string]bool{"hello": true}, ""); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	ev := recv(t, f.srvObs.broadcasts, "listener OnBroadcast")
	if ev.payload != `{"hello":true}` || ev.version != 7 || ev.from != sender.LocalAddr() {
		t.Errorf("broadcast = %+v", ev)
	}
	// The limited broadcast reaches the sender as well.
	recv(t, obs.broadcasts, "sender OnBroadcast")
}

func TestBroadcastToConnectedClient(t *testing.T) {
	f := newFixture(t, nil)
	client, clientObs, _ := f.connect(t, "10.0.0.2")

	// A neighbour on the client's port broadcasts; the connected client
	// receives it like any other bound endpoint.
	tr, err := f.net.Listen(f.ctx, "10.0.0.8", client.LocalAddr().Port)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	neighbour := New(tr)
	if err := neighbour.Broadcast("ping", ""); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if ev := recv(t, clientObs.broadcasts, "client OnBroadcast"); ev.payload != `"ping"` {
		t.Errorf("payload = %s", ev.payload)
	}
	if !client.Connected() {
		t.Errorf("broadcast disturbed the connection")
	}
	if err := client.Send("still here"); err != nil {
		t.Errorf("Send after broadcast: %v", err)
	}
}

func TestReconnectResetsStaleChild(t *testing.T) {
	f := newFixture(t, nil)
	childObs := newRecorder("child", f.log)
	f.srvObs.childObserver = func(*Socket) Observer { return childObs }

	first, _, _ := f.connect(t, "10.0.0.2")
	addr := first.LocalAddr()

	// The client vanishes without a close handshake and comes back on the
	// same address.
	time.Sleep(5 * time.Millisecond)
	first.g.tr.Close()

	tr, err := f.net.Listen(f.ctx, addr.Host, addr.Port)
	if err != nil {
		t.Fatalf("rebind failed: %v", err)
	}
	obs := newRecorder("second", nil)
	second := New(tr, fastRetry, WithObserver(obs))
	if err := second.Connect(f.server.LocalAddr(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if code := recv(t, childObs.closes, "stale child OnClose"); code != CodeNoResponse {
		t.Errorf("stale child close code = %s, want no response", code)
	}
	recv(t, obs.connects, "OnConnect")
	recv(t, f.srvObs.connections, "second OnConnection")
	if f.server.Children() != 1 {
		t.Errorf("Children = %d, want 1", f.server.Children())
	}
}

func TestNoResponse(t *testing.T) {
	f := newFixture(t, nil)
	client, obs := f.client(t, "10.0.0.2", WithMaxTries(3))

	// Nothing is bound there.
	if err := client.Connect(transport.Addr{Host: "10.0.0.200", Port: 1}, "hi"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if code := recv(t, obs.closes, "OnClose"); code != CodeNoResponse {
		t.Errorf("close code = %s, want no response", code)
	}
	none(t, obs.connects, "OnConnect", 10*time.Millisecond)
}

// TestChildGivesUp checks that a connection whose peer disappears times out
// on the listener side and frees its slot.
func TestChildGivesUp(t *testing.T) {
	f := newFixture(t, nil, WithChildMaxTries(2))
	childObs := newRecorder("child", f.log)
	f.srvObs.childObserver = func(*Socket) Observer { return childObs }

	client, _, child := f.connect(t, "10.0.0.2")
	client.g.tr.Close()

	if err := child.Send("anyone there?"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if code := recv(t, childObs.closes, "child OnClose"); code != CodeNoResponse {
		t.Errorf("close code = %s", code)
	}
	deadline := time.Now().Add(time.Second)
	for f.server.Children() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.server.Children() != 0 {
		t.Errorf("child not released")
	}
}

// ---------------------------------------------------------------------------
// API errors
// ---------------------------------------------------------------------------

func TestInvalidStateTransitions(t *testing.T) {
	f := newFixture(t, nil)

	noAcceptor, _ := f.client(t, "10.0.1.1")
	if err := noAcceptor.Listen(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Listen without acceptor: got %v", err)
	}

	if err := f.server.Connect(transport.Addr{Host: "10.0.0.2", Port: 1}, nil); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Connect on listener: got %v", err)
	}
	if err := f.server.Listen(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("second Listen: got %v", err)
	}
	if _, err := f.server.Handoff(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Handoff on listener: got %v", err)
	}

	client, _ := f.client(t, "10.0.1.2", WithAcceptor(serverAcceptor))
	if err := client.Connect(f.server.LocalAddr(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Listen(); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("Listen on client: got %v", err)
	}
	if err := client.Connect(f.server.LocalAddr(), nil); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("second Connect: got %v", err)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	f := newFixture(t, nil)

	c, _ := f.client(t, "10.0.0.2", WithChunkSize(8))
	err := c.Connect(f.server.LocalAddr(), "a token longer than one chunk")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("oversized token: got %v", err)
	}
	if c.Role() != RoleUnbound {
		t.Errorf("failed Connect changed the role to %s", c.Role())
	}

	client, _, _ := f.connect(t, "10.0.0.3", WithChunkSize(4))
	if err := client.Send(strings.Repeat("y", 256*4)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized message: got %v", err)
	}
	if err := client.Broadcast(strings.Repeat("z", 8), ""); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized broadcast: got %v", err)
	}
}

func TestSendWhileNotConnected(t *testing.T) {
	f := newFixture(t, nil)
	s, _ := f.client(t, "10.0.0.2")

	if err := s.Send("dropped"); err != nil {
		t.Errorf("Send on unbound socket returned %v", err)
	}
	if err := f.server.Send("dropped"); err != nil {
		t.Errorf("Send on listener returned %v", err)
	}
	if _, err := json.Marshal(make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
	if err := s.Send(make(chan int)); err == nil {
		t.Errorf("Send of unmarshalable value returned nil")
	}
}

func TestHandoff(t *testing.T) {
	f := newFixture(t, nil)
	tr, _ := f.net.Listen(f.ctx, "10.0.0.7", 9000)
	old := New(tr)

	obs := newRecorder("next", nil)
	next, err := old.Handoff(WithObserver(obs))
	if err != nil {
		t.Fatalf("Handoff failed: %v", err)
	}

	if err := old.Listen(); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen on handed-off socket: got %v", err)
	}
	select {
	case <-old.Done():
	default:
		t.Errorf("handed-off socket not done")
	}

	if err := f.server.Broadcast("to all", ""); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if ev := recv(t, obs.broadcasts, "OnBroadcast after handoff"); ev.payload != `"to all"` {
		t.Errorf("payload = %s", ev.payload)
	}
	if next.LocalAddr() != tr.LocalAddr() {
		t.Errorf("next socket on %s, want %s", next.LocalAddr(), tr.LocalAddr())
	}
}

func TestClockShift(t *testing.T) {
	f := newFixture(t, nil)
	var skew int64 = 5000
	client, _, child := f.connect(t, "10.0.0.2", WithClock(func() int64 {
		return time.Now().UnixMilli() + skew
	}))

	// The child sees the client's clock ahead by the skew; the client sees
	// the listener's clock behind by it. Latency on the in-memory network
	// is well under the tolerance.
	if got := child.ClockShift(); got > -skew+50 || got < -skew-50 {
		t.Errorf("child ClockShift = %d, want about %d", got, -skew)
	}
	if got := client.ClockShift(); got < skew-50 || got > skew+50 {
		t.Errorf("client ClockShift = %d, want about %d", got, skew)
	}
}
