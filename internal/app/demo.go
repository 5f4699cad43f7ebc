package app

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/1ureka/rudp/internal/socket"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// DemoConfig describes one loopback run.
type DemoConfig struct {
	ServerAddr  transport.Addr // where the client dials the server
	Messages    int            // messages the server pushes to the client
	MessageSize int            // characters per pushed message
	Options     []socket.Option
}

// DemoToken is the handshake token the demo client presents.
type DemoToken struct {
	Version uint8  `json:"version"`
	ID      string `json:"id"`
	Name    string `json:"name"`
}

// Report summarizes a loopback run.
type Report struct {
	Received      int           // messages the client got
	Bytes         int           // characters the client got
	ServerGot     int           // characters the server got from the client
	Broadcasts    int           // broadcasts seen by either side
	Version       uint8         // negotiated protocol version
	Elapsed       time.Duration // first push to last receipt
	ServerCode    socket.CloseCode
	ClientCode    socket.CloseCode
	ServerStopped bool
}

// Throughput returns the client's receive rate in MiB/s.
func (r Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds() / (1 << 20)
}

func (r Report) String() string {
	return fmt.Sprintf("received %d message(s), %d chars in %s (%.2f MiB/s), v%d, %d broadcast(s)",
		r.Received, r.Bytes, r.Elapsed.Round(time.Millisecond), r.Throughput(), r.Version, r.Broadcasts)
}

// demo carries the state shared by the observers of one run.
type demo struct {
	cfg    DemoConfig
	server *socket.Socket
	client *socket.Socket

	mu     sync.Mutex
	report Report
	start  time.Time
}

// demoServer observes the listening socket.
type demoServer struct {
	socket.NopObserver
	d *demo
}

func (o demoServer) OnBroadcast(payload json.RawMessage, from transport.Addr, _ uint8) {
	util.LogInfo("server got broadcast from %s: %s", from, payload)
	o.d.addBroadcast()
}

func (o demoServer) OnConnection(child *socket.Socket, peerPayload, _ json.RawMessage) {
	util.LogSuccess("server accepted %s with %s", child.Remote(), peerPayload)
	child.SetObserver(demoChild{d: o.d, child: child})

	o.d.mu.Lock()
	o.d.start = time.Now()
	o.d.mu.Unlock()

	data := strings.Repeat("A", o.d.cfg.MessageSize)
	for range o.d.cfg.Messages {
		if err := child.Send(data); err != nil {
			util.LogWarning("server push failed: %v", err)
			return
		}
	}
}

func (o demoServer) OnClose(code socket.CloseCode) {
	o.d.mu.Lock()
	o.d.report.ServerCode = code
	o.d.report.ServerStopped = true
	o.d.mu.Unlock()
}

// demoChild is the server side of the one demo connection. The server
// shuts down when it ends.
type demoChild struct {
	socket.NopObserver
	d     *demo
	child *socket.Socket
}

func (o demoChild) OnMessage(payload json.RawMessage) {
	var text string
	if err := json.Unmarshal(payload, &text); err != nil {
		return
	}
	o.d.mu.Lock()
	o.d.report.ServerGot += len(text)
	o.d.mu.Unlock()
	util.LogInfo("server got %d chars", len(text))
}

func (o demoChild) OnClose(code socket.CloseCode) {
	util.LogInfo("server connection closing (%s)", code)
	o.d.server.Close(socket.CodeNormal)
}

// demoClient observes the client socket.
type demoClient struct {
	socket.NopObserver
	d *demo
}

func (o demoClient) OnBroadcast(payload json.RawMessage, from transport.Addr, _ uint8) {
	util.LogInfo("client got broadcast from %s: %s", from, payload)
	o.d.addBroadcast()
}

func (o demoClient) OnConnect(acceptPayload json.RawMessage) {
	c := o.d.client
	util.LogSuccess("client connected to %s, clock shift %d ms, accept %s", c.Remote(), c.ClockShift(), acceptPayload)
	if err := c.Send(strings.Repeat("A Long Message", 200)); err != nil {
		util.LogWarning("client send failed: %v", err)
	}
}

func (o demoClient) OnMessage(payload json.RawMessage) {
	var text string
	if err := json.Unmarshal(payload, &text); err != nil {
		return
	}

	o.d.mu.Lock()
	o.d.report.Received++
	o.d.report.Bytes += len(text)
	o.d.report.Elapsed = time.Since(o.d.start)
	done := o.d.report.Received == o.d.cfg.Messages
	o.d.mu.Unlock()

	if done {
		o.d.client.Close(socket.CodeNormal)
	}
}

func (o demoClient) OnClose(code socket.CloseCode) {
	o.d.mu.Lock()
	o.d.report.ClientCode = code
	o.d.mu.Unlock()
}

func (d *demo) addBroadcast() {
	d.mu.Lock()
	d.report.Broadcasts++
	d.mu.Unlock()
}

// RunDemo runs a server and a client against each other: both announce
// themselves by broadcast, the client connects with a versioned token and
// sends one long message, and the server pushes cfg.Messages messages
// back. The client closes after the last one and the server follows. If
// ctx ends first both sides are closed and the partial report returned.
func RunDemo(ctx context.Context, serverTr, clientTr transport.Datagram, cfg DemoConfig) (Report, error) {
	d := &demo{cfg: cfg}

	d.server = socket.New(serverTr, append(slices.Clone(cfg.Options),
		socket.WithObserver(demoServer{d: d}),
		socket.WithAcceptor(func(from transport.Addr, token json.RawMessage) (any, error) {
			var t DemoToken
			if err := json.Unmarshal(token, &t); err != nil {
				return nil, fmt.Errorf("bad token from %s: %w", from, err)
			}
			return Welcome{Server: "rudp-demo", Version: t.Version}, nil
		}),
	)...)
	d.client = socket.New(clientTr, append(slices.Clone(cfg.Options), socket.WithObserver(demoClient{d: d}))...)

	if err := d.server.Listen(); err != nil {
		d.server.Close(socket.CodeNormal)
		d.client.Close(socket.CodeNormal)
		return Report{}, err
	}

	<-serverTr.Ready()
	<-clientTr.Ready()
	if err := d.server.Broadcast("Hello from Server", ""); err != nil {
		util.LogWarning("server broadcast failed: %v", err)
	}
	if err := d.client.Broadcast("Hello from Client", ""); err != nil {
		util.LogWarning("client broadcast failed: %v", err)
	}

	token := DemoToken{Version: 5, ID: "cl", Name: "Demo Client"}
	if err := d.client.Connect(cfg.ServerAddr, token); err != nil {
		d.server.Close(socket.CodeNormal)
		d.client.Close(socket.CodeNormal)
		return Report{}, err
	}

	select {
	case <-d.server.Done():
	case <-ctx.Done():
	}
	d.client.Close(socket.CodeNormal)
	d.server.Close(socket.CodeNormal)
	<-d.client.Done()
	<-d.server.Done()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.report.Version = d.client.Version()
	return d.report, nil
}
