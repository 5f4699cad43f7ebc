package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Network is an in-process datagram network. Endpoints bound on it exchange
// packets through goroutines with a configurable delay and loss rate, so
// packets may be lost or arrive out of order just like on a real link.
type Network struct {
	mu        sync.Mutex
	endpoints map[Addr]*Endpoint
	nextPort  int

	loss   float64
	delay  time.Duration
	jitter time.Duration
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithLoss drops each packet with probability p.
func WithLoss(p float64) NetworkOption {
	return func(n *Network) { n.loss = p }
}

// WithDelay delays each packet by base plus a random amount in [0, jitter).
func WithDelay(base, jitter time.Duration) NetworkOption {
	return func(n *Network) {
		n.delay = base
		n.jitter = jitter
	}
}

// NewNetwork creates an empty network. Without options delivery is
// immediate and lossless, though still asynchronous.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		endpoints: make(map[Addr]*Endpoint),
		nextPort:  40000,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Listen binds an endpoint on host:port. Port 0 picks a free port.
func (n *Network) Listen(ctx context.Context, host string, port int) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for {
			n.nextPort++
			if _, taken := n.endpoints[Addr{Host: host, Port: n.nextPort}]; !taken {
				port = n.nextPort
				break
			}
		}
	}

	addr := Addr{Host: host, Port: port}
	if _, taken := n.endpoints[addr]; taken {
		return nil, fmt.Errorf("transport: %s already in use", addr)
	}

	eCtx, eCancel := context.WithCancel(ctx)
	e := &Endpoint{
		net:    n,
		addr:   addr,
		ready:  make(chan struct{}),
		ctx:    eCtx,
		cancel: eCancel,
	}
	close(e.ready)
	n.endpoints[addr] = e

	go func() {
		<-eCtx.Done()
		n.unbind(e)
	}()

	return e, nil
}

func (n *Network) unbind(e *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[e.addr] == e {
		delete(n.endpoints, e.addr)
	}
}

// route resolves the receivers of a packet sent to addr.
func (n *Network) route(to Addr) []*Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !to.IsBroadcast() {
		if e, ok := n.endpoints[to]; ok {
			return []*Endpoint{e}
		}
		return nil
	}

	var out []*Endpoint
	for addr, e := range n.endpoints {
		if addr.Port == to.Port {
			out = append(out, e)
		}
	}
	return out
}

func (n *Network) transit() (time.Duration, bool) {
	if n.loss > 0 && rand.Float64() < n.loss {
		return 0, false
	}
	d := n.delay
	if n.jitter > 0 {
		d += rand.N(n.jitter)
	}
	return d, true
}

// Endpoint is a Datagram bound on a Network.
type Endpoint struct {
	handlers

	net  *Network
	addr Addr

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// Send schedules asynchronous delivery to every endpoint matching to.
// Packets to unbound addresses vanish silently.
func (e *Endpoint) Send(data []byte, to Addr) {
	if e.ctx.Err() != nil {
		e.fail(fmt.Errorf("transport: send on closed endpoint %s", e.addr))
		return
	}

	for _, dst := range e.net.route(to) {
		delay, ok := e.net.transit()
		if !ok {
			continue
		}

		pkt := make([]byte, len(data))
		copy(pkt, data)

		go func(dst *Endpoint) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-dst.ctx.Done():
					return
				}
			}
			if dst.ctx.Err() == nil {
				dst.deliver(pkt, e.addr)
			}
		}(dst)
	}
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() Addr { return e.addr }

// Ready is closed from the start.
func (e *Endpoint) Ready() <-chan struct{} { return e.ready }

// Done is closed once the endpoint is closed.
func (e *Endpoint) Done() <-chan struct{} { return e.ctx.Done() }

// Close unbinds the endpoint. Safe to call multiple times.
func (e *Endpoint) Close() error {
	e.cancel()
	e.net.unbind(e)
	return nil
}
