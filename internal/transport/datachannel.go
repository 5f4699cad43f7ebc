package transport

import (
	"context"
	"sync"
	"time"

	"github.com/1ureka/rudp/internal/util"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/webrtc/v4"
)

const closeFlushTimeout = 500 * time.Millisecond

// DataChannel wraps a single PeerConnection + DataChannel pair and exposes
// it as a point-to-point Datagram. Every Send goes to the one remote peer
// regardless of the destination address; inbound datagrams are reported as
// coming from the remote end of the selected ICE candidate pair.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type DataChannel struct {
	handlers

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	sender     *sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	local   Addr
	remote  Addr
}

// NewDataChannel creates a DataChannel transport backed by a new
// PeerConnection and a pre-negotiated channel. The caller performs
// signaling through the exposed methods (CreateOffer / CreateAnswer / …)
// and waits on Ready before handing the transport to a socket.
func NewDataChannel(ctx context.Context) (*DataChannel, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &DataChannel{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
		local:      Addr{Host: "0.0.0.0"},
		remote:     Addr{Host: "0.0.0.0"},
	}

	// DC open gate. The candidate pair is fixed by the time the channel opens.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			t.resolveAddrs()
			close(t.openSignal)
		})
	})

	// DC close → cancel transport context.
	dc.OnClose(func() {
		util.Logf("DataChannel closed")
		tCancel()
	})

	dc.OnError(func(err error) {
		t.fail(err)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.RLock()
		from := t.remote
		t.mu.RUnlock()
		t.deliver(msg.Data, from)
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.Logf("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	// Start the sender goroutine.
	t.sender = newSender(tCtx, dc, t.openSignal, t.fail)

	return t, nil
}

// resolveAddrs records both ends of the selected ICE candidate pair.
func (t *DataChannel) resolveAddrs() {
	pair, err := t.pc.SCTP().Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil {
		util.Logf("no selected candidate pair: %v", err)
		return
	}

	t.mu.Lock()
	t.local = Addr{Host: pair.Local.Address, Port: int(pair.Local.Port)}
	t.remote = Addr{Host: pair.Remote.Address, Port: int(pair.Remote.Port)}
	t.mu.Unlock()
	util.Logf("DataChannel open: %s <-> %s", t.local, t.remote)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open and
// the transport is ready to send and receive.
func (t *DataChannel) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the transport is shut down
// (DataChannel closed or parent context cancelled).
func (t *DataChannel) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection. Datagrams already
// queued get a short grace period to leave first.
func (t *DataChannel) Close() error {
	select {
	case <-t.openSignal:
		t.sender.flush(closeFlushTimeout)
	default:
	}
	t.cancel()

	var result *multierror.Error
	if err := t.dc.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.pc.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// ConnectionState returns the last observed PeerConnection state.
func (t *DataChannel) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// LocalAddr returns the local end of the selected candidate pair.
func (t *DataChannel) LocalAddr() Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

// RemoteAddr returns the remote end of the selected candidate pair. Pass it
// to Connect on the joining side.
func (t *DataChannel) RemoteAddr() Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remote
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *DataChannel) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *DataChannel) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *DataChannel) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *DataChannel) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *DataChannel) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *DataChannel) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send enqueues a datagram for the remote peer. The destination is ignored
// since the channel has exactly one peer.
func (t *DataChannel) Send(data []byte, _ Addr) {
	t.sender.send(t.ctx, data)
}
