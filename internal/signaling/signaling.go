package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// EstablishAsHost runs the host side of signaling:
//  1. Start a WS server on wsAddr and print its port and PIN
//  2. Wait for a client holding the PIN
//  3. Create a DataChannel transport and send the offer
//  4. Trickle ICE until the DataChannel opens
//
// The WS server and connection are closed before returning.
func EstablishAsHost(ctx context.Context, wsAddr string) (*transport.DataChannel, error) {
	pin := generatePIN(pinLength)
	srv := newServer(pin)
	wsPort, err := srv.start(wsAddr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nURL  : ws://<host>:%d/ws?pin=%s", wsPort, pin, wsPort, pin),
	)
	util.LogInfo("waiting for a peer to join...")

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.Logf("signaling client connected")

	tr, err := transport.NewDataChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}
	trickle(tr, s)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits once wsConn is closed
	}()

	// The host sends the offer first.
	if err := s.sendOffer(); err != nil {
		tr.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	return await(ctx, tr, errCh)
}

// EstablishAsClient runs the joining side of signaling against wsURL, which
// carries the PIN as a query parameter (ws://host:port/ws?pin=123456).
func EstablishAsClient(ctx context.Context, wsURL string) (*transport.DataChannel, error) {
	util.LogInfo("connecting to signaling server...")
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.Logf("WS connected: %s", wsURL)

	tr, err := transport.NewDataChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}
	trickle(tr, s)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	return await(ctx, tr, errCh)
}

// trickle forwards local ICE candidates to the remote side as they appear.
func trickle(tr *transport.DataChannel, s *sender) {
	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		// Best-effort: a lost candidate only narrows the pair search.
		_ = s.sendCandidate(string(data))
	})
}

func await(ctx context.Context, tr *transport.DataChannel, errCh <-chan error) (*transport.DataChannel, error) {
	select {
	case <-tr.Ready():
		util.Logf("WebRTC DataChannel established, closing WS")
		return tr, nil

	case err := <-errCh:
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}
