package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startServer(t *testing.T, pin string) (*server, int) {
	t.Helper()
	srv := newServer(pin)
	port, err := srv.start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(srv.close)
	return srv, port
}

func TestGeneratePIN(t *testing.T) {
	for range 20 {
		pin := generatePIN(pinLength)
		if len(pin) != pinLength {
			t.Fatalf("len(%q) = %d, want %d", pin, len(pin), pinLength)
		}
		for _, c := range pin {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit %q in PIN %q", c, pin)
			}
		}
	}
}

func TestServerRejectsWrongPIN(t *testing.T) {
	_, port := startServer(t, "123456")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=000000", port), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestServerAcceptsOneClient(t *testing.T) {
	srv, port := startServer(t, "424242")
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws?pin=424242", port)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := connect(ctx, url)
	if err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	defer first.Close()

	accepted, err := srv.waitForClient(ctx)
	if err != nil {
		t.Fatalf("waitForClient failed: %v", err)
	}
	defer accepted.Close()

	// Round trip a message to prove the pair is linked.
	if err := first.WriteJSON(message{Type: msgTypeOffer, SDP: "v=0"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var got message
	if err := accepted.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Type != msgTypeOffer || got.SDP != "v=0" {
		t.Errorf("got %+v", got)
	}

	// A second client is turned away with a policy close.
	second, err := connect(ctx, url)
	if err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	defer second.Close()
	_, _, err = second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("expected policy violation close, got %v", err)
	}
}

func TestWaitForClientHonorsContext(t *testing.T) {
	srv, _ := startServer(t, "111111")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := srv.waitForClient(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
