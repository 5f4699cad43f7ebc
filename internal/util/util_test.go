package util

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v) = %q, want %q", tc.in, got, tc.want)
		}
		if len(formatBytes(tc.in)) != 8 {
			t.Errorf("formatBytes(%v) is not 8 chars wide", tc.in)
		}
	}
}

func TestPeerTagStable(t *testing.T) {
	a := PeerTag("127.0.0.1:9000")
	if a != PeerTag("127.0.0.1:9000") {
		t.Fatalf("PeerTag is not deterministic")
	}
	if a == PeerTag("127.0.0.1:9001") {
		t.Errorf("PeerTag collides for neighbouring ports")
	}
}

func TestMetricsHandler(t *testing.T) {
	Stats.AddSent("MESSAGE", 100)
	Stats.AddDropped("bad-marker")
	Stats.AddRetransmit()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`rudp_frames_sent_total{type="MESSAGE"}`,
		`rudp_frames_dropped_total{reason="bad-marker"}`,
		"rudp_retransmissions_total",
		"rudp_bytes_sent_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
