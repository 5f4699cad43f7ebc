package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of connections since process start
	ClosedConns atomic.Int64 // cumulative count of closed connections since process start
	BytesSent   atomic.Int64 // cumulative bytes handed to the transport
	BytesRecv   atomic.Int64 // cumulative bytes received from the transport
	FramesSent  atomic.Int64
	FramesRecv  atomic.Int64
	Retransmits atomic.Int64 // frames sent again after a retry timeout
	Dropped     atomic.Int64 // inbound frames discarded (malformed or out of order)
}

func (s *stats) AddConn() {
	s.TotalConns.Add(1)
	metrics.conns.Inc()
}

func (s *stats) RemoveConn() {
	s.ClosedConns.Add(1)
	metrics.conns.Dec()
}

func (s *stats) AddRetransmit() {
	s.Retransmits.Add(1)
	metrics.retransmits.Inc()
}

// AddSent records one outbound frame of n bytes.
func (s *stats) AddSent(frameType string, n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
	metrics.framesSent.WithLabelValues(frameType).Inc()
	metrics.bytesSent.Add(float64(n))
}

// AddRecv records one inbound datagram of n bytes.
func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
	metrics.bytesRecv.Add(float64(n))
}

// AddDropped records one discarded inbound frame.
func (s *stats) AddDropped(reason string) {
	s.Dropped.Add(1)
	metrics.dropped.WithLabelValues(reason).Inc()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go RunStatsReporter(ctx, interval)
}

// RunStatsReporter is the blocking form of StartStatsReporter, suitable for
// an errgroup. It returns nil when ctx is cancelled.
func RunStatsReporter(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	secs := interval.Seconds()

	var prevSent, prevRecv, prevTotal, prevClosed, prevRetx int64
	for {
		select {
		case <-ticker.C:
			total := Stats.TotalConns.Load()
			closed := Stats.ClosedConns.Load()
			sent := Stats.BytesSent.Load()
			recv := Stats.BytesRecv.Load()
			retx := Stats.Retransmits.Load()

			inS := float64(recv-prevRecv) / secs
			outS := float64(sent-prevSent) / secs
			inC := total - prevTotal
			outC := closed - prevClosed

			if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
				pterm.DefaultLogger.Info(formatStats(inS, outS, inC, outC, retx-prevRetx))
			}

			prevSent = sent
			prevRecv = recv
			prevTotal = total
			prevClosed = closed
			prevRetx = retx

		case <-ctx.Done():
			return nil
		}
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inC, outC, retx int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓ | Retx: %d",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
		retx,
	)
}
