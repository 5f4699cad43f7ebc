// Package arq implements stop-and-wait delivery: a per-connection queue of
// chunk descriptors with one frame in flight, retry on timeout, and strict
// in-order reassembly of inbound chunks.
package arq

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rudp/internal/codec"
	"github.com/1ureka/rudp/internal/protocol"
)

// MaxChunks is the largest number of chunks one message may span; the chunk
// countdown travels in a single byte.
const MaxChunks = 256

var ErrPayloadTooLarge = errors.New("arq: payload too large")

// Config holds the delivery tunables of one engine.
type Config struct {
	ChunkSize   int           // maximum payload bytes per frame
	RetryDelay  time.Duration // base retransmission delay
	RetryJitter time.Duration // random extra delay in [0, RetryJitter)
	MaxTries    int           // transmissions of one frame before giving up
}

// Hooks connect an engine to its owner. Send is required; the others may be nil.
type Hooks struct {
	// Send transmits a frame. The engine fills Type, Seq, Ack, Chunk and
	// Payload; the owner stamps Version and Timestamp.
	Send func(f *protocol.Frame)

	// Acked runs after the outstanding descriptor was acknowledged and popped.
	Acked func(d *Descriptor)

	// Exhausted runs when the outstanding frame used up its try budget.
	Exhausted func()
}

// Descriptor is one queued chunk of an outbound message.
type Descriptor struct {
	Type    uint8
	Payload []byte // the whole encoded message, shared by its chunks
	Chunk   uint8  // countdown, 0 = final chunk
	Offset  int
	Length  int
	AckOnly bool
}

// Bytes returns the slice of the message carried by this chunk.
func (d *Descriptor) Bytes() []byte {
	return d.Payload[d.Offset : d.Offset+d.Length]
}

// Result classifies an inbound sequenced frame.
type Result int

const (
	Dropped   Result = iota // out of order, state unchanged
	Duplicate               // already accepted, the peer missed our ack
	Partial                 // accepted, message not complete yet
	Complete                // accepted, message reassembled
)

// Engine is the per-connection delivery state. It is not safe for
// concurrent use: the owner serializes calls, and the Scheduler it is given
// must run timer callbacks under the same serialization.
type Engine struct {
	cfg   Config
	sched Scheduler
	hooks Hooks

	localSeq Seq // last sequence number put on the wire
	localAck Seq // last sequence number accepted from the peer

	queue []*Descriptor
	tries int   // transmissions of queue[0] so far
	timer Timer // non-nil while queue[0] is awaiting its ack
	gen   uint64

	rx Reassembler
}

// New creates an engine. A nil scheduler selects WallClock.
func New(cfg Config, sched Scheduler, hooks Hooks) *Engine {
	if sched == nil {
		sched = WallClock
	}
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 1
	}
	return &Engine{cfg: cfg, sched: sched, hooks: hooks}
}

// LocalSeq returns the sequence number of the last frame sent.
func (e *Engine) LocalSeq() uint8 { return uint8(e.localSeq) }

// LocalAck returns the sequence number of the last frame accepted.
func (e *Engine) LocalAck() uint8 { return uint8(e.localAck) }

// SeedAck sets the last accepted sequence number, so that the next frame
// sent acknowledges seq.
func (e *Engine) SeedAck(seq uint8) { e.localAck = Seq(seq) }

// Pending returns the number of queued descriptors, including the one in flight.
func (e *Engine) Pending() int { return len(e.queue) }

// InFlight reports whether a frame is awaiting its acknowledgement.
func (e *Engine) InFlight() bool { return e.timer != nil }

// Idle reports whether nothing is queued or in flight.
func (e *Engine) Idle() bool { return len(e.queue) == 0 && e.timer == nil }

// Tries returns the number of transmissions of the frame in flight.
func (e *Engine) Tries() int { return e.tries }

// Reassembling reports whether an inbound message is partially received.
func (e *Engine) Reassembling() bool { return e.rx.Pending() }

// Chunks returns how many chunks a payload of n encoded bytes needs.
func (e *Engine) Chunks(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + e.cfg.ChunkSize - 1) / e.cfg.ChunkSize
}

// Enqueue splits an encoded payload into chunk descriptors and appends them
// to the queue. Nothing is sent until Dispatch.
func (e *Engine) Enqueue(typ uint8, payload []byte) error {
	n := e.Chunks(len(payload))
	if n > MaxChunks {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), MaxChunks*e.cfg.ChunkSize)
	}

	for i := 0; i < n; i++ {
		off := i * e.cfg.ChunkSize
		length := min(e.cfg.ChunkSize, len(payload)-off)
		e.queue = append(e.queue, &Descriptor{
			Type:    typ,
			Payload: payload,
			Chunk:   uint8(n - 1 - i),
			Offset:  off,
			Length:  length,
		})
	}
	return nil
}

// Dispatch sends the head of the queue unless a frame is already in flight.
// Ack-only descriptors are sent once and dropped; anything else arms the
// retry timer.
func (e *Engine) Dispatch() {
	for e.timer == nil && len(e.queue) > 0 {
		d := e.queue[0]
		if d.AckOnly {
			e.pop()
			e.transmit(d)
			continue
		}

		if e.tries == 0 {
			e.localSeq = e.localSeq.Next()
		}
		e.tries++
		e.transmit(d)
		e.arm()
	}
}

// Acknowledge handles the ack byte of an inbound frame. It returns true if
// the frame in flight was acknowledged and popped.
func (e *Engine) Acknowledge(ack uint8) bool {
	if e.timer == nil || Seq(ack) != e.localSeq || len(e.queue) == 0 {
		return false
	}

	e.cancel()
	e.tries = 0
	d := e.pop()
	if e.hooks.Acked != nil {
		e.hooks.Acked(d)
	}
	return true
}

// Accept applies the receive window to a sequenced frame. Only the
// successor of the last accepted sequence number is taken; when its chunk
// completes a message, the reassembled bytes and message type are returned.
func (e *Engine) Accept(f *protocol.Frame) (msg []byte, msgType uint8, res Result) {
	seq := Seq(f.Seq)
	switch {
	case seq.Follows(e.localAck):
	case seq == e.localAck:
		return nil, 0, Duplicate
	default:
		return nil, 0, Dropped
	}

	e.localAck = seq
	msg, msgType, done := e.rx.Feed(f.Type, f.Chunk, f.Payload)
	if !done {
		return nil, 0, Partial
	}
	return msg, msgType, Complete
}

// Ack makes sure the peer learns about the current localAck. When the queue
// is empty an ack-only descriptor is queued and dispatched. When a data frame
// is waiting to go out it carries the ack instead. When a frame is in flight
// a bare ack is sent alongside it, leaving the retry state alone.
func (e *Engine) Ack() {
	switch {
	case len(e.queue) == 0:
		e.queue = append(e.queue, &Descriptor{
			Type:    protocol.TypeData,
			Payload: codec.Null,
			Length:  len(codec.Null),
			AckOnly: true,
		})
		e.Dispatch()
	case e.timer == nil:
		e.Dispatch()
	default:
		e.transmit(&Descriptor{
			Type:    protocol.TypeData,
			Payload: codec.Null,
			Length:  len(codec.Null),
			AckOnly: true,
		})
	}
}

// Discard drops every queued descriptor and cancels the retry timer. The
// reassembly buffer is left alone.
func (e *Engine) Discard() {
	e.cancel()
	e.tries = 0
	clear(e.queue)
	e.queue = e.queue[:0]
}

// Reset discards queued output and any partially reassembled input.
func (e *Engine) Reset() {
	e.Discard()
	e.rx.Reset()
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (e *Engine) transmit(d *Descriptor) {
	e.hooks.Send(&protocol.Frame{
		Type:    d.Type,
		Seq:     uint8(e.localSeq),
		Ack:     uint8(e.localAck),
		Chunk:   d.Chunk,
		Payload: d.Bytes(),
	})
}

func (e *Engine) pop() *Descriptor {
	d := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return d
}

// arm schedules the retry timer. Each arm or cancel bumps the generation,
// so a callback that was already waiting for the owner's lock when its
// timer got stopped recognizes itself as stale.
func (e *Engine) arm() {
	e.gen++
	gen := e.gen
	e.timer = e.sched.AfterFunc(retryDelay(e.cfg.RetryDelay, e.cfg.RetryJitter), func() {
		e.fire(gen)
	})
}

func (e *Engine) cancel() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (e *Engine) fire(gen uint64) {
	if gen != e.gen || e.timer == nil || len(e.queue) == 0 {
		return
	}
	e.timer = nil

	if e.tries >= e.cfg.MaxTries {
		e.gen++
		if e.hooks.Exhausted != nil {
			e.hooks.Exhausted()
		}
		return
	}

	e.tries++
	e.transmit(e.queue[0])
	e.arm()
}
