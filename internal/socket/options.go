package socket

import (
	"time"

	"github.com/1ureka/rudp/internal/arq"
	"github.com/1ureka/rudp/internal/clock"
)

// Defaults for the protocol tunables.
const (
	DefaultChunkSize     = 960
	DefaultRetryDelay    = 300 * time.Millisecond
	DefaultRetryJitter   = 200 * time.Millisecond
	DefaultMaxTries      = 5
	DefaultChildMaxTries = 8
	DefaultVersion       = 1
)

type options struct {
	chunkSize     int
	retryDelay    time.Duration
	retryJitter   time.Duration
	maxTries      int
	childMaxTries int
	version       uint8

	observer  Observer
	acceptor  Acceptor
	scheduler arq.Scheduler
	now       func() int64
}

func defaultOptions() options {
	return options{
		chunkSize:     DefaultChunkSize,
		retryDelay:    DefaultRetryDelay,
		retryJitter:   DefaultRetryJitter,
		maxTries:      DefaultMaxTries,
		childMaxTries: DefaultChildMaxTries,
		version:       DefaultVersion,
		observer:      NopObserver{},
		scheduler:     arq.WallClock,
		now:           clock.Now,
	}
}

// Option configures a Socket.
type Option func(*options)

// WithChunkSize sets the maximum payload bytes per frame.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithRetry sets the retransmission delay: base plus up to jitter.
func WithRetry(base, jitter time.Duration) Option {
	return func(o *options) {
		o.retryDelay = base
		o.retryJitter = jitter
	}
}

// WithMaxTries sets how many times a client transmits a frame before the
// connection is given up with CodeNoResponse.
func WithMaxTries(n int) Option {
	return func(o *options) { o.maxTries = n }
}

// WithChildMaxTries is WithMaxTries for connections accepted by a listener.
func WithChildMaxTries(n int) Option {
	return func(o *options) { o.childMaxTries = n }
}

// WithVersion sets the protocol version advertised by this endpoint.
func WithVersion(v uint8) Option {
	return func(o *options) { o.version = v }
}

// WithObserver sets the event observer. A nil observer drops all events.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs == nil {
			obs = NopObserver{}
		}
		o.observer = obs
	}
}

// WithAcceptor sets the handshake callback. Listen requires one.
func WithAcceptor(fn Acceptor) Option {
	return func(o *options) { o.acceptor = fn }
}

// WithScheduler replaces the timer source used for retries.
func WithScheduler(s arq.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithClock replaces the millisecond clock stamped into frames.
func WithClock(now func() int64) Option {
	return func(o *options) { o.now = now }
}

func (o *options) arqConfig(maxTries int) arq.Config {
	return arq.Config{
		ChunkSize:   o.chunkSize,
		RetryDelay:  o.retryDelay,
		RetryJitter: o.retryJitter,
		MaxTries:    maxTries,
	}
}
