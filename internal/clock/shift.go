package clock

// WindowSize is the number of shift samples kept by a ShiftEstimator.
const WindowSize = 9

// ShiftEstimator keeps a rolling window of observed offsets between the
// local clock and a peer's clock. The reported value is the sample in the
// middle of the window in arrival order.
//
// The zero value is ready to use. It is not safe for concurrent use.
type ShiftEstimator struct {
	samples [WindowSize]int64
	oldest  int
	primed  bool
}

// Observe records the offset seen on one inbound frame. The first sample
// fills the whole window; later samples evict the oldest one.
func (e *ShiftEstimator) Observe(localNow, senderTimestamp int64) {
	shift := localNow - senderTimestamp
	if !e.primed {
		for i := range e.samples {
			e.samples[i] = shift
		}
		e.primed = true
		return
	}
	e.samples[e.oldest] = shift
	e.oldest = (e.oldest + 1) % WindowSize
}

// Shift returns the current estimate in milliseconds, or 0 before any
// sample was observed.
func (e *ShiftEstimator) Shift() int64 {
	return e.samples[(e.oldest+WindowSize/2)%WindowSize]
}

// Primed reports whether at least one sample was observed.
func (e *ShiftEstimator) Primed() bool {
	return e.primed
}
