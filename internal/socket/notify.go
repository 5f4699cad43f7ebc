package socket

import "sync"

// notifier delivers observer events in order on its own goroutine. Events
// are queued while the group lock is held and run after it is released, so
// callbacks can use the socket API freely. The queue is unbounded: a slow
// observer delays delivery but never blocks protocol processing.
type notifier struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
	done    chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

// push queues fn. Events pushed after stop are discarded.
func (n *notifier) push(fn func()) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// stop lets the goroutine exit once everything queued so far was delivered.
func (n *notifier) stop() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		stopped := n.stopped
		n.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		if len(batch) == 0 {
			if stopped {
				return
			}
			<-n.wake
		}
	}
}
