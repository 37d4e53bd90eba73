package mux

import "sync"

// outbox runs writes requested by the read loop, in order, on a
// goroutine of its own so the read loop never waits on the transport.
type outbox struct {
	mu    sync.Mutex
	queue []func() error
	wake  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) push(fn func() error) {
	o.mu.Lock()
	o.queue = append(o.queue, fn)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) pop() func() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	fn := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return fn
}

// run executes queued writes until done is closed or a write fails.
func (o *outbox) run(done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case <-o.wake:
		}
		for fn := o.pop(); fn != nil; fn = o.pop() {
			if err := fn(); err != nil {
				return err
			}
		}
	}
}
