package mux

import (
	"context"
	"fmt"
	"sync"
)

// sendWindow represents the credit available to writers of a
// channel. It is replenished by the peer's window adjust messages.
type sendWindow struct {
	mu      sync.Mutex
	win     uint32 // RFC 4254 5.2 says the window size can grow to 2^32-1
	waiters int
	err     error

	// wake is closed and replaced whenever win grows or the window
	// is closed.
	wake chan struct{}
}

func newSendWindow() *sendWindow {
	return &sendWindow{wake: make(chan struct{})}
}

func (w *sendWindow) canSend(n uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err == nil && n <= w.win
}

func (w *sendWindow) consume(n uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.consumeLocked(n)
}

func (w *sendWindow) consumeLocked(n uint32) error {
	if n > w.win {
		return fmt.Errorf("%w: sending %d bytes with %d bytes of credit", ErrProtocolViolation, n, w.win)
	}
	w.win -= n
	return nil
}

// add adds win to the amount of window available for writers. It
// reports false if the window would overflow.
func (w *sendWindow) add(win uint32) bool {
	// a zero sized window adjust is a noop.
	if win == 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.win+win < win {
		return false
	}
	w.win += win
	w.broadcast()
	return true
}

// close fails all current and future reservations with err.
func (w *sendWindow) close(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
		w.broadcast()
	}
}

// reserve takes up to want bytes of credit, blocking while none is
// available. It may return less than requested.
func (w *sendWindow) reserve(ctx context.Context, want uint32) (uint32, error) {
	w.mu.Lock()
	for w.win == 0 && w.err == nil {
		wake := w.wake
		w.waiters++
		w.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			w.mu.Lock()
			w.waiters--
			w.mu.Unlock()
			return 0, ctx.Err()
		}

		w.mu.Lock()
		w.waiters--
	}
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	n := min(want, w.win)
	return n, w.consumeLocked(n)
}

// waiting returns the number of writers blocked on credit.
func (w *sendWindow) waiting() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waiters
}

func (w *sendWindow) available() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.win
}

func (w *sendWindow) broadcast() {
	close(w.wake)
	w.wake = make(chan struct{})
}

// recvWindow tracks the credit this side has advertised to the peer
// and the drained bytes that have not been advertised again yet.
type recvWindow struct {
	mu      sync.Mutex
	size    uint32
	win     uint32
	pending uint32
}

func newRecvWindow(size uint32) *recvWindow {
	return &recvWindow{size: size, win: size}
}

// consume accounts for n bytes of incoming data.
func (w *recvWindow) consume(n uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n > w.win {
		return fmt.Errorf("%w: remote side wrote %d bytes with %d bytes of window", ErrProtocolViolation, n, w.win)
	}
	w.win -= n
	return nil
}

// grant records that n bytes were handed to the application. Once half
// of the window has been drained it returns the amount to advertise in
// a window adjust message, otherwise zero.
func (w *recvWindow) grant(n uint32) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending += n
	threshold := max(w.size/2, 1)
	if w.pending < threshold {
		return 0
	}
	adjust := w.pending
	w.pending = 0
	w.win += adjust
	return adjust
}

func (w *recvWindow) available() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.win
}
