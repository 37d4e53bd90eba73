package mux

import (
	"context"
	"io"
	"sync"
)

// buffer holds received data until the application reads it. At most
// one read may be pending at a time; the pending read is resolved by
// closing its ready channel.
type buffer struct {
	mu sync.Mutex

	chunks [][]byte // in arrival order
	size   int

	eof     bool // no more data will arrive
	discard bool // incoming data is dropped

	reading bool
	ready   chan struct{}
}

func newBuffer() *buffer {
	return &buffer{}
}

// write makes buf available for read. buf must not be modified after
// the call to write.
func (b *buffer) write(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discard || len(buf) == 0 {
		return
	}
	b.chunks = append(b.chunks, buf)
	b.size += len(buf)
	b.wake()
}

// closeRead marks the end of incoming data. Buffered bytes stay
// readable and are followed by io.EOF.
func (b *buffer) closeRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eof = true
	b.wake()
}

// reset drops buffered and future data.
func (b *buffer) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
	b.eof = true
	b.discard = true
	b.wake()
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *buffer) wake() {
	if b.ready != nil {
		close(b.ready)
		b.ready = nil
	}
}

// read copies buffered data into p, waiting for data if none is
// buffered yet. It returns io.EOF once the buffer is drained and
// closed.
func (b *buffer) read(ctx context.Context, p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reading {
		return 0, ErrConcurrentRead
	}
	b.reading = true
	defer func() { b.reading = false }()

	for {
		if b.size > 0 || len(p) == 0 {
			return b.copyOut(p), nil
		}
		if b.eof {
			return 0, io.EOF
		}

		ready := make(chan struct{})
		b.ready = ready
		b.mu.Unlock()

		select {
		case <-ready:
			b.mu.Lock()
		case <-ctx.Done():
			b.mu.Lock()
			if b.ready == ready {
				b.ready = nil
			}
			return 0, ctx.Err()
		}
	}
}

func (b *buffer) copyOut(p []byte) int {
	n := 0
	for len(p) > 0 && len(b.chunks) > 0 {
		r := copy(p, b.chunks[0])
		p = p[r:]
		n += r
		if r == len(b.chunks[0]) {
			b.chunks[0] = nil
			b.chunks = b.chunks[1:]
		} else {
			b.chunks[0] = b.chunks[0][r:]
		}
	}
	b.size -= n
	return n
}
