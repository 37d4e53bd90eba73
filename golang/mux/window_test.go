package mux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendWindow(t *testing.T) {
	w := newSendWindow()
	assert.False(t, w.canSend(1))
	assert.True(t, w.add(0))

	require.True(t, w.add(10))
	assert.True(t, w.canSend(10))
	assert.False(t, w.canSend(11))

	assert.ErrorIs(t, w.consume(11), ErrProtocolViolation)
	require.NoError(t, w.consume(4))
	assert.Equal(t, uint32(6), w.available())

	n, err := w.reserve(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), n)
	assert.Equal(t, uint32(0), w.available())

	assert.True(t, w.add(0xFFFFFFFF))
	assert.False(t, w.add(1), "overflow must be refused")
}

func TestSendWindowReserveBlocks(t *testing.T) {
	w := newSendWindow()

	got := make(chan uint32, 1)
	go func() {
		n, err := w.reserve(context.Background(), 8)
		if err == nil {
			got <- n
		}
		close(got)
	}()

	require.Eventually(t, func() bool { return w.waiting() == 1 }, time.Second, time.Millisecond)
	w.add(3)
	assert.Equal(t, uint32(3), <-got)
	assert.Equal(t, 0, w.waiting())
}

func TestSendWindowReserveContext(t *testing.T) {
	w := newSendWindow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := w.reserve(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, w.waiting())
}

func TestSendWindowClose(t *testing.T) {
	w := newSendWindow()
	errc := make(chan error, 1)
	go func() {
		_, err := w.reserve(context.Background(), 1)
		errc <- err
	}()
	require.Eventually(t, func() bool { return w.waiting() == 1 }, time.Second, time.Millisecond)

	closed := errors.New("closed")
	w.close(closed)
	w.close(ErrClosedForWriting)
	assert.Equal(t, closed, <-errc)

	w.add(5)
	_, err := w.reserve(context.Background(), 1)
	assert.Equal(t, closed, err)
	assert.False(t, w.canSend(1))
}

func TestRecvWindow(t *testing.T) {
	w := newRecvWindow(8)
	require.NoError(t, w.consume(8))
	assert.ErrorIs(t, w.consume(1), ErrProtocolViolation)

	assert.Equal(t, uint32(0), w.grant(3))
	assert.Equal(t, uint32(0), w.available())
	assert.Equal(t, uint32(5), w.grant(2), "threshold is half the window")
	assert.Equal(t, uint32(5), w.available())
	assert.Equal(t, uint32(0), w.grant(1))

	tiny := newRecvWindow(1)
	require.NoError(t, tiny.consume(1))
	assert.Equal(t, uint32(1), tiny.grant(1))
}

// The peer never has more than the advertised window in flight as long
// as both sides follow the accounting.
func TestWindowInvariant(t *testing.T) {
	const size = 100
	send, recv := newSendWindow(), newRecvWindow(size)
	send.add(size)

	buffered := uint32(0)
	for i := 0; i < 1000; i++ {
		n, err := send.reserve(context.Background(), 37)
		require.NoError(t, err)
		require.NoError(t, recv.consume(n))
		buffered += n
		require.LessOrEqual(t, buffered, uint32(size))

		drain := min(buffered, 29)
		buffered -= drain
		if adjust := recv.grant(drain); adjust > 0 {
			require.True(t, send.add(adjust))
		}
		if send.available() == 0 {
			// the reader drains everything it holds
			if adjust := recv.grant(buffered); adjust > 0 {
				send.add(adjust)
			}
			buffered = 0
		}
	}
}
