package mux

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer(t *testing.T) {
	b := newBuffer()
	b.write([]byte("hello "))
	b.write(nil)
	b.write([]byte("world"))
	assert.Equal(t, 11, b.len())

	p := make([]byte, 4)
	n, err := b.read(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "hell", string(p[:n]))

	n, err = b.read(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	p = make([]byte, 32)
	n, err = b.read(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "o world", string(p[:n]))

	b.write([]byte("!"))
	b.closeRead()
	n, err = b.read(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "!", string(p[:n]))
	_, err = b.read(context.Background(), p)
	assert.Equal(t, io.EOF, err)
}

func TestBufferWakesReader(t *testing.T) {
	b := newBuffer()
	got := make(chan string, 1)
	go func() {
		p := make([]byte, 8)
		n, _ := b.read(context.Background(), p)
		got <- string(p[:n])
	}()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.ready != nil
	}, time.Second, time.Millisecond)

	_, err := b.read(context.Background(), make([]byte, 1))
	assert.ErrorIs(t, err, ErrConcurrentRead)

	b.write([]byte("data"))
	assert.Equal(t, "data", <-got)
}

func TestBufferReset(t *testing.T) {
	b := newBuffer()
	b.write([]byte("unread"))
	b.reset()
	b.write([]byte("late"))
	assert.Equal(t, 0, b.len())

	_, err := b.read(context.Background(), make([]byte, 8))
	assert.Equal(t, io.EOF, err)
}

func TestBufferReadContext(t *testing.T) {
	b := newBuffer()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.read(ctx, make([]byte, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// an expired read leaves the slot free
	b.write([]byte("x"))
	n, err := b.read(context.Background(), make([]byte, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
