package mux

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, (&Config{}).Validate())

	for _, size := range []uint32{MinPacketLength - 1, MaxDeclaredPayload + 1} {
		err := (&Config{MaxPacketSize: size}).Validate()
		assert.ErrorIs(t, err, ErrInvalidMaxPacketSize)
	}
	assert.Error(t, (&Config{AcceptBacklog: -1}).Validate())

	var nilConfig *Config
	c := nilConfig.withDefaults()
	assert.Equal(t, uint32(WindowSizeDefault), c.WindowSize)
	assert.Equal(t, uint32(MaxPacketSizeDefault), c.MaxPacketSize)
	assert.Equal(t, AcceptBacklogDefault, c.AcceptBacklog)
	assert.NotNil(t, c.Logger)

	c = (&Config{WindowSize: 10}).withDefaults()
	assert.Equal(t, uint32(10), c.WindowSize)
	assert.Equal(t, uint32(MaxPacketSizeDefault), c.MaxPacketSize)
}

func TestRetryable(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrClosedForWriting, false},
		{fmt.Errorf("write: %w", ErrConcurrentRead), false},
		{ErrAlreadyServing, false},
		{context.Canceled, false},
		{ErrOpenFailed, true},
		{ErrSessionClosed, true},
		{fmt.Errorf("%w: bad tag", ErrMalformedMessage), true},
		{io.ErrUnexpectedEOF, true},
	} {
		assert.Equal(t, tt.want, Retryable(tt.err), "%v", tt.err)
	}
}
