package mux

import (
	"context"
	"errors"

	"github.com/manifold/qmux/golang/mux/codec"
)

var (
	// Session fatal.
	ErrProtocolViolation    = errors.New("qmux: protocol violation")
	ErrInvalidMaxPacketSize = errors.New("qmux: invalid max packet size")
	ErrUnknownChannel       = errors.New("qmux: invalid channel")
	ErrMalformedMessage     = codec.ErrMalformedMessage

	// Returned to the caller only.
	ErrOpenFailed       = errors.New("qmux: channel open failed on remote side")
	ErrClosedForWriting = errors.New("qmux: channel closed for writing")
	ErrConcurrentRead   = errors.New("qmux: concurrent read on channel")
	ErrSessionClosed    = errors.New("qmux: session closed")
	ErrAlreadyServing   = errors.New("qmux: session already serving")
)

// Retryable reports whether err may go away by retrying at a higher
// level, for example by redialing or opening another channel. Usage
// errors are never retryable.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrClosedForWriting),
		errors.Is(err, ErrConcurrentRead),
		errors.Is(err, ErrAlreadyServing),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
