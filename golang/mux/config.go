package mux

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	// MinPacketLength is the smallest max payload a peer may declare.
	MinPacketLength = 9

	// MaxPacketSizeDefault is the largest payload carried by a single
	// data message. As per RFC 4253, section 6.1, 32k is also the
	// minimum.
	MaxPacketSizeDefault = 1 << 15

	// WindowSizeDefault follows OpenSSH.
	WindowSizeDefault = 64 * MaxPacketSizeDefault

	// MaxDeclaredPayload is the largest max payload a peer may declare
	// in an open or confirm message.
	MaxDeclaredPayload = 1 << 30

	// AcceptBacklogDefault bounds the channels waiting in Accept.
	AcceptBacklogDefault = 256
)

// Config holds the tunables of a session. The zero value of a field
// selects its default.
type Config struct {
	// WindowSize is the receive window advertised for every channel.
	WindowSize uint32

	// MaxPacketSize is the largest data payload this side accepts.
	MaxPacketSize uint32

	// AcceptBacklog is the number of peer-opened channels that may
	// wait for Accept before further opens are refused.
	AcceptBacklog int

	Logger *zap.Logger
}

func DefaultConfig() *Config {
	return &Config{
		WindowSize:    WindowSizeDefault,
		MaxPacketSize: MaxPacketSizeDefault,
		AcceptBacklog: AcceptBacklogDefault,
		Logger:        zap.NewNop(),
	}
}

// Validate checks that the configured limits can be announced to a
// peer.
func (c *Config) Validate() error {
	if c.MaxPacketSize != 0 && (c.MaxPacketSize < MinPacketLength || c.MaxPacketSize > MaxDeclaredPayload) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidMaxPacketSize,
			c.MaxPacketSize, MinPacketLength, MaxDeclaredPayload)
	}
	if c.AcceptBacklog < 0 {
		return fmt.Errorf("qmux: negative accept backlog %d", c.AcceptBacklog)
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *DefaultConfig()
	if c == nil {
		return out
	}
	if c.WindowSize != 0 {
		out.WindowSize = c.WindowSize
	}
	if c.MaxPacketSize != 0 {
		out.MaxPacketSize = c.MaxPacketSize
	}
	if c.AcceptBacklog != 0 {
		out.AcceptBacklog = c.AcceptBacklog
	}
	if c.Logger != nil {
		out.Logger = c.Logger
	}
	return out
}
