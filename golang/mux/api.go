package mux

import (
	"context"
	"io"
	"net"
)

// Stream is the subset of *Channel that protocols layered on top of a
// session depend on.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// CloseWrite signals the end of sending in-band data. The other
	// side may still send data.
	CloseWrite() error

	ID() uint32
	Context() context.Context
}

// Listener yields sessions for incoming connections.
type Listener interface {
	Close() error
	Addr() net.Addr
	Accept() (*Session, error)
}

var (
	_ Stream             = (*Channel)(nil)
	_ io.ReadWriteCloser = (*Channel)(nil)
)
