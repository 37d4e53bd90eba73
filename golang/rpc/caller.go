package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifold/qmux/golang/mux"
)

// ErrRemote wraps errors returned by the remote handler.
var ErrRemote = errors.New("remote")

type Caller interface {
	Call(ctx context.Context, path string, args, reply interface{}) (*Response, error)
}

type Response struct {
	ResponseHeader

	Reply interface{}
	// Channel stays open for the caller when the response was
	// hijacked.
	Channel *mux.Channel
}

type Call struct {
	Destination string

	ObjectPath string          `json:"-" msgpack:"-" cbor:"-"`
	Method     string          `json:"-" msgpack:"-" cbor:"-"`
	Caller     Caller          `json:"-" msgpack:"-" cbor:"-"`
	Decoder    Decoder         `json:"-" msgpack:"-" cbor:"-"`
	Context    context.Context `json:"-" msgpack:"-" cbor:"-"`
}

func (c *Call) Parse() error {
	if len(c.Destination) == 0 {
		return fmt.Errorf("no destination specified")
	}
	if c.Destination[0] == '/' {
		c.Destination = c.Destination[1:]
	}
	parts := strings.Split(c.Destination, "/")
	if len(parts) == 1 {
		c.ObjectPath = "/"
		c.Method = parts[0]
		return nil
	}
	c.ObjectPath = strings.Join(parts[0:len(parts)-1], "/")
	c.Method = parts[len(parts)-1]
	return nil
}

// Decode reads the call arguments into v.
func (c *Call) Decode(v interface{}) error {
	return c.Decoder.Decode(v)
}

type caller struct {
	session *mux.Session
	codec   Codec
}

func NewCaller(session *mux.Session, codec Codec) Caller {
	return &caller{
		session: session,
		codec:   codec,
	}
}

// channelIO binds channel reads and writes to a context.
type channelIO struct {
	ctx context.Context
	ch  *mux.Channel
}

func (c channelIO) Read(p []byte) (int, error)  { return c.ch.ReadContext(c.ctx, p) }
func (c channelIO) Write(p []byte) (int, error) { return c.ch.WriteContext(c.ctx, p) }

func (c *caller) Call(ctx context.Context, path string, args, reply interface{}) (*Response, error) {
	ch, err := c.session.Open(ctx)
	if err != nil {
		return nil, err
	}

	codec := &frameCodec{c.codec}
	rw := channelIO{ctx: ctx, ch: ch}
	enc := codec.Encoder(rw)
	dec := codec.Decoder(rw)

	// request
	if err := enc.Encode(Call{Destination: path}); err != nil {
		ch.Close()
		return nil, err
	}
	if err := enc.Encode(args); err != nil {
		ch.Close()
		return nil, err
	}

	// response
	var header ResponseHeader
	if err := dec.Decode(&header); err != nil {
		ch.Close()
		return nil, err
	}

	if !header.Hijacked {
		defer ch.Close()
	}

	resp := &Response{
		ResponseHeader: header,
		Channel:        ch,
		Reply:          reply,
	}
	if resp.Error != nil {
		return resp, fmt.Errorf("%w: %s", ErrRemote, *resp.Error)
	}

	if reply == nil {
		var discard interface{}
		if err := dec.Decode(&discard); err != nil {
			return resp, err
		}
		return resp, nil
	}
	if err := dec.Decode(resp.Reply); err != nil {
		return resp, err
	}
	return resp, nil
}
