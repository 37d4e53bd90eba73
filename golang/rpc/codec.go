package rpc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	msgpack "gopkg.in/vmihailenco/msgpack.v2"
)

// MaxFrameSize bounds a single encoded value.
const MaxFrameSize = 1 << 24

var ErrFrameTooLarge = errors.New("rpc: frame too large")

type Encoder interface {
	Encode(v interface{}) error
}

type Decoder interface {
	Decode(v interface{}) error
}

type Codec interface {
	Encoder(w io.Writer) Encoder
	Decoder(r io.Reader) Decoder
}

// length prefixed frame wrapper codec
type frameCodec struct {
	Codec
}

func (c *frameCodec) Encoder(w io.Writer) Encoder {
	return &frameEncoder{
		w: w,
		c: c.Codec,
	}
}

type frameEncoder struct {
	w io.Writer
	c Codec
}

func (e *frameEncoder) Encode(v interface{}) error {
	buf := bytes.NewBuffer(make([]byte, 4, 64))
	if err := e.c.Encoder(buf).Encode(v); err != nil {
		return err
	}
	b := buf.Bytes()
	if len(b)-4 > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b)-4)
	}
	binary.BigEndian.PutUint32(b, uint32(len(b)-4))
	_, err := e.w.Write(b)
	return err
}

func (c *frameCodec) Decoder(r io.Reader) Decoder {
	return &frameDecoder{
		r: r,
		c: c.Codec,
	}
}

type frameDecoder struct {
	r io.Reader
	c Codec
}

func (d *frameDecoder) Decode(v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return d.c.Decoder(bytes.NewReader(buf)).Decode(v)
}

type JSONCodec struct{}

func (c JSONCodec) Encoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (c JSONCodec) Decoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

type MsgpackCodec struct{}

func (c MsgpackCodec) Encoder(w io.Writer) Encoder {
	return msgpackEncoder{msgpack.NewEncoder(w)}
}

func (c MsgpackCodec) Decoder(r io.Reader) Decoder {
	return msgpackDecoder{msgpack.NewDecoder(r)}
}

// msgpack encoders and decoders take variadic values.
type msgpackEncoder struct{ enc *msgpack.Encoder }

func (e msgpackEncoder) Encode(v interface{}) error { return e.enc.Encode(v) }

type msgpackDecoder struct{ dec *msgpack.Decoder }

func (d msgpackDecoder) Decode(v interface{}) error { return d.dec.Decode(v) }

var (
	cborEnc, _ = cbor.CanonicalEncOptions().EncMode()
	cborDec, _ = cbor.DecOptions{}.DecMode()
)

// CBORCodec encodes values in canonical CBOR.
type CBORCodec struct{}

func (c CBORCodec) Encoder(w io.Writer) Encoder {
	return cborEnc.NewEncoder(w)
}

func (c CBORCodec) Decoder(r io.Reader) Decoder {
	return cborDec.NewDecoder(r)
}
