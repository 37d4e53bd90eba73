package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrMalformedMessage = errors.New("qmux: malformed message")
	ErrDataTooLarge     = errors.New("qmux: data length exceeds limit")
)

// Decoder frames messages off a byte stream. Every read is exact: a
// stream that ends in the middle of a frame is reported as
// io.ErrUnexpectedEOF rather than a short message.
type Decoder struct {
	r io.Reader

	// MaxDataLength bounds the payload of a data message. Zero means
	// no bound. Oversized frames are rejected before the payload is
	// read.
	MaxDataLength uint32

	header [HeaderLength + 8]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the next message. It returns io.EOF only when the
// stream ends cleanly on a frame boundary.
func (dec *Decoder) Decode() (Message, error) {
	tag := dec.header[:1]
	if _, err := io.ReadFull(dec.r, tag); err != nil {
		return nil, err
	}
	size, ok := payloadSizes[tag[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, tag[0])
	}
	packet := dec.header[:size+1]
	if _, err := io.ReadFull(dec.r, packet[1:]); err != nil {
		return nil, truncated(tag[0], err)
	}
	if tag[0] != msgChannelData {
		return Unmarshal(packet)
	}

	length := binary.BigEndian.Uint32(packet[5:9])
	if dec.MaxDataLength > 0 && length > dec.MaxDataLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrDataTooLarge, length, dec.MaxDataLength)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(dec.r, data); err != nil {
		return nil, truncated(tag[0], err)
	}
	return DataMessage{
		ChannelID: binary.BigEndian.Uint32(packet[1:5]),
		Length:    length,
		Data:      data,
	}, nil
}

func truncated(tag byte, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("qmux: reading message type %d: %w", tag, err)
}

// Unmarshal decodes a single complete frame. The returned data message
// aliases b.
func Unmarshal(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrMalformedMessage)
	}
	size, ok := payloadSizes[b[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %d", ErrMalformedMessage, b[0])
	}
	if len(b) < size+1 {
		return nil, fmt.Errorf("%w: short packet for type %d (%d bytes)", ErrMalformedMessage, b[0], len(b))
	}

	switch b[0] {
	case msgChannelOpen:
		return OpenMessage{
			SenderID:      binary.BigEndian.Uint32(b[1:5]),
			WindowSize:    binary.BigEndian.Uint32(b[5:9]),
			MaxPacketSize: binary.BigEndian.Uint32(b[9:13]),
		}, nil
	case msgChannelOpenConfirm:
		return OpenConfirmMessage{
			ChannelID:     binary.BigEndian.Uint32(b[1:5]),
			SenderID:      binary.BigEndian.Uint32(b[5:9]),
			WindowSize:    binary.BigEndian.Uint32(b[9:13]),
			MaxPacketSize: binary.BigEndian.Uint32(b[13:17]),
		}, nil
	case msgChannelOpenFailure:
		return OpenFailureMessage{ChannelID: binary.BigEndian.Uint32(b[1:5])}, nil
	case msgChannelWindowAdjust:
		return WindowAdjustMessage{
			ChannelID:       binary.BigEndian.Uint32(b[1:5]),
			AdditionalBytes: binary.BigEndian.Uint32(b[5:9]),
		}, nil
	case msgChannelData:
		length := binary.BigEndian.Uint32(b[5:9])
		if uint64(len(b)-HeaderLength) < uint64(length) {
			return nil, fmt.Errorf("%w: data length %d exceeds packet", ErrMalformedMessage, length)
		}
		return DataMessage{
			ChannelID: binary.BigEndian.Uint32(b[1:5]),
			Length:    length,
			Data:      b[HeaderLength : HeaderLength+int(length)],
		}, nil
	case msgChannelEOF:
		return EOFMessage{ChannelID: binary.BigEndian.Uint32(b[1:5])}, nil
	default:
		return CloseMessage{ChannelID: binary.BigEndian.Uint32(b[1:5])}, nil
	}
}
