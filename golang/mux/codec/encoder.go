package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Encoder writes whole frames to w. Concurrent calls to Encode are
// serialized so frames from different channels never interleave.
type Encoder struct {
	w io.Writer
	sync.Mutex
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (enc *Encoder) Encode(msg Message) error {
	b := Marshal(msg)
	if b == nil {
		return fmt.Errorf("qmux: unable to marshal %T", msg)
	}

	enc.Lock()
	defer enc.Unlock()

	_, err := enc.w.Write(b)
	return err
}

// Marshal returns the wire encoding of msg. A nil or unknown message
// encodes to nil.
func Marshal(msg Message) []byte {
	switch msg := msg.(type) {
	case OpenMessage:
		packet := make([]byte, payloadSizes[msgChannelOpen]+1)
		packet[0] = msgChannelOpen
		binary.BigEndian.PutUint32(packet[1:5], msg.SenderID)
		binary.BigEndian.PutUint32(packet[5:9], msg.WindowSize)
		binary.BigEndian.PutUint32(packet[9:13], msg.MaxPacketSize)
		return packet

	case OpenConfirmMessage:
		packet := make([]byte, payloadSizes[msgChannelOpenConfirm]+1)
		packet[0] = msgChannelOpenConfirm
		binary.BigEndian.PutUint32(packet[1:5], msg.ChannelID)
		binary.BigEndian.PutUint32(packet[5:9], msg.SenderID)
		binary.BigEndian.PutUint32(packet[9:13], msg.WindowSize)
		binary.BigEndian.PutUint32(packet[13:17], msg.MaxPacketSize)
		return packet

	case OpenFailureMessage:
		return channelOnly(msgChannelOpenFailure, msg.ChannelID)

	case WindowAdjustMessage:
		packet := make([]byte, payloadSizes[msgChannelWindowAdjust]+1)
		packet[0] = msgChannelWindowAdjust
		binary.BigEndian.PutUint32(packet[1:5], msg.ChannelID)
		binary.BigEndian.PutUint32(packet[5:9], msg.AdditionalBytes)
		return packet

	case DataMessage:
		packet := make([]byte, HeaderLength+len(msg.Data))
		packet[0] = msgChannelData
		binary.BigEndian.PutUint32(packet[1:5], msg.ChannelID)
		binary.BigEndian.PutUint32(packet[5:9], uint32(len(msg.Data)))
		copy(packet[HeaderLength:], msg.Data)
		return packet

	case EOFMessage:
		return channelOnly(msgChannelEOF, msg.ChannelID)

	case CloseMessage:
		return channelOnly(msgChannelClose, msg.ChannelID)

	default:
		return nil
	}
}

func channelOnly(tag byte, id uint32) []byte {
	packet := make([]byte, payloadSizes[tag]+1)
	packet[0] = tag
	binary.BigEndian.PutUint32(packet[1:5], id)
	return packet
}
