package mux

import (
	"sync/atomic"

	"github.com/manifold/qmux/golang/mux/codec"
)

// Stats is a snapshot of the traffic counters of a session.
type Stats struct {
	FramesIn  uint64
	FramesOut uint64

	// BytesIn and BytesOut count channel payload only.
	BytesIn  uint64
	BytesOut uint64

	ChannelsOpened   uint64 // opened locally and confirmed
	ChannelsAccepted uint64 // opened by the peer and confirmed
	ChannelsRejected uint64 // peer opens answered with a failure
	ChannelsActive   int
}

type counters struct {
	framesIn, framesOut atomic.Uint64
	bytesIn, bytesOut   atomic.Uint64

	opened, accepted, rejected atomic.Uint64
}

func (c *counters) received(msg codec.Message) {
	c.framesIn.Add(1)
	if data, ok := msg.(codec.DataMessage); ok {
		c.bytesIn.Add(uint64(len(data.Data)))
	}
}

func (c *counters) sent(msg codec.Message) {
	c.framesOut.Add(1)
	if data, ok := msg.(codec.DataMessage); ok {
		c.bytesOut.Add(uint64(len(data.Data)))
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		FramesIn:         c.framesIn.Load(),
		FramesOut:        c.framesOut.Load(),
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		ChannelsOpened:   c.opened.Load(),
		ChannelsAccepted: c.accepted.Load(),
		ChannelsRejected: c.rejected.Load(),
	}
}
