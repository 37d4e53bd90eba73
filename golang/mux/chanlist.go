package mux

import "sync"

// chanList is a thread safe channel table. Slots vacated by closed
// channels are recycled through a free list.
type chanList struct {
	// protects concurrent access to chans, free and closed
	sync.Mutex

	// chans are indexed by the local id of the channel, which the
	// other side should send in the ChannelID field.
	chans []*Channel
	free  []uint32

	closed bool
}

// add assigns a local id to ch and stores it. It fails once the table
// has been dropped.
func (c *chanList) add(ch *Channel) (uint32, error) {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return 0, ErrSessionClosed
	}
	var id uint32
	if n := len(c.free); n > 0 {
		id = c.free[n-1]
		c.free = c.free[:n-1]
		c.chans[id] = ch
	} else {
		id = uint32(len(c.chans))
		c.chans = append(c.chans, ch)
	}
	ch.localID = id
	return id, nil
}

// getChan returns the channel for the given ID.
func (c *chanList) getChan(id uint32) *Channel {
	c.Lock()
	defer c.Unlock()
	if id < uint32(len(c.chans)) {
		return c.chans[id]
	}
	return nil
}

// remove frees the slot of ch. It is a noop if the slot holds another
// channel or nothing.
func (c *chanList) remove(id uint32, ch *Channel) {
	c.Lock()
	defer c.Unlock()
	if id < uint32(len(c.chans)) && c.chans[id] == ch {
		c.chans[id] = nil
		c.free = append(c.free, id)
	}
}

// dropAll forgets all channels it knows, returning them in a slice.
// The table accepts no new channels afterwards.
func (c *chanList) dropAll() []*Channel {
	c.Lock()
	defer c.Unlock()
	var r []*Channel

	for _, ch := range c.chans {
		if ch == nil {
			continue
		}
		r = append(r, ch)
	}
	c.chans = nil
	c.free = nil
	c.closed = true
	return r
}

func (c *chanList) len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.chans) - len(c.free)
}
