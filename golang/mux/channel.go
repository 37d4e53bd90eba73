package mux

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/manifold/qmux/golang/mux/codec"
)

type channelDirection uint8

const (
	channelInbound channelDirection = iota
	channelOutbound
)

type channelState uint8

const (
	stateOpening channelState = iota
	stateOpen
	stateClosing
	stateClosed
)

func (s channelState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// A Channel is an ordered, reliable, flow-controlled, duplex stream
// that is multiplexed over a session.
type Channel struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc

	// R/O after creation
	localID   uint32
	direction channelDirection

	// maxIncomingPayload is the largest data payload accepted from
	// the peer. The wire packet is 9 bytes larger.
	maxIncomingPayload uint32

	// mu guards the handshake and close state below.
	mu               sync.Mutex
	state            channelState
	remoteID         uint32
	maxRemotePayload uint32
	sentEOF          bool
	sentClose        bool
	gotEOF           bool
	gotClose         bool
	abandoned        bool // Open gave up before the handshake resolved
	openErr          error

	// writeMu serializes packets sent on behalf of this channel so no
	// data can follow a close. It is never taken by the read loop.
	writeMu sync.Mutex

	// thread-safe data
	remoteWin *sendWindow
	myWin     *recvWindow
	pending   *buffer

	ready        chan struct{} // closed once the open handshake resolves
	done         chan struct{} // closed by shutdown
	shutdownOnce sync.Once
}

// ID returns the local id of the channel, unique within the session
// while the channel is open.
func (c *Channel) ID() uint32 {
	return c.localID
}

// RemoteID returns the id the peer uses for this channel.
func (c *Channel) RemoteID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

// Context is canceled when the channel is shut down.
func (c *Channel) Context() context.Context {
	return c.ctx
}

func (c *Channel) Session() *Session {
	return c.session
}

func (c *Channel) LocalAddr() net.Addr {
	return c.session.LocalAddr()
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.session.RemoteAddr()
}

// Read reads up to len(data) bytes from the channel.
func (c *Channel) Read(data []byte) (int, error) {
	return c.ReadContext(c.ctx, data)
}

// ReadContext reads up to len(data) bytes from the channel, waiting
// until at least one byte, the end of the stream or the expiry of ctx.
func (c *Channel) ReadContext(ctx context.Context, data []byte) (int, error) {
	n, err := c.pending.read(ctx, data)
	if n > 0 {
		if adjust := c.myWin.grant(uint32(n)); adjust > 0 {
			// Failing to replenish the window means the channel or
			// the session is going away; the data read is still
			// valid.
			if werr := c.writePacket(codec.WindowAdjustMessage{AdditionalBytes: adjust}); werr != nil {
				c.session.log.Debug("window adjust not sent",
					zap.Uint32("channel", c.localID), zap.Error(werr))
			}
		}
	}
	if n == 0 && errors.Is(err, context.Canceled) && ctx == c.ctx {
		// shutdown cancels the channel context after closing the
		// buffer, so what is left can be read without waiting.
		return c.pending.read(context.Background(), data)
	}
	return n, err
}

// Write writes len(data) bytes to the channel.
func (c *Channel) Write(data []byte) (int, error) {
	return c.WriteContext(c.ctx, data)
}

// WriteContext writes data in chunks no larger than the peer's max
// payload, waiting for window credit as needed. It returns once every
// chunk has been handed to the transport.
func (c *Channel) WriteContext(ctx context.Context, data []byte) (n int, err error) {
	maxPayload, err := c.writable()
	if err != nil {
		return 0, err
	}
	for len(data) > 0 {
		space := maxPayload
		if len(data) < int(space) {
			space = uint32(len(data))
		}
		if space, err = c.remoteWin.reserve(ctx, space); err != nil {
			if errors.Is(err, context.Canceled) && c.ctx.Err() != nil {
				err = c.closedErr()
			}
			return n, err
		}

		todo := data[:space]
		if err = c.writePacket(codec.DataMessage{Length: space, Data: todo}); err != nil {
			return n, err
		}
		n += len(todo)
		data = data[len(todo):]
	}
	return n, nil
}

func (c *Channel) writable() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sentEOF || c.sentClose || c.gotClose || c.state == stateClosed {
		return 0, ErrClosedForWriting
	}
	if c.maxRemotePayload == 0 {
		return math.MaxUint32, nil
	}
	return c.maxRemotePayload, nil
}

// closedErr is returned to writers once the channel has been shut
// down.
func (c *Channel) closedErr() error {
	if err := c.session.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	return ErrClosedForWriting
}

// CloseWrite signals the end of sending in-band data. The other side
// may still send data.
func (c *Channel) CloseWrite() error {
	err := c.writePacket(codec.EOFMessage{})
	if err == errAlreadySent {
		return nil
	}
	return err
}

// Close signals end of channel use and waits for the peer to
// acknowledge. No data may be sent after this call and unread data is
// discarded.
func (c *Channel) Close() error {
	return c.CloseContext(context.Background())
}

// CloseContext is Close bounded by ctx. If ctx expires first the
// channel remains closing and is released when the peer's close
// arrives.
func (c *Channel) CloseContext(ctx context.Context) error {
	err := c.writePacket(codec.CloseMessage{})
	c.pending.reset()
	switch {
	case err == nil, err == errAlreadySent, errors.Is(err, ErrClosedForWriting):
	default:
		return err
	}

	c.mu.Lock()
	gotClose := c.gotClose
	c.mu.Unlock()
	if gotClose {
		c.shutdown(nil)
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errAlreadySent = errors.New("qmux: already sent")

// writePacket stamps msg with the remote id and sends it, updating the
// half-close flags. Nothing is sent once a close has gone out.
func (c *Channel) writePacket(msg codec.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.sentClose {
		c.mu.Unlock()
		if _, ok := msg.(codec.CloseMessage); ok {
			return errAlreadySent
		}
		return ErrClosedForWriting
	}
	if c.state == stateClosed || c.state == stateOpening {
		c.mu.Unlock()
		return ErrClosedForWriting
	}
	remoteID := c.remoteID
	switch m := msg.(type) {
	case codec.DataMessage:
		if c.sentEOF || c.gotClose {
			c.mu.Unlock()
			return ErrClosedForWriting
		}
		m.ChannelID = remoteID
		msg = m
	case codec.WindowAdjustMessage:
		if c.gotClose {
			c.mu.Unlock()
			return nil
		}
		m.ChannelID = remoteID
		msg = m
	case codec.EOFMessage:
		if c.sentEOF {
			c.mu.Unlock()
			return errAlreadySent
		}
		c.sentEOF = true
		msg = codec.EOFMessage{ChannelID: remoteID}
	case codec.CloseMessage:
		c.sentClose = true
		c.state = stateClosing
		msg = codec.CloseMessage{ChannelID: remoteID}
	}
	c.mu.Unlock()

	return c.session.send(msg)
}

// shutdown releases the channel: the slot is freed, readers see EOF
// once the buffer is drained, writers and a pending Open fail with err.
func (c *Channel) shutdown(err error) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = stateClosed
		if prev == stateOpening && c.openErr == nil {
			c.openErr = err
			if c.openErr == nil {
				c.openErr = ErrSessionClosed
			}
		}
		c.mu.Unlock()

		c.session.chans.remove(c.localID, c)
		c.pending.closeRead()
		if err == nil {
			err = ErrClosedForWriting
		}
		c.remoteWin.close(err)
		if prev == stateOpening {
			close(c.ready)
		}
		close(c.done)
		c.cancel()

		c.session.log.Debug("channel closed",
			zap.Uint32("channel", c.localID), zap.Stringer("from", prev))
	})
}

// abandon marks an outbound channel whose Open gave up. It reports
// false if the handshake already resolved.
func (c *Channel) abandon() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpening {
		return false
	}
	c.abandoned = true
	return true
}

func (c *Channel) handlePacket(msg codec.Message) error {
	switch msg := msg.(type) {
	case codec.DataMessage:
		return c.handleData(msg)
	case codec.EOFMessage:
		return c.handleEOF()
	case codec.CloseMessage:
		return c.handleClose()
	case codec.OpenFailureMessage:
		return c.handleOpenFailure()
	case codec.OpenConfirmMessage:
		return c.handleOpenConfirm(msg)
	case codec.WindowAdjustMessage:
		if !c.remoteWin.add(msg.AdditionalBytes) {
			return fmt.Errorf("%w: invalid window update for %d bytes", ErrProtocolViolation, msg.AdditionalBytes)
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected message %s", ErrProtocolViolation, msg)
	}
}

func (c *Channel) handleData(msg codec.DataMessage) error {
	length := uint32(len(msg.Data))

	c.mu.Lock()
	state, gotEOF, gotClose := c.state, c.gotEOF, c.gotClose
	c.mu.Unlock()
	switch {
	case state == stateOpening:
		return fmt.Errorf("%w: data on channel %d before open confirmation", ErrProtocolViolation, c.localID)
	case gotEOF || gotClose:
		return fmt.Errorf("%w: data on channel %d after eof", ErrProtocolViolation, c.localID)
	}
	if length > c.maxIncomingPayload {
		return fmt.Errorf("%w: incoming packet of %d bytes exceeds maximum payload size %d",
			ErrProtocolViolation, length, c.maxIncomingPayload)
	}
	if err := c.myWin.consume(length); err != nil {
		return err
	}
	c.pending.write(msg.Data)
	return nil
}

func (c *Channel) handleEOF() error {
	c.mu.Lock()
	if c.state == stateOpening {
		c.mu.Unlock()
		return fmt.Errorf("%w: eof on channel %d before open confirmation", ErrProtocolViolation, c.localID)
	}
	c.gotEOF = true
	c.mu.Unlock()
	c.pending.closeRead()
	return nil
}

func (c *Channel) handleClose() error {
	c.mu.Lock()
	if c.state == stateOpening {
		c.mu.Unlock()
		return fmt.Errorf("%w: close on channel %d before open confirmation", ErrProtocolViolation, c.localID)
	}
	c.gotClose = true
	sentClose := c.sentClose
	c.mu.Unlock()

	c.pending.closeRead()
	c.remoteWin.close(ErrClosedForWriting)
	if sentClose {
		c.shutdown(nil)
		return nil
	}
	// The peer closed first: answer from the outbox and release the
	// channel once the answer is out.
	c.session.outbox.push(func() error {
		err := c.writePacket(codec.CloseMessage{})
		c.shutdown(nil)
		if err == errAlreadySent || errors.Is(err, ErrClosedForWriting) {
			return nil
		}
		return err
	})
	return nil
}

func (c *Channel) responseMessageReceived() error {
	if c.direction == channelInbound {
		return fmt.Errorf("%w: channel response message received on inbound channel %d", ErrProtocolViolation, c.localID)
	}
	if c.state != stateOpening {
		return fmt.Errorf("%w: channel response message received on %s channel %d", ErrProtocolViolation, c.state, c.localID)
	}
	return nil
}

func (c *Channel) handleOpenFailure() error {
	c.mu.Lock()
	if err := c.responseMessageReceived(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.openErr = ErrOpenFailed
	c.mu.Unlock()
	c.shutdown(nil)
	return nil
}

func (c *Channel) handleOpenConfirm(msg codec.OpenConfirmMessage) error {
	if msg.MaxPacketSize < MinPacketLength || msg.MaxPacketSize > MaxDeclaredPayload {
		return fmt.Errorf("%w: %d from peer", ErrInvalidMaxPacketSize, msg.MaxPacketSize)
	}

	c.mu.Lock()
	if err := c.responseMessageReceived(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.remoteID = msg.SenderID
	c.maxRemotePayload = msg.MaxPacketSize
	c.state = stateOpen
	abandoned := c.abandoned
	c.mu.Unlock()

	c.remoteWin.add(msg.WindowSize)
	close(c.ready)

	if abandoned {
		c.session.log.Debug("closing abandoned channel", zap.Uint32("channel", c.localID))
		c.pending.reset()
		c.session.outbox.push(func() error {
			err := c.writePacket(codec.CloseMessage{})
			if err == errAlreadySent || errors.Is(err, ErrClosedForWriting) {
				return nil
			}
			return err
		})
	}
	return nil
}
