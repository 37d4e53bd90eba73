package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/manifold/qmux/golang/mux/codec"
)

// Session multiplexes channels over a single connection. It does
// nothing until Serve is called.
type Session struct {
	conn io.ReadWriteCloser
	cfg  Config
	log  *zap.Logger

	enc *codec.Encoder
	dec *codec.Decoder

	chans  chanList
	outbox *outbox
	stats  counters

	incomingMu   sync.Mutex
	incoming     []*Channel
	incomingWake chan struct{}
	queued       int // incoming plus confirms not yet written

	ctx    context.Context
	cancel context.CancelFunc

	serving   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewSession returns a session that runs over conn. A nil cfg selects
// the defaults.
func NewSession(conn io.ReadWriteCloser, cfg *Config) *Session {
	c := cfg.withDefaults()
	s := &Session{
		conn:         conn,
		cfg:          c,
		log:          c.Logger.Named("qmux"),
		enc:          codec.NewEncoder(conn),
		dec:          codec.NewDecoder(conn),
		outbox:       newOutbox(),
		incomingWake: make(chan struct{}),
		done:         make(chan struct{}),
	}
	s.dec.MaxDataLength = c.MaxPacketSize
	if addr := s.RemoteAddr(); addr != nil {
		s.log = s.log.With(zap.Stringer("remote", addr))
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Serve runs the read loop and the reply writer until the session is
// torn down. It returns nil after the peer hangs up cleanly or Close
// is called, ctx.Err() if ctx ends first and the fatal error
// otherwise.
func (s *Session) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.readLoop()
		s.teardown(err)
		return err
	})
	g.Go(func() error {
		err := s.outbox.run(s.done)
		if err != nil {
			s.teardown(err)
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-s.done:
			return nil
		case <-gctx.Done():
		}
		if err := ctx.Err(); err != nil {
			s.teardown(err)
			return err
		}
		return nil
	})
	_ = g.Wait()
	return s.Err()
}

func (s *Session) readLoop() error {
	for {
		msg, err := s.dec.Decode()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if err == io.EOF {
				s.log.Debug("connection closed by peer")
				return nil
			}
			if errors.Is(err, codec.ErrDataTooLarge) {
				err = fmt.Errorf("%w: %w", ErrProtocolViolation, err)
			}
			return err
		}
		s.stats.received(msg)
		if err := s.dispatch(msg); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(msg codec.Message) error {
	if open, ok := msg.(codec.OpenMessage); ok {
		return s.handleOpen(open)
	}
	id, _ := msg.Channel()
	ch := s.chans.getChan(id)
	if ch == nil {
		return fmt.Errorf("%w: %d for %s", ErrUnknownChannel, id, msg)
	}
	return ch.handlePacket(msg)
}

func (s *Session) handleOpen(msg codec.OpenMessage) error {
	if msg.MaxPacketSize < MinPacketLength || msg.MaxPacketSize > MaxDeclaredPayload {
		s.log.Debug("rejecting channel", zap.Uint32("remote_channel", msg.SenderID),
			zap.Error(fmt.Errorf("%w: %d", ErrInvalidMaxPacketSize, msg.MaxPacketSize)))
		s.reject(msg.SenderID)
		return nil
	}
	if !s.reserveIncoming() {
		s.log.Debug("rejecting channel, accept backlog full", zap.Uint32("remote_channel", msg.SenderID))
		s.reject(msg.SenderID)
		return nil
	}

	ch := s.newChannel(channelInbound)
	ch.remoteID = msg.SenderID
	ch.maxRemotePayload = msg.MaxPacketSize
	ch.state = stateOpen
	ch.remoteWin.add(msg.WindowSize)
	if _, err := s.chans.add(ch); err != nil {
		s.releaseIncoming()
		return nil
	}

	confirm := codec.OpenConfirmMessage{
		ChannelID:     msg.SenderID,
		SenderID:      ch.localID,
		WindowSize:    s.cfg.WindowSize,
		MaxPacketSize: ch.maxIncomingPayload,
	}
	s.outbox.push(func() error {
		if err := s.send(confirm); err != nil {
			s.releaseIncoming()
			return err
		}
		s.stats.accepted.Add(1)
		s.log.Debug("channel accepted", zap.Uint32("channel", ch.localID), zap.Uint32("remote_channel", ch.remoteID))
		s.pushIncoming(ch)
		return nil
	})
	return nil
}

func (s *Session) reject(remoteID uint32) {
	s.stats.rejected.Add(1)
	s.outbox.push(func() error {
		return s.send(codec.OpenFailureMessage{ChannelID: remoteID})
	})
}

func (s *Session) reserveIncoming() bool {
	s.incomingMu.Lock()
	defer s.incomingMu.Unlock()
	if s.queued >= s.cfg.AcceptBacklog {
		return false
	}
	s.queued++
	return true
}

func (s *Session) releaseIncoming() {
	s.incomingMu.Lock()
	s.queued--
	s.incomingMu.Unlock()
}

func (s *Session) pushIncoming(ch *Channel) {
	s.incomingMu.Lock()
	defer s.incomingMu.Unlock()
	s.incoming = append(s.incoming, ch)
	close(s.incomingWake)
	s.incomingWake = make(chan struct{})
}

func (s *Session) newChannel(direction channelDirection) *Channel {
	ctx, cancel := context.WithCancel(s.ctx)
	return &Channel{
		session:            s,
		ctx:                ctx,
		cancel:             cancel,
		direction:          direction,
		state:              stateOpening,
		maxIncomingPayload: s.cfg.MaxPacketSize,
		remoteWin:          newSendWindow(),
		myWin:              newRecvWindow(s.cfg.WindowSize),
		pending:            newBuffer(),
		ready:              make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Open establishes a new channel with the other end.
func (s *Session) Open(ctx context.Context) (*Channel, error) {
	ch := s.newChannel(channelOutbound)
	if _, err := s.chans.add(ch); err != nil {
		return nil, err
	}

	open := codec.OpenMessage{
		SenderID:      ch.localID,
		WindowSize:    s.cfg.WindowSize,
		MaxPacketSize: ch.maxIncomingPayload,
	}
	if err := s.send(open); err != nil {
		ch.shutdown(err)
		return nil, err
	}

	select {
	case <-ch.ready:
	case <-ctx.Done():
		if ch.abandon() {
			return nil, ctx.Err()
		}
		<-ch.ready
	}

	ch.mu.Lock()
	err := ch.openErr
	ch.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.stats.opened.Add(1)
	s.log.Debug("channel opened", zap.Uint32("channel", ch.localID), zap.Uint32("remote_channel", ch.RemoteID()))
	return ch, nil
}

// Accept waits for and returns the next channel opened by the peer.
// It returns io.EOF once the session has ended cleanly.
func (s *Session) Accept(ctx context.Context) (*Channel, error) {
	for {
		select {
		case <-s.done:
			if err := s.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSessionClosed, err)
			}
			return nil, io.EOF
		default:
		}

		s.incomingMu.Lock()
		if len(s.incoming) > 0 {
			ch := s.incoming[0]
			s.incoming[0] = nil
			s.incoming = s.incoming[1:]
			s.queued--
			s.incomingMu.Unlock()
			return ch, nil
		}
		wake := s.incomingWake
		s.incomingMu.Unlock()

		select {
		case <-wake:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// send writes one frame. A transport failure ends the session.
func (s *Session) send(msg codec.Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if err := s.enc.Encode(msg); err != nil {
		err = fmt.Errorf("qmux: write %s: %w", msg, err)
		s.teardown(err)
		return err
	}
	s.stats.sent(msg)
	return nil
}

// teardown ends the session with err, nil meaning a clean end. Only
// the first call has an effect.
func (s *Session) teardown(err error) (closeErr error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		if err != nil {
			s.log.Warn("session terminated", zap.Error(err))
		} else {
			s.log.Debug("session closed")
		}

		close(s.done)
		closeErr = s.conn.Close()

		chErr := ErrSessionClosed
		if err != nil {
			chErr = fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		for _, ch := range s.chans.dropAll() {
			ch.shutdown(chErr)
		}

		s.incomingMu.Lock()
		s.incoming = nil
		s.incomingMu.Unlock()
		s.cancel()
	})
	return closeErr
}

// Close shuts down all channels and closes the connection. Channels
// see the end of their streams and later Opens fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	return s.teardown(nil)
}

// Wait blocks until the session has ended and returns its terminal
// error.
func (s *Session) Wait() error {
	<-s.done
	return s.Err()
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, nil while it is
// running or after a clean end.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Context is canceled when the session ends.
func (s *Session) Context() context.Context {
	return s.ctx
}

// NumChannels returns the number of channels holding a slot in the
// channel table.
func (s *Session) NumChannels() int {
	return s.chans.len()
}

func (s *Session) Stats() Stats {
	st := s.stats.snapshot()
	st.ChannelsActive = s.NumChannels()
	return st
}

func (s *Session) LocalAddr() net.Addr {
	if conn, ok := s.conn.(net.Conn); ok {
		return conn.LocalAddr()
	}
	return nil
}

func (s *Session) RemoteAddr() net.Addr {
	if conn, ok := s.conn.(net.Conn); ok {
		return conn.RemoteAddr()
	}
	return nil
}
