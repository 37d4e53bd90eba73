package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/net/websocket"

	"github.com/manifold/qmux/golang/mux"
)

func ListenTCP(addr string, cfg *mux.Config) (mux.Listener, error) {
	return listenNet("tcp", addr, cfg)
}

func ListenUnix(addr string, cfg *mux.Config) (mux.Listener, error) {
	return listenNet("unix", addr, cfg)
}

func listenNet(proto, addr string, cfg *mux.Config) (mux.Listener, error) {
	l, err := net.Listen(proto, addr)
	if err != nil {
		return nil, err
	}
	ml := newListener(l)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-ml.closed:
					return
				default:
				}
				select {
				case ml.errs <- err:
				case <-ml.closed:
				}
				return
			}
			ml.deliver(start(conn, cfg))
		}
	}()
	return ml, nil
}

// ListenWS serves qmux sessions over websocket connections with binary
// frames.
func ListenWS(addr string, cfg *mux.Config) (mux.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ml := newListener(l)
	ml.server = &http.Server{
		Addr: addr,
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			ws.PayloadType = websocket.BinaryFrame
			sess := start(ws, cfg)
			ml.deliver(sess)
			// the connection is released when the handler returns
			sess.Wait()
		}),
	}
	go func() {
		if err := ml.server.Serve(l); err != nil && err != http.ErrServerClosed {
			select {
			case ml.errs <- err:
			case <-ml.closed:
			}
		}
	}()
	return ml, nil
}

type listener struct {
	net.Listener
	server *http.Server

	accepted  chan *mux.Session
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newListener(l net.Listener) *listener {
	return &listener{
		Listener: l,
		accepted: make(chan *mux.Session),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// deliver hands sess to Accept, closing it if the listener is closed
// first.
func (l *listener) deliver(sess *mux.Session) {
	select {
	case l.accepted <- sess:
	case <-l.closed:
		sess.Close()
	}
}

func (l *listener) Accept() (*mux.Session, error) {
	select {
	case <-l.closed:
		return nil, io.EOF
	default:
	}
	select {
	case <-l.closed:
		return nil, io.EOF
	case err := <-l.errs:
		return nil, err
	case sess := <-l.accepted:
		return sess, nil
	}
}

func (l *listener) Addr() net.Addr {
	return l.Listener.Addr()
}

func (l *listener) Close() (err error) {
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.server != nil {
			// Shutdown closes the listener too.
			err = l.server.Shutdown(context.Background())
			return
		}
		err = l.Listener.Close()
	})
	return err
}

var _ mux.Listener = (*listener)(nil)

// CloseAll closes every listener, combining the errors.
func CloseAll(listeners ...mux.Listener) error {
	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	return err
}
