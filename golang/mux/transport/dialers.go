package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"golang.org/x/net/websocket"

	"github.com/manifold/qmux/golang/mux"
)

func DialTCP(ctx context.Context, addr string, cfg *mux.Config) (*mux.Session, error) {
	return dialNet(ctx, "tcp", addr, cfg)
}

func DialUnix(ctx context.Context, addr string, cfg *mux.Config) (*mux.Session, error) {
	return dialNet(ctx, "unix", addr, cfg)
}

func dialNet(ctx context.Context, proto, addr string, cfg *mux.Config) (*mux.Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, proto, addr)
	if err != nil {
		return nil, err
	}
	return start(conn, cfg), nil
}

// DialWS connects to a qmux websocket endpoint at addr (host:port)
// using binary frames.
func DialWS(ctx context.Context, addr string, cfg *mux.Config) (*mux.Session, error) {
	wsCfg, err := websocket.NewConfig(fmt.Sprintf("ws://%s/", addr), fmt.Sprintf("http://%s/", addr))
	if err != nil {
		return nil, err
	}
	ws, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return start(ws, cfg), nil
}

// Pipe returns two sessions connected in memory.
func Pipe(cfg *mux.Config) (*mux.Session, *mux.Session) {
	a, b := net.Pipe()
	return start(a, cfg), start(b, cfg)
}

// start returns a session for conn whose read loop is already running.
func start(conn io.ReadWriteCloser, cfg *mux.Config) *mux.Session {
	sess := mux.NewSession(conn, cfg)
	go sess.Serve(context.Background())
	return sess
}
