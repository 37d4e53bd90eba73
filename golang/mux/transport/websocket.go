package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/manifold/qmux/golang/mux"
)

// WebsocketConn adapts a message oriented gorilla websocket connection
// to the byte stream a session runs over. Every write is sent as one
// binary message; reads span message boundaries.
type WebsocketConn struct {
	ws *websocket.Conn

	rmu sync.Mutex
	r   io.Reader // current message

	wmu sync.Mutex
}

func NewWebsocketConn(ws *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{ws: ws}
}

func (c *WebsocketConn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for {
		if c.r == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *WebsocketConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame, then closes the underlying connection.
func (c *WebsocketConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *WebsocketConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *WebsocketConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *WebsocketConn) SetDeadline(t time.Time) error {
	return multierr.Combine(c.ws.SetReadDeadline(t), c.ws.SetWriteDeadline(t))
}

func (c *WebsocketConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *WebsocketConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

var _ net.Conn = (*WebsocketConn)(nil)

// DialWebsocket connects to a websocket endpoint given as a ws:// or
// wss:// URL.
func DialWebsocket(ctx context.Context, url string, cfg *mux.Config) (*mux.Session, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return start(NewWebsocketConn(ws), cfg), nil
}

// UpgradeHandler upgrades requests to websocket connections and runs
// fn with a session for each. The session lives until either side
// closes it.
func UpgradeHandler(cfg *mux.Config, fn func(*mux.Session)) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has replied to the client already.
			return
		}
		sess := mux.NewSession(NewWebsocketConn(ws), cfg)
		go fn(sess)
		sess.Serve(r.Context())
	})
}
