package rpc

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/manifold/qmux/golang/mux"
)

type Handler interface {
	RespondRPC(Responder, *Call)
}

type HandlerFunc func(Responder, *Call)

func (f HandlerFunc) RespondRPC(resp Responder, call *Call) {
	f(resp, call)
}

type Responder interface {
	Header() *ResponseHeader
	Return(interface{}) error
	Hijack(interface{}) (*mux.Channel, error)
}

type ResponseHeader struct {
	Error    *string
	Hijacked bool // after parsing response, keep stream open for whatever protocol
}

// Respond serves a single call arriving on ch.
func Respond(sess *mux.Session, ch *mux.Channel, m *RespondMux) {
	log := m.logger().With(zap.Uint32("channel", ch.ID()))
	codec := &frameCodec{m.codec}
	dec := codec.Decoder(ch)

	resp := &responder{
		ch:     ch,
		c:      codec,
		header: &ResponseHeader{},
	}
	defer func() {
		if !resp.hijacked {
			ch.Close()
		}
	}()

	var call Call
	if err := dec.Decode(&call); err != nil {
		log.Debug("rpc: decoding call", zap.Error(err))
		return
	}
	if err := call.Parse(); err != nil {
		resp.Return(err)
		return
	}

	call.Context = ch.Context()
	call.Decoder = dec
	call.Caller = &caller{
		session: sess,
		codec:   m.codec,
	}

	handler := m.Handler(call.Destination)
	if handler == nil {
		resp.Return(fmt.Errorf("handler does not exist for this destination: %s", call.Destination))
		return
	}
	log.Debug("rpc: call", zap.String("destination", call.Destination))
	handler.RespondRPC(resp, &call)
	if !resp.returned {
		log.Warn("rpc: handler did not respond", zap.String("destination", call.Destination))
	}
}

type responder struct {
	ch       *mux.Channel
	header   *ResponseHeader
	c        Codec
	returned bool
	hijacked bool
}

func (r *responder) Header() *ResponseHeader {
	return r.header
}

func (r *responder) respond(v interface{}) error {
	if r.returned {
		return fmt.Errorf("rpc: response already sent")
	}
	r.returned = true
	enc := r.c.Encoder(r.ch)
	if e, ok := v.(error); ok {
		v = nil
		errStr := e.Error()
		r.header.Error = &errStr
	}
	if err := enc.Encode(r.header); err != nil {
		return err
	}
	return enc.Encode(v)
}

func (r *responder) Return(v interface{}) error {
	if err := r.respond(v); err != nil {
		return err
	}
	return r.ch.CloseWrite()
}

func (r *responder) Hijack(v interface{}) (*mux.Channel, error) {
	r.header.Hijacked = true
	if err := r.respond(v); err != nil {
		return nil, err
	}
	r.hijacked = true
	return r.ch, nil
}

type RespondMux struct {
	handlers map[string]Handler
	codec    Codec
	mu       sync.Mutex

	// Config is used for sessions accepted by ServeHTTP.
	Config *mux.Config
	Logger *zap.Logger
}

var DefaultRespondMux = NewRespondMux(JSONCodec{})

func NewRespondMux(codec Codec) *RespondMux {
	return &RespondMux{
		handlers: make(map[string]Handler),
		codec:    codec,
	}
}

func (m *RespondMux) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

// Bind makes a Handler accessible at a path. Functions are exported
// at path; the methods of other values are exported below it, as
// path/Method.
func (m *RespondMux) Bind(path string, v interface{}) {
	path = strings.TrimPrefix(path, "/")
	h, ok := v.(Handler)
	if !ok {
		h = MustExport(v)
		if !isFunc(v) && path != "" {
			path += "/"
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

func Bind(path string, v interface{}) {
	DefaultRespondMux.Bind(path, v)
}

// Handler returns the handler bound to path, or the one bound to the
// longest prefix of path ending in a slash.
func (m *RespondMux) Handler(path string) Handler {
	path = strings.TrimPrefix(path, "/")
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.handlers[path]; ok {
		return h
	}
	var prefixes []string
	for k := range m.handlers {
		if (k == "" || strings.HasSuffix(k, "/")) && strings.HasPrefix(path, k) {
			prefixes = append(prefixes, k)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return m.handlers[prefixes[0]]
}

// RespondRPC dispatches the call, so a RespondMux can be bound in
// another one.
func (m *RespondMux) RespondRPC(r Responder, c *Call) {
	h := m.Handler(c.Destination)
	if h == nil {
		r.Return(fmt.Errorf("handler does not exist for this destination: %s", c.Destination))
		return
	}
	h.RespondRPC(r, c)
}

// ServeHTTP answers calls on websocket connections.
func (m *RespondMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(ws *websocket.Conn) {
		ws.PayloadType = websocket.BinaryFrame
		sess := mux.NewSession(ws, m.Config)
		go sess.Serve(r.Context())
		(&Server{Mux: m}).Respond(sess)
	}).ServeHTTP(w, r)
}
