package rpc

import (
	"context"

	"github.com/manifold/qmux/golang/mux"
)

// Peer both calls and responds over one session.
type Peer struct {
	*mux.Session

	caller    Caller
	responder *RespondMux
}

func NewPeer(session *mux.Session, codec Codec) *Peer {
	return &Peer{
		Session: session,
		caller: &caller{
			session: session,
			codec:   codec,
		},
		responder: NewRespondMux(codec),
	}
}

// Respond answers calls from the other side until the session ends.
func (p *Peer) Respond() {
	srv := &Server{Mux: p.responder}
	srv.Respond(p.Session)
}

func (p *Peer) Call(ctx context.Context, path string, args, reply interface{}) (*Response, error) {
	return p.caller.Call(ctx, path, args, reply)
}

func (p *Peer) Bind(path string, v interface{}) {
	p.responder.Bind(path, v)
}
