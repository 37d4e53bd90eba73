package rpc

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/manifold/qmux/golang/mux"
)

type Server struct {
	Mux *RespondMux
}

// Respond answers calls arriving on sess until the session ends.
func (s *Server) Respond(sess *mux.Session) {
	for {
		ch, err := sess.Accept(context.Background())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.Mux.logger().Debug("rpc: session ended", zap.Error(err))
			}
			return
		}
		go Respond(sess, ch, s.Mux)
	}
}

// Serve answers calls on every session accepted from l.
func (s *Server) Serve(l mux.Listener) error {
	for {
		sess, err := l.Accept()
		if err != nil {
			return err
		}
		go s.Respond(sess)
	}
}
