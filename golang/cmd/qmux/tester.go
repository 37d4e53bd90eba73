package main

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/manifold/qmux/golang/internal/config"
)

// runTester is the client half of the interop test: the server opens a
// channel and writes to it; the tester reads it to EOF and writes the
// bytes back on a channel of its own.
func runTester(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	sess, err := dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	ch, err := sess.Accept(ctx)
	if err != nil {
		return err
	}
	b, err := io.ReadAll(ch)
	if err != nil {
		return err
	}
	if err := ch.CloseContext(ctx); err != nil {
		return err
	}
	log.Info("received", zap.Int("bytes", len(b)))

	ch, err = sess.Open(ctx)
	if err != nil {
		return err
	}
	if _, err := ch.Write(b); err != nil {
		return err
	}
	// should already be closed by other end
	return ch.CloseContext(ctx)
}
