package main

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/manifold/qmux/golang/internal/config"
)

func runEcho(ctx context.Context, cfg *config.Config, log *zap.Logger, message string) error {
	var in io.Reader = os.Stdin
	if message != "" {
		in = strings.NewReader(message)
	}
	return echo(ctx, cfg, log, in, os.Stdout)
}

// echo sends in over a new channel, half-closes it and copies the reply
// to out.
func echo(ctx context.Context, cfg *config.Config, log *zap.Logger, in io.Reader, out io.Writer) error {
	sess, err := dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	ch, err := sess.Open(ctx)
	if err != nil {
		return err
	}
	log.Debug("channel opened", zap.Uint32("channel", ch.ID()))

	var g errgroup.Group
	g.Go(func() error {
		if _, err := io.Copy(ch, in); err != nil {
			return err
		}
		return ch.CloseWrite()
	})
	g.Go(func() error {
		_, err := io.Copy(out, ch)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ch.CloseContext(ctx)
}
