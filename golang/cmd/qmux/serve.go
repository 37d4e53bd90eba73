package main

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/manifold/qmux/golang/internal/config"
	"github.com/manifold/qmux/golang/mux"
)

func runServe(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	l, err := listen(cfg, log)
	if err != nil {
		return err
	}
	log.Info("listening", zap.String("transport", cfg.Transport), zap.Stringer("addr", l.Addr()))

	collector := newSessionCollector()
	var metrics *http.Server
	if cfg.Metrics != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		metrics = &http.Server{
			Addr:    cfg.Metrics,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acceptLoop(ctx, l, collector, log)
	})
	if metrics != nil {
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", cfg.Metrics))
			if err := metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		err := l.Close()
		if metrics != nil {
			err = multierr.Append(err, metrics.Close())
		}
		return err
	})
	return g.Wait()
}

func acceptLoop(ctx context.Context, l mux.Listener, collector *sessionCollector, log *zap.Logger) error {
	for {
		sess, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		collector.add(sess)
		go echoSession(ctx, sess, log)
	}
}

// echoSession writes back everything read from each channel of sess
// until the peer half-closes it.
func echoSession(ctx context.Context, sess *mux.Session, log *zap.Logger) {
	defer sess.Close()
	for {
		ch, err := sess.Accept(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn("accept", zap.Error(err))
			}
			return
		}
		go echoStream(ch, log)
	}
}

func echoStream(st mux.Stream, log *zap.Logger) {
	n, err := io.Copy(st, st)
	if err != nil {
		log.Debug("echo", zap.Uint32("channel", st.ID()), zap.Error(err))
	}
	st.CloseWrite()
	st.Close()
	log.Debug("echoed", zap.Uint32("channel", st.ID()), zap.Int64("bytes", n))
}
