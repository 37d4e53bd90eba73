package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/manifold/qmux/golang/internal/config"
)

func testConfig(t *testing.T, transport string) *config.Config {
	cfg := config.Default()
	cfg.Transport = transport
	cfg.Listen = "127.0.0.1:0"
	if transport == "unix" {
		cfg.Listen = filepath.Join(t.TempDir(), "qmux.sock")
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestEcho(t *testing.T) {
	for _, transport := range []string{"tcp", "unix", "ws"} {
		t.Run(transport, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log := zap.NewNop()
			cfg := testConfig(t, transport)

			l, err := listen(cfg, log)
			require.NoError(t, err)
			collector := newSessionCollector()
			done := make(chan error, 1)
			go func() { done <- acceptLoop(ctx, l, collector, log) }()
			cfg.Addr = l.Addr().String()

			var out bytes.Buffer
			msg := strings.Repeat("hello qmux ", 10000)
			require.NoError(t, echo(ctx, cfg, log, strings.NewReader(msg), &out))
			assert.Equal(t, msg, out.String())

			expected := `
# HELP qmux_channels_accepted_total Channels opened by peers and confirmed.
# TYPE qmux_channels_accepted_total counter
qmux_channels_accepted_total 1
# HELP qmux_channels_rejected_total Channel opens refused.
# TYPE qmux_channels_rejected_total counter
qmux_channels_rejected_total 0
`
			assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
				"qmux_channels_accepted_total", "qmux_channels_rejected_total"))
			assert.Equal(t, 9, testutil.CollectAndCount(collector))

			require.NoError(t, l.Close())
			require.NoError(t, <-done)
		})
	}
}

func TestTester(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log := zap.NewNop()
	cfg := testConfig(t, "tcp")

	l, err := listen(cfg, log)
	require.NoError(t, err)
	defer l.Close()
	cfg.Addr = l.Addr().String()

	var g errgroup.Group
	var echoed []byte
	g.Go(func() error {
		sess, err := l.Accept()
		if err != nil {
			return err
		}
		defer sess.Close()

		ch, err := sess.Open(ctx)
		if err != nil {
			return err
		}
		if _, err := ch.Write([]byte("Hello world")); err != nil {
			return err
		}
		go ch.Close()

		ch, err = sess.Accept(ctx)
		if err != nil {
			return err
		}
		echoed, err = io.ReadAll(ch)
		if err != nil {
			return err
		}
		return ch.CloseContext(ctx)
	})

	require.NoError(t, runTester(ctx, cfg, log))
	require.NoError(t, g.Wait())
	assert.Equal(t, "Hello world", string(echoed))
}

func TestServeShutdown(t *testing.T) {
	cfg := testConfig(t, "tcp")
	cfg.Metrics = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- runServe(ctx, cfg, zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
