// Command qmux runs an echo server, an echo client or the interop
// tester over qmux sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/manifold/qmux/golang/internal/config"
	"github.com/manifold/qmux/golang/internal/logging"
	"github.com/manifold/qmux/golang/mux"
	"github.com/manifold/qmux/golang/mux/transport"
)

// flag name to config key
var flagKeys = map[string]string{
	"transport":  "transport",
	"listen":     "listen",
	"addr":       "addr",
	"metrics":    "metrics",
	"window":     "mux.window",
	"max-packet": "mux.max_packet",
	"backlog":    "mux.accept_backlog",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: qmux <command> [flags]

commands:
  serve    echo every channel opened by clients
  echo     send a message through an echo server and print the reply
  tester   accept a channel, read it to EOF and send it back on a new channel

run "qmux <command> -h" for the flags of a command.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	fs.String("transport", "tcp", "transport: tcp|unix|ws")
	fs.String("listen", "127.0.0.1:9998", "address to listen on")
	fs.String("addr", "127.0.0.1:9998", "address to connect to")
	fs.String("metrics", "", "address of the prometheus endpoint (serve only)")
	fs.Uint("window", mux.WindowSizeDefault, "receive window per channel")
	fs.Uint("max-packet", mux.MaxPacketSizeDefault, "largest data payload accepted")
	fs.Int("backlog", mux.AcceptBacklogDefault, "channels waiting for accept")
	fs.String("log-level", "info", "log level: debug|info|warn|error")
	fs.String("log-format", "console", "log format: console|json")
	message := fs.String("message", "", "message to send (echo only, default stdin)")

	switch cmd {
	case "serve", "echo", "tester":
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	fs.Parse(args)

	overrides := map[string]interface{}{}
	fs.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fatalf("config: %v", err)
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, log)
	case "echo":
		err = runEcho(ctx, cfg, log, *message)
	case "tester":
		err = runTester(ctx, cfg, log)
	}
	if err != nil {
		log.Error(cmd+" failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func dial(ctx context.Context, cfg *config.Config, log *zap.Logger) (*mux.Session, error) {
	muxCfg := cfg.MuxConfig(log)
	switch cfg.Transport {
	case "unix":
		return transport.DialUnix(ctx, cfg.Addr, muxCfg)
	case "ws":
		return transport.DialWS(ctx, cfg.Addr, muxCfg)
	default:
		return transport.DialTCP(ctx, cfg.Addr, muxCfg)
	}
}

func listen(cfg *config.Config, log *zap.Logger) (mux.Listener, error) {
	muxCfg := cfg.MuxConfig(log)
	switch cfg.Transport {
	case "unix":
		return transport.ListenUnix(cfg.Listen, muxCfg)
	case "ws":
		return transport.ListenWS(cfg.Listen, muxCfg)
	default:
		return transport.ListenTCP(cfg.Listen, muxCfg)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "qmux: "+format+"\n", args...)
	os.Exit(1)
}
