// Command posebridge-peer is a stand-in controller for bench testing the
// bridge. It serves the pub/sub protocol, answers clock syncs and
// heartbeats, and sends reset commands typed at its console.
//
// Usage:
//
//	posebridge-peer [flags]
//
// Flags:
//
//	-listen string     Listen address (default ":5810")
//	-capture string    Write a protocol capture to this file
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-interactive       Start the command console (default true)
//
// Examples:
//
//	# Serve on the default port and drive it from the console
//	posebridge-peer
//
//	# Headless, with a capture for posebridge-log
//	posebridge-peer -interactive=false -capture peer.plog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/posebridge/posebridge-go/cmd/posebridge-peer/console"
	"github.com/posebridge/posebridge-go/internal/testpeer"
	"github.com/posebridge/posebridge-go/pkg/config"
	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/wire"
)

type options struct {
	Listen      string
	CapturePath string
	LogLevel    string
	Interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.Listen, "listen", ":5810", "Listen address")
	flag.StringVar(&opts.CapturePath, "capture", "", "Write a protocol capture to this file")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.Interactive, "interactive", true, "Start the command console")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	level, err := config.ParseLevel(opts.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		con *console.Console
		out io.Writer = os.Stderr
	)
	if opts.Interactive {
		if con, err = console.New(); err != nil {
			return err
		}
		out = con.Stdout()
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	var capture log.Logger
	if opts.CapturePath != "" {
		fl, err := log.NewFileLogger(opts.CapturePath)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer fl.Close()
		capture = fl
	}

	peer, err := testpeer.New(testpeer.Config{
		Address: opts.Listen,
		Logger:  logger,
		Capture: capture,
	})
	if err != nil {
		return err
	}
	peer.OnValue(func(name string, f wire.Frame) {
		logger.Debug("client value", slog.String("topic", name), slog.Int64("ts", f.Timestamp))
	})

	if err := peer.Start(ctx); err != nil {
		return err
	}
	defer peer.Stop()
	logger.Info("peer listening", slog.String("addr", peer.Addr().String()))

	if con == nil {
		<-ctx.Done()
		return nil
	}
	con.Attach(peer)
	con.Run(ctx, cancel)
	return nil
}
