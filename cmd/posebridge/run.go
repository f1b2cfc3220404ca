package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/posebridge/posebridge-go/pkg/bridge"
	"github.com/posebridge/posebridge-go/pkg/clientctx"
	"github.com/posebridge/posebridge-go/pkg/command"
	"github.com/posebridge/posebridge-go/pkg/config"
	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/telemetry"
)

// statusInterval is how often run logs a status line.
const statusInterval = 10 * time.Second

func runCmd(opts *rootOptions) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the controller and publish simulated tracker data",
		Long: `run starts the bridge with a simulated tracker that walks a circle.
Heading and pose resets are logged and acknowledged.

Stop with SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return cmd
}

// newLogger builds the operational logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}

// benchExecutor acknowledges resets. A real tracker integration replaces it.
func benchExecutor(logger *slog.Logger) command.Executor {
	return command.ExecutorFunc(func(ctx context.Context, cmd command.Command) error {
		attrs := []any{
			slog.String("command", cmd.Type().String()),
			slog.Uint64("id", uint64(clientctx.CommandIDFromContext(ctx))),
			slog.String("session", clientctx.SessionIDFromContext(ctx)),
		}
		if pr, ok := cmd.(command.PoseReset); ok {
			attrs = append(attrs,
				slog.Float64("x", pr.Target.Translation.X),
				slog.Float64("y", pr.Target.Translation.Y),
				slog.Float64("z", pr.Target.Translation.Z))
		}
		logger.Info("reset requested", attrs...)
		return nil
	})
}

func run(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}

	var file *log.FileLogger
	if cfg.Log.CapturePath != "" {
		fl, err := log.NewFileLogger(cfg.Log.CapturePath)
		if err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer func() {
			if err := fl.Close(); err != nil {
				logger.Warn("close capture", slog.Any("error", err))
			}
			if n := fl.Dropped(); n > 0 {
				logger.Warn("capture dropped events", slog.Uint64("count", n))
			}
		}()
		file = fl
		logger.Info("protocol capture enabled", slog.String("path", cfg.Log.CapturePath))
	}
	capture := newCapture(cfg.Log, logger, file)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sim := telemetry.NewSimulated()
	b, err := bridge.New(cfg, bridge.Deps{
		Poses:      sim,
		Health:     sim,
		Executor:   benchExecutor(logger),
		Logger:     logger,
		Capture:    capture,
		Registerer: reg,
	})
	if err != nil {
		return err
	}
	logger.Info("starting",
		slog.String("client", b.Status().ClientName),
		slog.Int("team", cfg.Team),
		slog.Any("candidates", cfg.StaticCandidates()),
		slog.Bool("mdns", cfg.MDNS.Enabled))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return logStatus(gctx, b, logger) })
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen, reg, logger) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("stopped")
	return err
}

// newCapture combines the capture file with the trace mirror. It returns
// nil when neither is configured.
func newCapture(cfg config.LogConfig, logger *slog.Logger, file *log.FileLogger) log.Logger {
	var sinks []log.Logger
	if file != nil {
		sinks = append(sinks, file)
	}
	if cfg.Trace {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return log.NewMultiLogger(sinks...)
}

func logStatus(ctx context.Context, b *bridge.Bridge, logger *slog.Logger) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := b.Status()
			logger.Info("status",
				slog.String("state", st.Connection.State.String()),
				slog.String("address", st.Connection.Address),
				slog.Bool("clock_valid", st.Clock.Valid),
				slog.Int64("clock_offset_us", st.Clock.OffsetMicros),
				slog.Uint64("heartbeats_answered", st.Heartbeat.Answered),
				slog.Uint64("frames", st.FramesPublished))
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}
