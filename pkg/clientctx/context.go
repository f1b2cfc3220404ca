// Package clientctx holds the per-client state that every component
// shares: the topic registry, loggers, diagnostics queue, clock and
// metrics registerer. Components receive it explicitly instead of reaching
// for process-wide globals, so several clients can coexist in one process.
//
// It also provides context keys for propagating the session and command
// identity into executor calls. This package is a neutral dependency that
// session, heartbeat and command can all import without creating a cycle.
package clientctx

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/topic"
)

// Context is the explicit per-client context.
type Context struct {
	// ClientName is sent in the connection URL.
	ClientName string

	// Registry holds topic definitions. It outlives sessions.
	Registry *topic.Registry

	// Logger is the operational logger.
	Logger *slog.Logger

	// Capture receives protocol capture events.
	Capture log.Logger

	// Diagnostics queues tick-path warnings for batched output.
	Diagnostics *log.Diagnostics

	// Metrics is where components register their collectors.
	Metrics prometheus.Registerer

	// Now is the clock. Tests replace it.
	Now func() time.Time
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.Logger = l }
}

// WithCapture sets the protocol capture logger.
func WithCapture(l log.Logger) Option {
	return func(c *Context) { c.Capture = l }
}

// WithRegisterer sets the metrics registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Context) { c.Metrics = r }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Context) { c.Now = now }
}

// WithRegistry shares an existing registry.
func WithRegistry(r *topic.Registry) Option {
	return func(c *Context) { c.Registry = r }
}

// New creates a Context. Unset fields get private defaults: a fresh
// registry, a discarding logger, no capture, and a private metrics
// registry.
func New(clientName string, opts ...Option) *Context {
	c := &Context{ClientName: clientName}
	for _, opt := range opts {
		opt(c)
	}
	if c.Registry == nil {
		c.Registry = topic.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Capture = log.OrNoop(c.Capture)
	if c.Metrics == nil {
		c.Metrics = prometheus.NewRegistry()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Diagnostics == nil {
		c.Diagnostics = log.NewDiagnostics(c.Logger, c.Capture)
		c.Diagnostics.SetClock(c.Now)
	}
	return c
}

// NowMicros returns the current time in microseconds since the epoch.
func (c *Context) NowMicros() int64 {
	return c.Now().UnixMicro()
}

type sessionIDKey struct{}

// ContextWithSessionID returns a new context carrying the session ID.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext extracts the session ID. Returns empty string if
// not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

type commandIDKey struct{}

// ContextWithCommandID returns a new context carrying the command ID.
func ContextWithCommandID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, commandIDKey{}, id)
}

// CommandIDFromContext extracts the command ID. Returns 0 if not set.
func CommandIDFromContext(ctx context.Context) uint32 {
	if v, ok := ctx.Value(commandIDKey{}).(uint32); ok {
		return v
	}
	return 0
}
