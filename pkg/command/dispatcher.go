package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/posebridge/posebridge-go/pkg/clientctx"
	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/session"
)

// Well-known command topics.
const (
	RequestTopic  = "/posebridge/request"
	ResponseTopic = "/posebridge/response"
)

// Link is the part of a session the Dispatcher needs.
type Link interface {
	ID() string
	IsConnected() bool
	PublishValue(name string, value any, timestampMicros int64) bool
	ReadLatest(name string, def any) any
	Drain(name string) []session.Value
}

// Config holds dispatcher settings. Zero values take the defaults.
type Config struct {
	RequestTopic  string
	ResponseTopic string
}

func (c Config) withDefaults() Config {
	if c.RequestTopic == "" {
		c.RequestTopic = RequestTopic
	}
	if c.ResponseTopic == "" {
		c.ResponseTopic = ResponseTopic
	}
	return c
}

// Result is the last command the Dispatcher handled.
type Result struct {
	Type     Type
	Response Response
	Sent     bool
}

// Dispatcher turns request-topic envelopes into Executor calls and
// response-topic values.
type Dispatcher struct {
	cc      *clientctx.Context
	cfg     Config
	exec    Executor
	metrics *metrics

	mu         sync.Mutex
	lastSentID uint32
	unsent     *Result
	lastBad    []byte
	backlog    [][]byte
	last       Result
	hasLast    bool
}

// NewDispatcher creates a dispatcher. exec may be nil, in which case only
// Ping succeeds.
func NewDispatcher(cc *clientctx.Context, cfg Config, exec Executor) *Dispatcher {
	return &Dispatcher{
		cc:      cc,
		cfg:     cfg.withDefaults(),
		exec:    exec,
		metrics: newMetrics(cc.Metrics),
	}
}

// Tick handles every request queued since the previous tick, oldest
// first. Without a queued value it falls back to the latest request.
//
// A command runs at most once per ID. The ID is remembered as sent only
// once its response is published; until then the stored response is
// retried without running the command again, and requests queued
// behind it wait for the next tick.
func (d *Dispatcher) Tick(sess Link) {
	if sess == nil || !sess.IsConnected() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.backlog
	d.backlog = nil
	for _, v := range sess.Drain(d.cfg.RequestTopic) {
		if raw, ok := v.Value.([]byte); ok && len(raw) > 0 {
			pending = append(pending, raw)
		}
	}
	if len(pending) == 0 {
		raw, ok := sess.ReadLatest(d.cfg.RequestTopic, nil).([]byte)
		if !ok || len(raw) == 0 {
			return
		}
		pending = append(pending, raw)
	}

	for i, raw := range pending {
		if !d.handle(sess, raw) {
			d.backlog = pending[i:]
			return
		}
	}
}

// handle processes one request. It returns false when a response could
// not be published.
func (d *Dispatcher) handle(sess Link, raw []byte) bool {
	if d.lastBad != nil && bytes.Equal(raw, d.lastBad) {
		return true
	}
	env, err := UnmarshalEnvelope(raw)
	if err != nil {
		d.lastBad = append(d.lastBad[:0], raw...)
		d.cc.Diagnostics.Warn(log.LayerApp, "command", err)
		return true
	}
	d.lastBad = nil

	if env.ID == 0 || env.Command.Type() == TypeIdle || env.ID == d.lastSentID {
		return true
	}

	var res Result
	if d.unsent != nil && d.unsent.Response.ID == env.ID {
		res = *d.unsent
	} else {
		res = Result{Type: env.Command.Type(), Response: d.run(sess.ID(), env)}
		d.metrics.observe(res.Type, res.Response.Success)
		d.unsent = &res
	}

	if !sess.PublishValue(d.cfg.ResponseTopic, MarshalResponse(res.Response), 0) {
		return false
	}
	res.Sent = true
	d.lastSentID = env.ID
	d.unsent = nil
	d.last = res
	d.hasLast = true

	d.cc.Logger.Debug("command handled",
		slog.Uint64("id", uint64(env.ID)),
		slog.String("type", res.Type.String()),
		slog.Bool("success", res.Response.Success))
	return true
}

// run executes env and never panics.
func (d *Dispatcher) run(sessionID string, env Envelope) (resp Response) {
	resp = Response{ID: env.ID, Success: true}
	fail := func(err error) {
		resp.Success = false
		resp.ErrorMessage = err.Error()
		d.cc.Diagnostics.Warn(log.LayerApp, env.Command.Type().String(), err)
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("%w: %v", ErrExecutorPanic, r))
		}
	}()

	switch cmd := env.Command.(type) {
	case Ping:
		return resp
	case PoseReset:
		if err := cmd.Target.Validate(); err != nil {
			fail(fmt.Errorf("%w: %w", ErrInvalidPayload, err))
			return resp
		}
	case HeadingReset:
	case Idle:
		return resp
	}

	if d.exec == nil {
		fail(ErrNoExecutor)
		return resp
	}
	ctx := clientctx.ContextWithSessionID(context.Background(), sessionID)
	ctx = clientctx.ContextWithCommandID(ctx, env.ID)
	if err := d.exec.Execute(ctx, env.Command); err != nil {
		fail(err)
	}
	return resp
}

// Last returns the last response that was published.
func (d *Dispatcher) Last() (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.hasLast
}

// LastSentID returns the ID of the last published response.
func (d *Dispatcher) LastSentID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSentID
}
