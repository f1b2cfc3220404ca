package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/posebridge/posebridge-go/pkg/clientctx"
	"github.com/posebridge/posebridge-go/pkg/clocksync"
	"github.com/posebridge/posebridge-go/pkg/command"
	"github.com/posebridge/posebridge-go/pkg/config"
	"github.com/posebridge/posebridge-go/pkg/connection"
	"github.com/posebridge/posebridge-go/pkg/discovery"
	"github.com/posebridge/posebridge-go/pkg/heartbeat"
	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/persistence"
	"github.com/posebridge/posebridge-go/pkg/session"
	"github.com/posebridge/posebridge-go/pkg/telemetry"
	"github.com/posebridge/posebridge-go/pkg/topic"
	"github.com/posebridge/posebridge-go/pkg/transport"
	"github.com/posebridge/posebridge-go/pkg/wire"
)

const (
	// DeviceInterval is how often device health is published.
	DeviceInterval = time.Second

	// HeartbeatPeriodSeconds is the delivery period requested for the
	// heartbeat response topic.
	HeartbeatPeriodSeconds = 0.05

	// BrowseRetry is the pause before restarting an mDNS browse that ended
	// on its own.
	BrowseRetry = 5 * time.Second
)

// ErrNoPoseSource is returned by New when Deps.Poses is nil.
var ErrNoPoseSource = errors.New("pose source is required")

// Deps are the collaborators the bridge does not build itself.
type Deps struct {
	// Poses is sampled every fast tick. Required.
	Poses telemetry.PoseSource

	// Health is published on the slow tick. Optional.
	Health telemetry.HealthSource

	// Executor performs heading and pose resets. Without one, those
	// commands fail with command.ErrNoExecutor.
	Executor command.Executor

	// Logger and Capture default to discarding.
	Logger  *slog.Logger
	Capture log.Logger

	// Registerer defaults to a private registry.
	Registerer prometheus.Registerer

	// Dialer defaults to a transport.Client built from the config.
	Dialer transport.Dialer

	// Browser defaults to an mDNS browser when mdns.enabled is set.
	Browser discovery.Browser

	// Store defaults to a state file at state_path when set.
	Store connection.AddressStore

	// Now defaults to time.Now.
	Now func() time.Time

	// SupervisorOptions are appended to the bridge's own.
	SupervisorOptions []connection.Option
}

// Status is a snapshot for display.
type Status struct {
	ClientName      string
	Connection      connection.Status
	Clock           clocksync.State
	Heartbeat       heartbeat.Stats
	LastCommand     command.Result
	HasCommand      bool
	FramesPublished uint64
}

// Bridge owns the client components and drives them from two ticks.
type Bridge struct {
	cfg     config.Config
	cc      *clientctx.Context
	deps    Deps
	sup     *connection.Supervisor
	hb      *heartbeat.Monitor
	disp    *command.Dispatcher
	frames  *telemetry.FramePublisher
	browser discovery.Browser

	// Owned by the slow tick.
	resyncSession string
	lastResync    time.Time
	lastDevice    time.Time
}

// New builds a bridge. Topic definitions are registered here, before any
// session exists; every session announces them on open.
func New(cfg config.Config, deps Deps) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Poses == nil {
		return nil, ErrNoPoseSource
	}

	name := cfg.ClientName
	if cfg.UniqueName {
		name = fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	}

	opts := []clientctx.Option{
		clientctx.WithLogger(deps.Logger),
		clientctx.WithCapture(deps.Capture),
		clientctx.WithRegisterer(deps.Registerer),
	}
	if deps.Now != nil {
		opts = append(opts, clientctx.WithClock(deps.Now))
	}
	cc := clientctx.New(name, opts...)

	if err := registerTopics(cc.Registry, cfg); err != nil {
		return nil, fmt.Errorf("register topics: %w", err)
	}

	dialer := deps.Dialer
	if dialer == nil {
		ccfg := cfg.Client(name)
		ccfg.Logger = cc.Capture
		client, err := transport.NewClient(ccfg)
		if err != nil {
			return nil, err
		}
		dialer = client
	}

	store := deps.Store
	if store == nil && cfg.StatePath != "" {
		store = persistence.NewStateStore(cfg.StatePath)
	}

	b := &Bridge{
		cfg:     cfg,
		cc:      cc,
		deps:    deps,
		frames:  telemetry.NewFramePublisher(),
		browser: deps.Browser,
	}
	if b.browser == nil && cfg.MDNS.Enabled {
		b.browser = discovery.NewMDNSBrowser(cfg.Browser())
	}

	supOpts := []connection.Option{connection.WithStateChange(b.onStateChange)}
	if store != nil {
		supOpts = append(supOpts, connection.WithStore(store))
	}
	supOpts = append(supOpts, deps.SupervisorOptions...)
	b.sup = connection.NewSupervisor(cc, cfg.Supervisor(cfg.StaticCandidates()), dialer, supOpts...)

	if cfg.Heartbeat.Enabled {
		hcfg := cfg.HeartbeatMonitor()
		hcfg.OnUnresponsive = func(id string) {
			cc.Logger.Warn("peer unresponsive, session closed", slog.String("session", id))
		}
		b.hb = heartbeat.NewMonitor(cc, hcfg)
	}
	b.disp = command.NewDispatcher(cc, command.Config{}, deps.Executor)

	return b, nil
}

func registerTopics(reg *topic.Registry, cfg config.Config) error {
	pubs := []struct {
		name string
		typ  wire.Type
	}{
		{telemetry.FrameTopic, wire.TypeRaw},
		{telemetry.DeviceTopic, wire.TypeRaw},
		{command.ResponseTopic, wire.TypeRaw},
	}
	if cfg.Heartbeat.Enabled {
		pubs = append(pubs, struct {
			name string
			typ  wire.Type
		}{heartbeat.RequestTopic, wire.TypeInt})
	}
	for _, p := range pubs {
		if _, _, err := reg.Publish(p.name, p.typ, nil); err != nil {
			return err
		}
	}

	reqOpts := topic.Options{All: cfg.Commands.SendAll, Periodic: cfg.Commands.PeriodSeconds}
	if _, err := reg.Subscribe([]string{command.RequestTopic}, reqOpts); err != nil {
		return err
	}
	if cfg.Heartbeat.Enabled {
		if _, err := reg.Subscribe([]string{heartbeat.ResponseTopic}, topic.Options{Periodic: HeartbeatPeriodSeconds}); err != nil {
			return err
		}
	}
	return nil
}

// Context returns the client context.
func (b *Bridge) Context() *clientctx.Context { return b.cc }

// Supervisor returns the connection supervisor.
func (b *Bridge) Supervisor() *connection.Supervisor { return b.sup }

// session returns the current session if it is connected.
func (b *Bridge) session() *session.Session {
	if s := b.sup.Session(); s != nil && s.IsConnected() {
		return s
	}
	return nil
}

// FastTick publishes the pose frame and dispatches a pending command.
// Without a session it does nothing.
func (b *Bridge) FastTick(now time.Time) {
	sess := b.session()
	if sess == nil {
		return
	}

	err := b.frames.PublishFrom(sess, b.deps.Poses, b.deps.Health)
	if err != nil && !errors.Is(err, telemetry.ErrNoSample) && sess.IsConnected() {
		b.cc.Diagnostics.Warn(log.LayerApp, telemetry.FrameTopic, err)
	}
	b.disp.Tick(sess)
}

// SlowTick maintains the connection and flushes diagnostics.
func (b *Bridge) SlowTick(now time.Time) {
	b.sup.Tick(now)

	if sess := b.session(); sess != nil {
		if b.hb != nil {
			b.hb.Tick(now, sess)
		}
		b.publishDevice(now, sess)
		b.resyncClock(now, sess)
	}

	b.cc.Diagnostics.Flush()
}

func (b *Bridge) publishDevice(now time.Time, sess *session.Session) {
	if b.deps.Health == nil || now.Sub(b.lastDevice) < DeviceInterval {
		return
	}
	if b.frames.PublishDevice(sess, b.deps.Health.Health()) {
		b.lastDevice = now
	}
}

// resyncClock refreshes the clock offset every ClockResync. A session
// syncs once on open, so a new session only starts the interval.
func (b *Bridge) resyncClock(now time.Time, sess *session.Session) {
	if sess.ID() != b.resyncSession {
		b.resyncSession = sess.ID()
		b.lastResync = now
		return
	}
	if now.Sub(b.lastResync) < b.cfg.Ticks.ClockResync {
		return
	}
	b.lastResync = now
	if err := sess.SyncClock(); err != nil {
		b.cc.Diagnostics.Warn(log.LayerWire, "clock sync", err)
	}
}

func (b *Bridge) onStateChange(from, to connection.State) {
	b.cc.Logger.Info("connection state",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

// Run drives both ticks until ctx is done, with the mDNS browser feeding
// the supervisor alongside. It closes the bridge before returning.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.tickLoop(gctx)
	})
	if b.browser != nil {
		g.Go(func() error {
			return b.browseLoop(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (b *Bridge) tickLoop(ctx context.Context) error {
	fast := time.NewTicker(b.cfg.Ticks.Fast)
	defer fast.Stop()
	slow := time.NewTicker(b.cfg.Ticks.Slow)
	defer slow.Stop()

	b.SlowTick(b.cc.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fast.C:
			b.FastTick(b.cc.Now())
		case <-slow.C:
			b.SlowTick(b.cc.Now())
		}
	}
}

// browseLoop offers every discovered controller address to the
// supervisor. A browse that ends before ctx is restarted after BrowseRetry.
func (b *Bridge) browseLoop(ctx context.Context) error {
	for {
		found, err := b.browser.BrowseControllers(ctx)
		if err != nil {
			b.cc.Logger.Warn("mdns browse failed", slog.Any("error", err))
		} else {
			for svc := range found {
				b.cc.Logger.Debug("controller discovered",
					slog.String("instance", svc.Instance),
					slog.Any("addresses", svc.Addresses))
				for _, addr := range svc.Candidates() {
					b.sup.Offer(addr, connection.SourceMDNS)
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(BrowseRetry):
		}
	}
}

// Close stops the browser and the supervisor, closing any session.
func (b *Bridge) Close() {
	if b.browser != nil {
		b.browser.Stop()
	}
	b.sup.Close()
	b.cc.Diagnostics.Flush()
}

// Status returns a snapshot. It is safe to call from any goroutine.
func (b *Bridge) Status() Status {
	st := Status{
		ClientName:      b.cc.ClientName,
		Connection:      b.sup.Status(),
		FramesPublished: b.frames.Published(),
	}
	if sess := b.session(); sess != nil {
		st.Clock = sess.ClockState()
	}
	if b.hb != nil {
		st.Heartbeat = b.hb.Stats()
	}
	st.LastCommand, st.HasCommand = b.disp.Last()
	return st
}
