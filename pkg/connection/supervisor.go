package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/posebridge/posebridge-go/pkg/clientctx"
	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/session"
	"github.com/posebridge/posebridge-go/pkg/transport"
)

// Supervisor defaults.
const (
	DefaultConnectTimeout   = transport.DefaultConnectTimeout
	DefaultCooldown         = 5 * time.Second
	DefaultUnreachableRetry = 500 * time.Millisecond

	eventBuffer = 32
	offerBuffer = 16
)

// ErrNetworkUnreachable is reported when the probe finds no usable interface.
var ErrNetworkUnreachable = fault.New(fault.Transport, "network unreachable")

// SupervisorConfig configures a Supervisor. Zero durations take the
// defaults.
type SupervisorConfig struct {
	// Candidates are tried in order.
	Candidates []string

	// ConnectTimeout bounds resolution plus dial for one candidate.
	ConnectTimeout time.Duration

	// Cooldown is how long a failed candidate is skipped.
	Cooldown time.Duration

	// UnreachableRetry is the fixed retry delay while the network is down.
	UnreachableRetry time.Duration

	Backoff BackoffConfig

	// Session options for every session the supervisor opens. A nil
	// Metrics is filled in from the client's registerer.
	Session session.Options
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.UnreachableRetry <= 0 {
		c.UnreachableRetry = DefaultUnreachableRetry
	}
	return c
}

// AddressStore remembers the last address that connected.
// *persistence.StateStore satisfies it.
type AddressStore interface {
	LastAddress() (string, bool)
	RecordConnect(address, source string, at time.Time) error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(s *Supervisor) { s.resolver = r }
}

// WithNetworkProbe replaces the interface probe.
func WithNetworkProbe(p NetworkProbe) Option {
	return func(s *Supervisor) { s.probe = p }
}

// WithStore remembers good addresses across restarts. The stored address
// is tried first.
func WithStore(st AddressStore) Option {
	return func(s *Supervisor) { s.store = st }
}

// WithStateChange sets a callback for state changes. It runs on the
// goroutine that caused the change, after the supervisor lock is released.
func WithStateChange(fn func(oldState, newState State)) Option {
	return func(s *Supervisor) { s.onStateChange = fn }
}

type eventKind uint8

const (
	eventFailed eventKind = iota
	eventConnected
	eventExhausted
)

// attemptEvent is sent from a cycle goroutine to Tick.
type attemptEvent struct {
	gen     uint64
	kind    eventKind
	address string
	source  string
	conn    transport.Conn
	err     error
	at      time.Time
}

type transition struct {
	from, to State
}

// Status is a snapshot of the supervisor.
type Status struct {
	State       State
	Address     string
	SessionID   string
	ConnectedAt time.Time
	NextAttempt time.Time
	Backoff     time.Duration
	LastError   error
	Candidates  []Candidate
}

// Supervisor maintains at most one open session, reconnecting through
// the candidate list as needed. Tick must be called from one goroutine;
// the other methods are safe from any goroutine.
type Supervisor struct {
	cc            *clientctx.Context
	cfg           SupervisorConfig
	dialer        transport.Dialer
	resolver      Resolver
	probe         NetworkProbe
	store         AddressStore
	backoff       *Backoff
	metrics       *metrics
	onStateChange func(oldState, newState State)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events chan attemptEvent
	offers chan Candidate

	current atomic.Pointer[session.Session]

	mu          sync.Mutex
	state       State
	gen         uint64
	candidates  candidateList
	nextAttempt time.Time
	address     string
	connectedAt time.Time
	lastErr     error
	changes     []transition
}

// NewSupervisor creates a supervisor in DISCONNECTED. Nothing happens
// until the first Tick.
func NewSupervisor(cc *clientctx.Context, cfg SupervisorConfig, dialer transport.Dialer, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cc:       cc,
		cfg:      cfg,
		dialer:   dialer,
		resolver: net.DefaultResolver,
		probe:    InterfaceProbe{},
		backoff:  NewBackoff(cfg.Backoff),
		metrics:  newMetrics(cc.Metrics),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan attemptEvent, eventBuffer),
		offers:   make(chan Candidate, offerBuffer),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Session.Metrics == nil && cc.Metrics != nil {
		s.cfg.Session.Metrics = session.NewMetrics(cc.Metrics)
	}

	for _, a := range cfg.Candidates {
		s.candidates.add(a, SourceStatic)
	}
	if s.store != nil {
		if a, ok := s.store.LastAddress(); ok {
			s.candidates.promote(a, SourcePersisted)
		}
	}
	s.metrics.setState(StateDisconnected)
	return s
}

// Tick advances the supervisor. It never blocks on the network.
func (s *Supervisor) Tick(now time.Time) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}

	s.drainOffersLocked()
	s.drainEventsLocked(now)

	if cur := s.current.Load(); cur != nil && !cur.IsConnected() {
		s.teardownLocked(cur)
		s.startCycleLocked(now)
	} else if s.state == StateDisconnected && !now.Before(s.nextAttempt) {
		s.startCycleLocked(now)
	}

	changes := s.changes
	s.changes = nil
	s.mu.Unlock()

	s.notify(changes)
}

// Trigger forces a reconnection by closing the current session. It
// reports false, and does nothing, while a cycle is in flight or after
// Close.
func (s *Supervisor) Trigger(reason error) bool {
	if reason == nil {
		reason = ErrTriggered
	}

	s.mu.Lock()
	switch s.state {
	case StateConnected:
		cur := s.current.Load()
		s.mu.Unlock()
		if cur != nil {
			cur.Close(reason)
		}
		return true
	case StateDisconnected:
		s.nextAttempt = time.Time{}
		s.mu.Unlock()
		return true
	default:
		s.mu.Unlock()
		return false
	}
}

// Offer adds a candidate, typically from mDNS discovery. It is picked up
// on the next Tick; known addresses are ignored.
func (s *Supervisor) Offer(address, source string) {
	if source == "" {
		source = SourceMDNS
	}
	select {
	case s.offers <- Candidate{Address: address, Source: source}:
	default:
		s.cc.Diagnostics.Warn(log.LayerTransport, address, errors.New("candidate offer dropped: queue full"))
	}
}

// Close tears down the current session and stops any cycle in flight.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.setStateLocked(StateClosed)
	cur := s.current.Swap(nil)
	changes := s.changes
	s.changes = nil
	s.mu.Unlock()

	s.cancel()
	if cur != nil {
		cur.Close(ErrSupervisorClosed)
	}
	s.wg.Wait()

	for {
		select {
		case ev := <-s.events:
			if ev.conn != nil {
				ev.conn.Close()
			}
		default:
			s.notify(changes)
			return
		}
	}
}

// Session returns the current session, or nil. The session may have
// closed since the last Tick; check IsConnected.
func (s *Supervisor) Session() *session.Session {
	return s.current.Load()
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Candidates returns a snapshot of the candidate list.
func (s *Supervisor) Candidates() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidates.snapshot()
}

// Status returns a snapshot for display.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:       s.state,
		Address:     s.address,
		ConnectedAt: s.connectedAt,
		NextAttempt: s.nextAttempt,
		Backoff:     s.backoff.Current(),
		LastError:   s.lastErr,
		Candidates:  s.candidates.snapshot(),
	}
	if cur := s.current.Load(); cur != nil {
		st.SessionID = cur.ID()
	}
	return st
}

func (s *Supervisor) drainOffersLocked() {
	for {
		select {
		case c := <-s.offers:
			if s.candidates.add(c.Address, c.Source) {
				s.cc.Logger.Info("candidate added",
					slog.String("address", c.Address),
					slog.String("source", c.Source))
			}
		default:
			return
		}
	}
}

func (s *Supervisor) drainEventsLocked(now time.Time) {
	for {
		select {
		case ev := <-s.events:
			s.handleEventLocked(now, ev)
		default:
			return
		}
	}
}

func (s *Supervisor) handleEventLocked(now time.Time, ev attemptEvent) {
	if ev.gen != s.gen || s.state != StateConnecting {
		if ev.conn != nil {
			ev.conn.Close()
			s.metrics.attempt("stale")
		}
		return
	}

	switch ev.kind {
	case eventFailed:
		s.failLocked(ev.address, ev.at, ev.err)

	case eventConnected:
		sess := session.New(s.cc, ev.conn, s.cfg.Session)
		if !sess.IsConnected() {
			s.failLocked(ev.address, now, fmt.Errorf("%w: %w", ErrSessionRejected, sess.Err()))
			s.setStateLocked(StateDisconnected)
			s.nextAttempt = now
			return
		}
		s.current.Store(sess)
		s.address = ev.address
		s.connectedAt = now
		s.lastErr = nil
		s.candidates.markOK(ev.address)
		s.backoff.Reset()
		s.metrics.attempt("success")
		s.metrics.opened()
		s.metrics.setBackoff(0)
		s.setStateLocked(StateConnected)
		s.cc.Logger.Info("connected",
			slog.String("address", ev.address),
			slog.String("source", ev.source),
			slog.String("session", sess.ID()))
		s.remember(ev.address, ev.source, now)

	case eventExhausted:
		delay := s.backoff.Next()
		s.nextAttempt = now.Add(delay)
		s.metrics.setBackoff(delay.Seconds())
		s.setStateLocked(StateDisconnected)
		s.cc.Diagnostics.Infof(log.LayerTransport, "all candidates failed, next cycle in %s", delay)
	}
}

func (s *Supervisor) failLocked(address string, at time.Time, err error) {
	s.candidates.markFailed(address, at)
	s.lastErr = err
	s.metrics.attempt("failure")
	s.cc.Diagnostics.Warn(log.LayerTransport, address, err)
}

// remember saves the address off the tick goroutine.
func (s *Supervisor) remember(address, source string, at time.Time) {
	if s.store == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.store.RecordConnect(address, source, at); err != nil {
			s.cc.Logger.Warn("failed to save last address", slog.Any("error", err))
		}
	}()
}

func (s *Supervisor) teardownLocked(cur *session.Session) {
	s.current.CompareAndSwap(cur, nil)
	s.lastErr = cur.Err()
	s.cc.Logger.Info("session lost",
		slog.String("address", s.address),
		slog.String("session", cur.ID()),
		slog.String("class", fault.ClassOf(s.lastErr).String()),
		slog.Any("error", s.lastErr))
	s.address = ""
	s.connectedAt = time.Time{}
	s.setStateLocked(StateDisconnected)
}

func (s *Supervisor) startCycleLocked(now time.Time) {
	if !s.probe.Reachable() {
		s.nextAttempt = now.Add(s.cfg.UnreachableRetry)
		s.metrics.attempt("unreachable")
		s.cc.Diagnostics.Warn(log.LayerTransport, "", ErrNetworkUnreachable)
		return
	}

	cands, earliest := s.candidates.eligible(now, s.cfg.Cooldown)
	if len(cands) == 0 {
		if earliest.IsZero() {
			s.nextAttempt = now.Add(s.cfg.UnreachableRetry)
			s.cc.Diagnostics.Warn(log.LayerTransport, "", ErrNoCandidates)
		} else {
			s.nextAttempt = earliest
		}
		return
	}

	s.gen++
	s.setStateLocked(StateConnecting)
	s.wg.Add(1)
	go s.runCycle(s.gen, cands)
}

// runCycle tries each candidate in order until one connects.
func (s *Supervisor) runCycle(gen uint64, cands []Candidate) {
	defer s.wg.Done()
	for _, c := range cands {
		if s.ctx.Err() != nil {
			return
		}
		conn, err := s.attempt(c.Address)
		if err == nil {
			ev := attemptEvent{gen: gen, kind: eventConnected, address: c.Address, source: c.Source, conn: conn, at: s.cc.Now()}
			if !s.emit(ev) {
				conn.Close()
			}
			return
		}
		if !s.emit(attemptEvent{gen: gen, kind: eventFailed, address: c.Address, source: c.Source, err: err, at: s.cc.Now()}) {
			return
		}
	}
	s.emit(attemptEvent{gen: gen, kind: eventExhausted, at: s.cc.Now()})
}

// attempt resolves and dials one candidate within ConnectTimeout.
func (s *Supervisor) attempt(address string) (transport.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()

	target, err := resolve(ctx, s.resolver, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolve, address, err)
	}
	conn, err := s.dialer.Dial(ctx, target)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, address, s.cfg.ConnectTimeout)
		}
		return nil, err
	}
	return conn, nil
}

func (s *Supervisor) emit(ev attemptEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Supervisor) setStateLocked(to State) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.metrics.setState(to)
	s.changes = append(s.changes, transition{from, to})

	e := log.Event{
		Timestamp:  s.cc.Now(),
		Layer:      log.LayerApp,
		Category:   log.CategoryState,
		ClientName: s.cc.ClientName,
		RemoteAddr: s.address,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySupervisor,
			OldState: from.String(),
			NewState: to.String(),
		},
	}
	if s.lastErr != nil {
		e.StateChange.Reason = s.lastErr.Error()
	}
	s.cc.Capture.Log(e)
}

func (s *Supervisor) notify(changes []transition) {
	if s.onStateChange == nil {
		return
	}
	for _, c := range changes {
		s.onStateChange(c.from, c.to)
	}
}
