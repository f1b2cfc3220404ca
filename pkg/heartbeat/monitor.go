package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/posebridge/posebridge-go/pkg/clientctx"
	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/log"
)

// Heartbeat defaults.
const (
	DefaultInterval    = 1 * time.Second
	DefaultTimeout     = 2 * time.Second
	DefaultMaxFailures = 3

	// DefaultWrapAt is where the counter wraps back to 1.
	DefaultWrapAt = 1 << 30

	RequestTopic  = "/posebridge/heartbeat/request"
	ResponseTopic = "/posebridge/heartbeat/response"
)

// Heartbeat errors.
var (
	// ErrPeerUnresponsive closes a session whose peer stopped answering.
	ErrPeerUnresponsive = fault.New(fault.Liveness, "peer unresponsive")

	ErrResponseMissed = fault.New(fault.Liveness, "heartbeat response missed")
)

// Link is the part of a session the Monitor needs.
type Link interface {
	ID() string
	IsConnected() bool
	PublishValue(name string, value any, timestampMicros int64) bool
	ReadLatest(name string, def any) any
	Close(reason error)
}

// Config holds heartbeat settings. Zero values take the defaults.
type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
	WrapAt      int64

	RequestTopic  string
	ResponseTopic string

	// OnUnresponsive is called after the Monitor closes a session.
	OnUnresponsive func(sessionID string)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.WrapAt <= 0 {
		c.WrapAt = DefaultWrapAt
	}
	if c.RequestTopic == "" {
		c.RequestTopic = RequestTopic
	}
	if c.ResponseTopic == "" {
		c.ResponseTopic = ResponseTopic
	}
	return c
}

// Stats is a snapshot of the Monitor.
type Stats struct {
	SessionID           string
	Counter             int64
	Pending             bool
	PendingSince        time.Time
	ConsecutiveFailures int

	// LastRoundTrip is the latency of the last answered request.
	LastRoundTrip time.Duration
	Answered      uint64
	Missed        uint64
}

// Monitor runs the heartbeat round trip for whichever session it is
// handed. It resets itself whenever the session ID changes.
type Monitor struct {
	cc  *clientctx.Context
	cfg Config

	mu           sync.Mutex
	sessionID    string
	counter      int64
	pending      bool
	pendingSince time.Time
	lastSent     time.Time
	failures     int
	lastRTT      time.Duration
	answered     uint64
	missed       uint64
}

// NewMonitor creates a heartbeat monitor.
func NewMonitor(cc *clientctx.Context, cfg Config) *Monitor {
	return &Monitor{
		cc:      cc,
		cfg:     cfg.withDefaults(),
		counter: 1,
	}
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Tick advances the heartbeat. It does nothing unless sess is connected.
func (m *Monitor) Tick(now time.Time, sess Link) {
	if sess == nil || !sess.IsConnected() {
		return
	}

	m.mu.Lock()
	if id := sess.ID(); id != m.sessionID {
		m.resetLocked(id)
	}

	if m.pending {
		if v, ok := asInt(sess.ReadLatest(m.cfg.ResponseTopic, nil)); ok && v == m.counter {
			m.pending = false
			m.failures = 0
			m.answered++
			m.lastRTT = now.Sub(m.pendingSince)
			m.counter++
			if m.counter > m.cfg.WrapAt {
				m.counter = 1
			}
		} else if now.Sub(m.pendingSince) > m.cfg.Timeout {
			m.pending = false
			m.failures++
			m.missed++
			failures := m.failures
			id := m.sessionID
			if failures >= m.cfg.MaxFailures {
				m.mu.Unlock()
				m.declareUnresponsive(sess, id, failures)
				return
			}
			m.cc.Diagnostics.Warn(log.LayerApp, "", ErrResponseMissed)
		}
	}

	if !m.pending && now.Sub(m.lastSent) >= m.cfg.Interval {
		counter := m.counter
		m.mu.Unlock()
		sent := sess.PublishValue(m.cfg.RequestTopic, counter, 0)
		m.mu.Lock()
		if sent && m.sessionID == sess.ID() {
			m.pending = true
			m.pendingSince = now
			m.lastSent = now
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) declareUnresponsive(sess Link, id string, failures int) {
	m.cc.Logger.Warn("heartbeat: peer unresponsive",
		slog.String("session", id),
		slog.Int("failures", failures))
	sess.Close(ErrPeerUnresponsive)
	if m.cfg.OnUnresponsive != nil {
		m.cfg.OnUnresponsive(id)
	}
}

// Reset forgets all state, as if a new session had been seen.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked("")
}

func (m *Monitor) resetLocked(id string) {
	m.sessionID = id
	m.counter = 1
	m.pending = false
	m.pendingSince = time.Time{}
	m.lastSent = time.Time{}
	m.failures = 0
}

// Stats returns a snapshot.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		SessionID:           m.sessionID,
		Counter:             m.counter,
		Pending:             m.pending,
		PendingSince:        m.pendingSince,
		ConsecutiveFailures: m.failures,
		LastRoundTrip:       m.lastRTT,
		Answered:            m.answered,
		Missed:              m.missed,
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), float64(int64(n)) == n
	default:
		return 0, false
	}
}
