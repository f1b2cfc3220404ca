package transport

import (
	"context"
	"sync"
	"time"
)

// Keep-alive defaults.
const (
	DefaultPingInterval   = 2 * time.Second
	DefaultPongTimeout    = time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures WebSocket ping/pong monitoring. This sits
// below the application heartbeat: it catches a dead socket, not a peer
// whose application loop has stalled.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings. Negative disables
	// keep-alive; zero selects the default.
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// Enabled reports whether keep-alive should run.
func (c KeepAliveConfig) Enabled() bool {
	return c.PingInterval >= 0
}

// DetectionDelay is the worst-case time to detect a dead peer.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs == 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// KeepAliveStats is a snapshot of ping/pong activity.
type KeepAliveStats struct {
	Sent     uint32
	Missed   int
	LastPong time.Time
	LastRTT  time.Duration
}

// KeepAlive tracks one outstanding ping at a time. A ping counts as
// missed once PongTimeout passes without the matching pong.
type KeepAlive struct {
	cfg  KeepAliveConfig
	ping func(seq uint32) error
	pong chan uint32

	mu       sync.Mutex
	seq      uint32
	sentAt   time.Time
	waiting  bool
	missed   int
	lastPong time.Time
	lastRTT  time.Duration
}

// NewKeepAlive returns a monitor that sends pings through ping.
func NewKeepAlive(cfg KeepAliveConfig, ping func(seq uint32) error) *KeepAlive {
	return &KeepAlive{
		cfg:  cfg.withDefaults(),
		ping: ping,
		pong: make(chan uint32, 1),
	}
}

// Run pings until ctx is done or MaxMissedPongs consecutive pings go
// unanswered, in which case it returns ErrKeepAliveTimeout.
func (ka *KeepAlive) Run(ctx context.Context) error {
	ticker := time.NewTicker(ka.cfg.PingInterval)
	defer ticker.Stop()

	ka.send(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case seq := <-ka.pong:
			ka.answer(seq, time.Now())
		case now := <-ticker.C:
			if ka.expired(now) >= ka.cfg.MaxMissedPongs {
				return ErrKeepAliveTimeout
			}
			ka.send(now)
		}
	}
}

// Pong reports a pong carrying seq. It never blocks.
func (ka *KeepAlive) Pong(seq uint32) {
	select {
	case ka.pong <- seq:
	default:
	}
}

// Stats returns a snapshot.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		Sent:     ka.seq,
		Missed:   ka.missed,
		LastPong: ka.lastPong,
		LastRTT:  ka.lastRTT,
	}
}

func (ka *KeepAlive) send(now time.Time) {
	ka.mu.Lock()
	if ka.waiting {
		ka.mu.Unlock()
		return
	}
	ka.seq++
	seq := ka.seq
	ka.waiting = true
	ka.sentAt = now
	ka.mu.Unlock()

	// A failed write stays outstanding and is counted by expired.
	_ = ka.ping(seq)
}

// expired returns the consecutive missed count after settling the
// outstanding ping against now.
func (ka *KeepAlive) expired(now time.Time) int {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.waiting && now.Sub(ka.sentAt) >= ka.cfg.PongTimeout {
		ka.waiting = false
		ka.missed++
	}
	return ka.missed
}

func (ka *KeepAlive) answer(seq uint32, now time.Time) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.lastPong = now
	if ka.waiting && seq == ka.seq {
		ka.waiting = false
		ka.missed = 0
		ka.lastRTT = now.Sub(ka.sentAt)
	}
}
