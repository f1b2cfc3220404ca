package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff defaults.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 16 * time.Second
	BackoffMultiplier = 2.0
)

// BackoffConfig shapes the pause between full candidate cycles.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`

	// Jitter adds up to Jitter*delay on top of each delay. Zero disables it.
	Jitter float64 `yaml:"jitter"`
}

// DefaultBackoffConfig returns the default backoff settings.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
	}
}

func (c BackoffConfig) normalized() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = InitialBackoff
	}
	if c.Max <= 0 {
		c.Max = MaxBackoff
	}
	c.Max = max(c.Max, c.Initial)
	if c.Multiplier <= 1 {
		c.Multiplier = BackoffMultiplier
	}
	c.Jitter = max(c.Jitter, 0)
	return c
}

// Delay returns min(Initial * Multiplier^k, Max), the pause after k
// consecutive exhausted cycles counted from zero. Jitter is not applied.
func (c BackoffConfig) Delay(k int) time.Duration {
	c = c.normalized()
	d := float64(c.Initial)
	for range k {
		d *= c.Multiplier
		if d >= float64(c.Max) {
			return c.Max
		}
	}
	return time.Duration(d)
}

// Sequence lists the delays from the first exhausted cycle up to and
// including the first capped one.
func (c BackoffConfig) Sequence() []time.Duration {
	c = c.normalized()
	var seq []time.Duration
	for k := 0; ; k++ {
		d := c.Delay(k)
		seq = append(seq, d)
		if d >= c.Max {
			return seq
		}
	}
}

// Backoff counts exhausted cycles and hands out the matching delay.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	failures int
}

// NewBackoff returns a Backoff for cfg. Zero fields take the defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg.normalized()}
}

// Next records an exhausted cycle and returns the delay before the next
// one, jitter included.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.cfg.Delay(b.failures)
	b.failures++
	if b.cfg.Jitter > 0 {
		d += time.Duration(float64(d) * b.cfg.Jitter * rand.Float64())
	}
	return d
}

// Current returns the delay the next exhausted cycle will get, without
// jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Delay(b.failures)
}

// Failures returns the number of exhausted cycles since the last Reset.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset is called after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}
