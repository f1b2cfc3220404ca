// Package config loads the bridge configuration from YAML.
//
// Durations are written as Go duration strings ("250ms", "2s"). Unset
// fields keep the values from Default, so a file only needs to name what it
// changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/posebridge/posebridge-go/pkg/connection"
	"github.com/posebridge/posebridge-go/pkg/discovery"
	"github.com/posebridge/posebridge-go/pkg/heartbeat"
	"github.com/posebridge/posebridge-go/pkg/session"
	"github.com/posebridge/posebridge-go/pkg/transport"
)

// Tick and resync defaults.
const (
	DefaultFastTick            = 10 * time.Millisecond
	DefaultSlowTick            = 100 * time.Millisecond
	DefaultClockResync         = 3 * time.Second
	DefaultClientName          = "posebridge"
	DefaultCommandPeriodSecond = 0.02
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete bridge configuration.
type Config struct {
	// ClientName is sent in the connection URL. A random suffix is added
	// by the bridge when UniqueName is set.
	ClientName string `yaml:"client_name"`
	UniqueName bool   `yaml:"unique_name"`

	// Team derives the static candidates. Zero disables them.
	Team int `yaml:"team"`

	// Port is used for candidates without an explicit port.
	Port int `yaml:"port"`

	// Candidates are tried before the team-derived addresses.
	Candidates []string `yaml:"candidates,omitempty"`

	MDNS       MDNSConfig       `yaml:"mdns"`
	Connection ConnectionConfig `yaml:"connection"`
	KeepAlive  KeepAliveConfig  `yaml:"keepalive"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Session    SessionConfig    `yaml:"session"`
	Commands   CommandConfig    `yaml:"commands"`
	Ticks      TickConfig       `yaml:"ticks"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// StatePath is where the last good address is remembered. Empty
	// disables persistence.
	StatePath string `yaml:"state_path"`
}

// MDNSConfig configures controller discovery.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
}

// ConnectionConfig configures the reconnection supervisor.
type ConnectionConfig struct {
	ConnectTimeout   time.Duration            `yaml:"connect_timeout"`
	Cooldown         time.Duration            `yaml:"cooldown"`
	UnreachableRetry time.Duration            `yaml:"unreachable_retry"`
	WriteTimeout     time.Duration            `yaml:"write_timeout"`
	Backoff          connection.BackoffConfig `yaml:"backoff"`
}

// KeepAliveConfig configures WebSocket ping/pong. A negative interval
// disables it.
type KeepAliveConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
}

// HeartbeatConfig configures the application-level heartbeat.
type HeartbeatConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxFailures int           `yaml:"max_failures"`
}

// SessionConfig configures per-session buffers.
type SessionConfig struct {
	QueueLimit int `yaml:"queue_limit"`
}

// CommandConfig configures the command request subscription.
type CommandConfig struct {
	// SendAll subscribes to every change of the request topic. Otherwise
	// PeriodSeconds is used.
	SendAll       bool    `yaml:"send_all"`
	PeriodSeconds float64 `yaml:"period_seconds"`
}

// TickConfig configures the tick loop.
type TickConfig struct {
	Fast        time.Duration `yaml:"fast"`
	Slow        time.Duration `yaml:"slow"`
	ClockResync time.Duration `yaml:"clock_resync"`
}

// LogConfig configures operational logging and protocol capture.
type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	CapturePath string `yaml:"capture_path"`

	// Trace mirrors protocol capture events into the operational log at
	// debug level. Value traffic is left out.
	Trace bool `yaml:"trace"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ClientName: DefaultClientName,
		Port:       transport.DefaultPort,
		MDNS:       MDNSConfig{Enabled: true},
		Connection: ConnectionConfig{
			ConnectTimeout:   connection.DefaultConnectTimeout,
			Cooldown:         connection.DefaultCooldown,
			UnreachableRetry: connection.DefaultUnreachableRetry,
			WriteTimeout:     transport.DefaultWriteTimeout,
			Backoff:          connection.DefaultBackoffConfig(),
		},
		KeepAlive: KeepAliveConfig{
			PingInterval:   transport.DefaultPingInterval,
			PongTimeout:    transport.DefaultPongTimeout,
			MaxMissedPongs: transport.DefaultMaxMissedPongs,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:     true,
			Interval:    heartbeat.DefaultInterval,
			Timeout:     heartbeat.DefaultTimeout,
			MaxFailures: heartbeat.DefaultMaxFailures,
		},
		Session:  SessionConfig{QueueLimit: session.DefaultQueueLimit},
		Commands: CommandConfig{SendAll: true, PeriodSeconds: DefaultCommandPeriodSecond},
		Ticks: TickConfig{
			Fast:        DefaultFastTick,
			Slow:        DefaultSlowTick,
			ClockResync: DefaultClockResync,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the configuration for values the components cannot use.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.ClientName == "" {
		bad("client_name is required")
	}
	if strings.ContainsAny(c.ClientName, "/?# ") {
		bad("client_name %q contains URL path characters", c.ClientName)
	}
	if c.Team < 0 || c.Team > discovery.MaxTeam {
		bad("team %d out of range", c.Team)
	}
	if c.Port <= 0 || c.Port > 65535 {
		bad("port %d out of range", c.Port)
	}
	if c.Team == 0 && len(c.Candidates) == 0 && !c.MDNS.Enabled {
		bad("no way to find the controller: set team, candidates or mdns.enabled")
	}
	if c.Connection.ConnectTimeout <= 0 {
		bad("connection.connect_timeout must be positive")
	}
	if c.Connection.Cooldown < 0 {
		bad("connection.cooldown must not be negative")
	}
	if b := c.Connection.Backoff; b.Initial <= 0 || b.Max < b.Initial {
		bad("connection.backoff needs 0 < initial <= max")
	}
	if c.Heartbeat.Enabled {
		if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
			bad("heartbeat interval and timeout must be positive")
		}
		if c.Heartbeat.MaxFailures <= 0 {
			bad("heartbeat.max_failures must be positive")
		}
	}
	if c.Session.QueueLimit < 0 {
		bad("session.queue_limit must not be negative")
	}
	if !c.Commands.SendAll && c.Commands.PeriodSeconds <= 0 {
		bad("commands.period_seconds must be positive unless send_all is set")
	}
	if c.Ticks.Fast <= 0 || c.Ticks.Slow <= 0 {
		bad("tick periods must be positive")
	}
	if c.Ticks.Slow < c.Ticks.Fast {
		bad("ticks.slow must not be shorter than ticks.fast")
	}
	if c.Ticks.ClockResync <= 0 {
		bad("ticks.clock_resync must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		bad("log.format %q is not text or json", c.Log.Format)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
	}
	return l, nil
}

// Supervisor builds the connection supervisor configuration. candidates
// is the full ordered list, usually from discovery.StaticCandidates.
func (c Config) Supervisor(candidates []string) connection.SupervisorConfig {
	return connection.SupervisorConfig{
		Candidates:       candidates,
		ConnectTimeout:   c.Connection.ConnectTimeout,
		Cooldown:         c.Connection.Cooldown,
		UnreachableRetry: c.Connection.UnreachableRetry,
		Backoff:          c.Connection.Backoff,
		Session:          session.Options{QueueLimit: c.Session.QueueLimit},
	}
}

// StaticCandidates returns the configured and team-derived addresses.
func (c Config) StaticCandidates() []string {
	return discovery.StaticCandidates(c.Team, c.Candidates)
}

// Client builds the transport client configuration.
func (c Config) Client(clientName string) transport.ClientConfig {
	return transport.ClientConfig{
		ClientName:     clientName,
		Port:           c.Port,
		ConnectTimeout: c.Connection.ConnectTimeout,
		WriteTimeout:   c.Connection.WriteTimeout,
		KeepAlive: transport.KeepAliveConfig{
			PingInterval:   c.KeepAlive.PingInterval,
			PongTimeout:    c.KeepAlive.PongTimeout,
			MaxMissedPongs: c.KeepAlive.MaxMissedPongs,
		},
	}
}

// HeartbeatMonitor builds the heartbeat monitor configuration.
func (c Config) HeartbeatMonitor() heartbeat.Config {
	return heartbeat.Config{
		Interval:    c.Heartbeat.Interval,
		Timeout:     c.Heartbeat.Timeout,
		MaxFailures: c.Heartbeat.MaxFailures,
	}
}

// Browser builds the mDNS browser configuration.
func (c Config) Browser() discovery.BrowserConfig {
	b := discovery.DefaultBrowserConfig()
	b.Interface = c.MDNS.Interface
	b.Team = c.Team
	return b
}
