package connection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the supervisor collectors. A nil *metrics is a no-op.
type metrics struct {
	attempts       *prometheus.CounterVec
	sessionsOpened prometheus.Counter
	state          prometheus.Gauge
	backoff        prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posebridge",
			Subsystem: "supervisor",
			Name:      "attempts_total",
			Help:      "Candidate connection attempts, by result",
		}, []string{"result"}),
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "posebridge",
			Subsystem: "supervisor",
			Name:      "sessions_opened_total",
			Help:      "Sessions opened",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "posebridge",
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "Supervisor state (0 disconnected, 1 connecting, 2 connected, 3 closed)",
		}),
		backoff: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "posebridge",
			Subsystem: "supervisor",
			Name:      "backoff_seconds",
			Help:      "Delay before the next full candidate cycle",
		}),
	}
}

func (m *metrics) attempt(result string) {
	if m != nil {
		m.attempts.WithLabelValues(result).Inc()
	}
}

func (m *metrics) opened() {
	if m != nil {
		m.sessionsOpened.Inc()
	}
}

func (m *metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *metrics) setBackoff(seconds float64) {
	if m != nil {
		m.backoff.Set(seconds)
	}
}
