package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session collectors. One Metrics is shared by every
// session of a client; register it once per registerer.
type Metrics struct {
	messagesOut   *prometheus.CounterVec
	messagesIn    *prometheus.CounterVec
	valuesDropped *prometheus.CounterVec
	clockRTT      prometheus.Histogram
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posebridge",
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "WebSocket messages sent, by kind",
		}, []string{"kind"}),
		messagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posebridge",
			Subsystem: "session",
			Name:      "messages_received_total",
			Help:      "WebSocket messages received, by kind",
		}, []string{"kind"}),
		valuesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "posebridge",
			Subsystem: "session",
			Name:      "values_dropped_total",
			Help:      "Inbound or outbound values dropped, by reason",
		}, []string{"reason"}),
		clockRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "posebridge",
			Subsystem: "session",
			Name:      "clock_rtt_seconds",
			Help:      "Clock-sync round-trip time",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) sent(kind string) {
	if m != nil {
		m.messagesOut.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) received(kind string) {
	if m != nil {
		m.messagesIn.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.valuesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) rtt(micros int64) {
	if m != nil {
		m.clockRTT.Observe(float64(micros) / 1e6)
	}
}
