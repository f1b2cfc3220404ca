package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	handled *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	return &metrics{
		handled: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "posebridge",
			Subsystem: "command",
			Name:      "handled_total",
			Help:      "Commands executed, by type and result",
		}, []string{"type", "result"}),
	}
}

func (m *metrics) observe(t Type, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.handled.WithLabelValues(t.String(), result).Inc()
}
