package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections prometheus.Gauge
	Published   *prometheus.CounterVec
	Dropped     prometheus.Counter
}

// NewMetrics registers realtime metrics with reg; nil leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "myapi_realtime_connections",
			Help: "Open WebSocket subscriber connections",
		}),
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myapi_realtime_messages_published_total",
			Help: "Messages fanned out to subscribers, by event",
		}, []string{"event"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_realtime_slow_clients_dropped_total",
			Help: "Subscribers disconnected because their send buffer was full",
		}),
	}
}

func (m *Metrics) AddConnections(delta float64) {
	if m == nil {
		return
	}
	m.Connections.Add(delta)
}

func (m *Metrics) IncrementPublished(event string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(event).Inc()
}

func (m *Metrics) IncrementDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}
