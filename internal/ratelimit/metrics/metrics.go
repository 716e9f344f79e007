package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions         *prometheus.CounterVec
	AllowlistBypasses *prometheus.CounterVec
	StoreErrors       prometheus.Counter
	Degraded          prometheus.Gauge
}

// New registers rate limit metrics with reg; nil leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myapi_ratelimit_decisions_total",
			Help: "Rate limit decisions by endpoint class and outcome",
		}, []string{"class", "outcome"}),
		AllowlistBypasses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myapi_ratelimit_allowlist_bypass_total",
			Help: "Requests that skipped rate limiting because of the allowlist",
		}, []string{"type"}),
		StoreErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_ratelimit_store_errors_total",
			Help: "Primary bucket store failures",
		}),
		Degraded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "myapi_ratelimit_degraded",
			Help: "1 while decisions are served by the in-memory fallback",
		}),
	}
}

func (m *Metrics) RecordDecision(class string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.Decisions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) RecordAllowlistBypass(bypassType string) {
	if m == nil {
		return
	}
	m.AllowlistBypasses.WithLabelValues(bypassType).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
