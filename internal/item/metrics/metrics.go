package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Commands        *prometheus.CounterVec
	Conflicts       prometheus.Counter
	EventFailures   prometheus.Counter
	EventGaps       prometheus.Counter
	ReadsCoalesced  prometheus.Counter
	CommandDuration *prometheus.HistogramVec
}

// New registers item metrics with reg; nil leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "myapi_item_commands_total",
			Help: "Item commands, by command and outcome",
		}, []string{"command", "outcome"}),
		Conflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_item_version_conflicts_total",
			Help: "Writes rejected because of a stale version",
		}),
		EventFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_item_event_append_failures_total",
			Help: "Item changes that could not be appended to the event stream",
		}),
		EventGaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_item_event_gaps_filled_total",
			Help: "Event stream positions filled after a lost append",
		}),
		ReadsCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_item_reads_coalesced_total",
			Help: "Item reads served by an in-flight lookup for the same id",
		}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "myapi_item_command_duration_seconds",
			Help:    "Item command latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
	}
}

func (m *Metrics) RecordCommand(command, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(seconds)
}

func (m *Metrics) IncrementConflicts() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) IncrementEventFailures() {
	if m == nil {
		return
	}
	m.EventFailures.Inc()
}

func (m *Metrics) AddEventGaps(n int) {
	if m == nil {
		return
	}
	m.EventGaps.Add(float64(n))
}

func (m *Metrics) IncrementReadsCoalesced() {
	if m == nil {
		return
	}
	m.ReadsCoalesced.Inc()
}
