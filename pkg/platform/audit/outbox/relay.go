// Package outbox relays committed audit outbox rows to Kafka.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"myapi/pkg/platform/audit/store/postgres"
	"myapi/pkg/platform/circuit"
)

// Source yields batches of unpublished entries.
type Source interface {
	ProcessBatch(ctx context.Context, limit int, fn func(ctx context.Context, entries []postgres.OutboxEntry) ([]uuid.UUID, error)) (int, error)
}

// Message is what the relay hands to the publisher.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher delivers messages, returning only once they are acknowledged.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msgs ...Message) error

func (f PublisherFunc) Publish(ctx context.Context, msgs ...Message) error { return f(ctx, msgs...) }

// Metrics tracks relay throughput and failures.
type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
	Skipped   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_outbox_published_total",
			Help: "Outbox entries published to Kafka",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_outbox_publish_failures_total",
			Help: "Outbox publish batches that failed",
		}),
		Skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "myapi_outbox_ticks_skipped_total",
			Help: "Relay ticks skipped because the Kafka circuit was open",
		}),
	}
}

// Relay polls the outbox and publishes entries. Kafka calls go through a
// circuit breaker so an unavailable cluster is not hammered every tick.
type Relay struct {
	source    Source
	publisher Publisher
	breaker   *circuit.Breaker
	topic     string
	interval  time.Duration
	batch     int
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Relay.
type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

func NewRelay(source Source, publisher Publisher, topic string, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		topic:     topic,
		interval:  2 * time.Second,
		batch:     100,
		logger:    slog.Default(),
		breaker:   circuit.New("kafka-outbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for {
				n, err := r.Tick(ctx)
				if err != nil || n < r.batch {
					break
				}
			}
		}
	}
}

// Tick publishes at most one batch and returns how many entries were
// acknowledged.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		if r.metrics != nil {
			r.metrics.Skipped.Inc()
		}
		return 0, circuit.ErrOpen
	}

	n, err := r.source.ProcessBatch(ctx, r.batch, func(ctx context.Context, entries []postgres.OutboxEntry) ([]uuid.UUID, error) {
		msgs := make([]Message, 0, len(entries))
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, Message{
				Topic: r.topic,
				Key:   []byte(e.AggregateID),
				Value: e.Payload,
				Headers: map[string]string{
					"event_type":     e.EventType,
					"aggregate_type": e.AggregateType,
					"outbox_id":      e.ID.String(),
				},
			})
			ids = append(ids, e.ID)
		}
		err := r.breaker.Execute(ctx, func(ctx context.Context) error {
			return r.publisher.Publish(ctx, msgs...)
		})
		if err != nil {
			return nil, err
		}
		return ids, nil
	})
	if err != nil {
		if r.metrics != nil {
			r.metrics.Failures.Inc()
		}
		if !errors.Is(err, context.Canceled) {
			r.logger.WarnContext(ctx, "outbox relay batch failed",
				"error", err,
				"breaker_state", r.breaker.State().String(),
			)
		}
		return n, err
	}
	if r.metrics != nil && n > 0 {
		r.metrics.Published.Add(float64(n))
	}
	return n, nil
}
