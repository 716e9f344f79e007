package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"myapi/internal/admin"
	authhandler "myapi/internal/auth/handler"
	authmetrics "myapi/internal/auth/metrics"
	authservice "myapi/internal/auth/service"
	"myapi/internal/auth/store/revocation"
	userstore "myapi/internal/auth/store/user"
	"myapi/internal/auth/token"
	"myapi/internal/eventstore"
	"myapi/internal/health"
	"myapi/internal/idempotency"
	itemgraphql "myapi/internal/item/graphql"
	itemhandler "myapi/internal/item/handler"
	itemmetrics "myapi/internal/item/metrics"
	itemservice "myapi/internal/item/service"
	itemstore "myapi/internal/item/store"
	"myapi/internal/platform/config"
	"myapi/internal/platform/kafka"
	"myapi/internal/platform/metrics"
	"myapi/internal/platform/postgres"
	platformredis "myapi/internal/platform/redis"
	rlmetrics "myapi/internal/ratelimit/metrics"
	ratelimitmw "myapi/internal/ratelimit/middleware"
	"myapi/internal/ratelimit/models"
	"myapi/internal/ratelimit/service/requestlimit"
	"myapi/internal/ratelimit/store/allowlist"
	"myapi/internal/ratelimit/store/bucket"
	"myapi/internal/realtime"
	httptransport "myapi/internal/transport/http"
	"myapi/pkg/platform/audit"
	"myapi/pkg/platform/audit/archive"
	"myapi/pkg/platform/audit/outbox"
	"myapi/pkg/platform/audit/publisher"
	auditmemory "myapi/pkg/platform/audit/store/memory"
	auditpg "myapi/pkg/platform/audit/store/postgres"
	"myapi/pkg/platform/circuit"
)

const (
	auditBufferSize = 1024
	snapshotEvery   = 50
	minBucketIdle   = 10 * time.Minute
)

// application holds the assembled handler and the background workers main
// runs alongside it.
type application struct {
	router  http.Handler
	relay   *outbox.Relay
	hub     *realtime.Hub
	buckets *bucket.InMemoryBucketStore
	// bucketIdle is how long a bucket may sit untouched before eviction.
	bucketIdle time.Duration
	purges     []purge
	closers    []func()
}

// purge deletes expired entries from a store without native expiry.
type purge struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// storage groups the persistence backends. Without DATABASE_URL every store
// is in-memory.
type storage struct {
	pool   *pgxpool.Pool
	db     *sql.DB
	items  itemservice.Store
	events eventstore.Store
	users  authservice.UserStore
	audit  audit.Store
	outbox *auditpg.OutboxStore
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	platformMetrics := metrics.New(reg)
	onBreakerChange := func(name string, from, to circuit.State) {
		platformMetrics.SetCircuitOpen(name, to == circuit.StateOpen)
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}

	st, err := openStorage(ctx, cfg, log, reg, app)
	if err != nil {
		return nil, err
	}

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		app.closers = append(app.closers, func() { _ = rdb.Close() })
	}

	auditPublisher := publisher.NewPublisher(st.audit,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
	)
	app.closers = append(app.closers, auditPublisher.Close)

	tokens := token.NewService(token.Config{
		SigningKey: cfg.Auth.JWTSigningKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
		Leeway:     cfg.Auth.Leeway,
	})

	revocations := newRevocationList(rdb, st.db, app)

	authSvc := authservice.New(st.users, revocations, tokens,
		authservice.WithLogger(log),
		authservice.WithMetrics(authmetrics.New(reg)),
		authservice.WithAuditPublisher(auditPublisher),
		authservice.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	if err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return nil, fmt.Errorf("ensure admin: %w", err)
	}

	rateLimit, err := buildRateLimiter(cfg, log, reg, rdb, auditPublisher, onBreakerChange, app)
	if err != nil {
		return nil, err
	}

	itemOpts := []itemservice.Option{
		itemservice.WithLogger(log),
		itemservice.WithMetrics(itemmetrics.New(reg)),
		itemservice.WithEventRepository(itemservice.NewEventRepository(st.events,
			eventstore.WithSnapshotEvery(snapshotEvery),
			eventstore.WithRepositoryLogger(log),
		)),
		itemservice.WithAuditPublisher(auditPublisher),
	}
	if cfg.Features.WebSocket {
		app.hub = realtime.NewHub(tokens, authSvc,
			realtime.WithLogger(log),
			realtime.WithMetrics(realtime.NewMetrics(reg)),
		)
		itemOpts = append(itemOpts, itemservice.WithNotifier(app.hub))
	}
	items := itemservice.New(st.items, itemOpts...)

	healthOpts := []health.Option{}
	if st.pool != nil {
		healthOpts = append(healthOpts, health.WithCheck("postgres", postgres.Health{Pool: st.pool, DB: st.db}.Check))
	}
	if rdb != nil {
		healthOpts = append(healthOpts, health.WithCheck("redis", rdb.Health))
	}

	if st.outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		producer, err := buildKafka(ctx, cfg.Kafka, app)
		if err != nil {
			return nil, err
		}
		app.relay = outbox.NewRelay(st.outbox, outboxPublisher(producer), cfg.Kafka.AuditTopic,
			outbox.WithInterval(cfg.Kafka.RelayInterval),
			outbox.WithBatchSize(cfg.Kafka.RelayBatch),
			outbox.WithLogger(log),
			outbox.WithMetrics(outbox.NewMetrics(reg)),
			outbox.WithBreaker(circuit.New("kafka-outbox", circuit.WithOnStateChange(onBreakerChange))),
		)
		healthOpts = append(healthOpts, health.WithCheck("kafka", producer.Health))
	}

	var exporter admin.Exporter
	if cfg.Archive.Bucket != "" {
		uploader, err := archive.NewS3Uploader(ctx, cfg.Archive.Region, cfg.Archive.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("configure audit archive: %w", err)
		}
		exporter = archive.NewExporter(st.audit, uploader, cfg.Archive.Bucket, cfg.Archive.Prefix)
	}

	idemStore := newIdempotencyStore(rdb, st.db, app)

	protected := []httptransport.Module{itemhandler.New(items, log)}
	if cfg.Features.GraphQL {
		protected = append(protected, itemgraphql.New(items, log))
	}
	protected = append(protected, admin.New(st.audit, exporter, auditPublisher, log))

	deps := httptransport.Dependencies{
		Logger: log,
		Config: httptransport.Config{
			RequestTimeout:    cfg.Server.RequestTimeout,
			MaxBodyBytes:      cfg.Server.MaxBodyBytes,
			EnableHSTS:        cfg.Server.EnableHSTS,
			TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		},
		Metrics:     platformMetrics,
		Gatherer:    reg,
		Validator:   tokens,
		Revocations: authSvc,
		RateLimit:   rateLimit,
		Idempotency: idempotency.New(idemStore, idempotency.WithLogger(log)).Handler,
		Health:      health.New(log, healthOpts...),
		Auth:        authhandler.New(authSvc, tokens, authSvc, log),
		Protected:   protected,
	}
	if app.hub != nil {
		deps.Realtime = app.hub
	}
	app.router = httptransport.NewRouter(deps)
	return app, nil
}

func openStorage(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer, app *application) (*storage, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		return &storage{
			items:  itemstore.NewInMemoryStore(),
			events: eventstore.NewInMemoryStore(),
			users:  userstore.New(),
			audit:  auditmemory.NewInMemoryStore(),
		}, nil
	}

	pool, err := postgres.OpenPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, pool.Close)
	db, err := postgres.OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = db.Close() })

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	reg.MustRegister(postgres.NewPoolCollector(pool, db))

	return &storage{
		pool:   pool,
		db:     db,
		items:  itemstore.NewPostgresStore(pool),
		events: eventstore.NewPostgresStore(pool),
		users:  userstore.NewPostgres(db),
		audit:  auditpg.New(db),
		outbox: auditpg.NewOutboxStore(db),
	}, nil
}

// buildRateLimiter prefers Redis buckets behind a circuit breaker and falls
// back to process-local buckets.
func buildRateLimiter(
	cfg config.Config,
	log *slog.Logger,
	reg prometheus.Registerer,
	rdb *platformredis.Client,
	auditPublisher *publisher.Publisher,
	onBreakerChange func(string, circuit.State, circuit.State),
	app *application,
) (*ratelimitmw.Middleware, error) {
	allow, err := allowlist.New(cfg.RateLimit.AllowlistIPs...)
	if err != nil {
		return nil, fmt.Errorf("rate limit allowlist: %w", err)
	}
	limits := &requestlimit.Config{Limits: map[models.EndpointClass]models.Limit{
		models.ClassAuth:  {Rate: cfg.RateLimit.AuthRate, Burst: cfg.RateLimit.AuthBurst},
		models.ClassRead:  {Rate: cfg.RateLimit.ReadRate, Burst: cfg.RateLimit.ReadBurst},
		models.ClassWrite: {Rate: cfg.RateLimit.WriteRate, Burst: cfg.RateLimit.WriteBurst},
	}}
	m := rlmetrics.New(reg)
	newLimiter := func(buckets requestlimit.BucketStore) (*requestlimit.Service, error) {
		return requestlimit.New(buckets, allow,
			requestlimit.WithLogger(log),
			requestlimit.WithAuditPublisher(auditPublisher),
			requestlimit.WithConfig(limits),
			requestlimit.WithMetrics(m),
		)
	}

	app.buckets = bucket.New()
	app.bucketIdle = bucketIdle(limits.Limits)
	fallback, err := newLimiter(app.buckets)
	if err != nil {
		return nil, err
	}
	var limiter ratelimitmw.RateLimiter = fallback
	if rdb != nil {
		primary, err := newLimiter(bucket.NewRedis(rdb.Client))
		if err != nil {
			return nil, err
		}
		limiter = ratelimitmw.NewResilientLimiter(primary, fallback,
			circuit.New("redis-ratelimit", circuit.WithOnStateChange(onBreakerChange)),
			ratelimitmw.WithFallbackLogger(log),
			ratelimitmw.WithFallbackMetrics(m),
		)
	}
	return ratelimitmw.New(limiter, log, ratelimitmw.WithDisabled(!cfg.RateLimit.Enabled)), nil
}

func buildKafka(ctx context.Context, cfg config.KafkaConfig, app *application) (*kafka.Producer, error) {
	client, err := kafka.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, client.Close)
	if err := kafka.EnsureTopic(ctx, client, cfg.AuditTopic, cfg.Partitions, cfg.Replication); err != nil {
		return nil, err
	}
	return kafka.NewProducer(client), nil
}

func outboxPublisher(producer *kafka.Producer) outbox.Publisher {
	return outbox.PublisherFunc(func(ctx context.Context, msgs ...outbox.Message) error {
		records := make([]kafka.Message, len(msgs))
		for i, m := range msgs {
			records[i] = kafka.Message(m)
		}
		return producer.Publish(ctx, records...)
	})
}

// newRevocationList prefers Redis, then Postgres, then memory. Stores
// without key expiry get a purge job.
func newRevocationList(rdb *platformredis.Client, db *sql.DB, app *application) authservice.RevocationList {
	switch {
	case rdb != nil:
		return revocation.NewRedisTRL(rdb.Client)
	case db != nil:
		trl := revocation.NewPostgresTRL(db)
		app.purges = append(app.purges, purge{name: "token_revocations", run: trl.PurgeExpired})
		return trl
	default:
		trl := revocation.NewInMemoryTRL()
		app.purges = append(app.purges, purge{name: "token_revocations", run: trl.PurgeExpired})
		return trl
	}
}

func newIdempotencyStore(rdb *platformredis.Client, db *sql.DB, app *application) idempotency.Store {
	switch {
	case rdb != nil:
		return idempotency.NewRedisStore(rdb.Client)
	case db != nil:
		store := idempotency.NewPostgresStore(db)
		app.purges = append(app.purges, purge{name: "idempotency_keys", run: store.Purge})
		return store
	default:
		store := idempotency.NewInMemoryStore()
		app.purges = append(app.purges, purge{name: "idempotency_keys", run: store.Purge})
		return store
	}
}

// bucketIdle never evicts a bucket that could still be refilling.
func bucketIdle(limits map[models.EndpointClass]models.Limit) time.Duration {
	return max(minBucketIdle, models.LongestRefill(limits))
}
