package postgres

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exports connection pool statistics for the pgx pool and the
// database/sql pool. Either may be nil.
type PoolCollector struct {
	pool *pgxpool.Pool
	db   *sql.DB

	acquired     *prometheus.Desc
	idle         *prometheus.Desc
	total        *prometheus.Desc
	max          *prometheus.Desc
	acquireCount *prometheus.Desc
	emptyAcquire *prometheus.Desc
	acquireWait  *prometheus.Desc
	waitCount    *prometheus.Desc
	waitDuration *prometheus.Desc
}

// NewPoolCollector builds a collector; register it with prometheus.MustRegister.
func NewPoolCollector(pool *pgxpool.Pool, db *sql.DB) *PoolCollector {
	labels := []string{"pool"}
	return &PoolCollector{
		pool:         pool,
		db:           db,
		acquired:     prometheus.NewDesc("myapi_db_pool_in_use_connections", "Connections currently acquired or in use", labels, nil),
		idle:         prometheus.NewDesc("myapi_db_pool_idle_connections", "Idle connections in the pool", labels, nil),
		total:        prometheus.NewDesc("myapi_db_pool_open_connections", "Open connections in the pool", labels, nil),
		max:          prometheus.NewDesc("myapi_db_pool_max_connections", "Configured maximum connections", labels, nil),
		acquireCount: prometheus.NewDesc("myapi_db_pool_acquire_total", "Successful connection acquisitions", labels, nil),
		emptyAcquire: prometheus.NewDesc("myapi_db_pool_empty_acquire_total", "Acquisitions that had to wait for a connection", labels, nil),
		acquireWait:  prometheus.NewDesc("myapi_db_pool_acquire_duration_seconds_total", "Cumulative time spent acquiring connections", labels, nil),
		waitCount:    prometheus.NewDesc("myapi_db_pool_wait_total", "Connections waited for (database/sql)", labels, nil),
		waitDuration: prometheus.NewDesc("myapi_db_pool_wait_duration_seconds_total", "Cumulative time blocked waiting for a connection (database/sql)", labels, nil),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.acquireCount
	ch <- c.emptyAcquire
	ch <- c.acquireWait
	ch <- c.waitCount
	ch <- c.waitDuration
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool != nil {
		s := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()), "pgx")
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()), "pgx")
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()), "pgx")
		ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()), "pgx")
		ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(s.AcquireCount()), "pgx")
		ch <- prometheus.MustNewConstMetric(c.emptyAcquire, prometheus.CounterValue, float64(s.EmptyAcquireCount()), "pgx")
		ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, s.AcquireDuration().Seconds(), "pgx")
	}
	if c.db != nil {
		s := c.db.Stats()
		ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.InUse), "sql")
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), "sql")
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.OpenConnections), "sql")
		ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxOpenConnections), "sql")
		ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(s.WaitCount), "sql")
		ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, s.WaitDuration.Seconds(), "sql")
	}
}
