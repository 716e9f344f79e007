package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveHTTPRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveHTTPRequest(http.MethodGet, "/v1/items", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/v1/items", http.StatusOK, 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/v1/items", "200")))
}

func TestSetCircuitOpen(t *testing.T) {
	m := New(nil)
	m.SetCircuitOpen("redis", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("redis")))
	m.SetCircuitOpen("redis", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("redis")))
}
