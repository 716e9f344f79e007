package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myapi/internal/ratelimit/models"
	"myapi/internal/ratelimit/service/requestlimit"
	"myapi/internal/ratelimit/store/allowlist"
	"myapi/internal/ratelimit/store/bucket"
	id "myapi/pkg/domain"
	"myapi/pkg/platform/circuit"
	"myapi/pkg/platform/httputil"
	"myapi/pkg/requestcontext"
)

type stubLimiter struct {
	result *models.RateLimitResult
	err    error
	calls  []string
}

func (s *stubLimiter) CheckIP(_ context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	s.calls = append(s.calls, "ip:"+ip+":"+string(class))
	return s.copyResult(), s.err
}

func (s *stubLimiter) CheckBoth(_ context.Context, ip, userID string, class models.EndpointClass) (*models.RateLimitResult, error) {
	s.calls = append(s.calls, "both:"+ip+":"+userID+":"+string(class))
	return s.copyResult(), s.err
}

func (s *stubLimiter) copyResult() *models.RateLimitResult {
	if s.result == nil {
		return nil
	}
	c := *s.result
	return &c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func request(ctx context.Context, method string) *http.Request {
	req := httptest.NewRequest(method, "/v1/items", nil)
	return req.WithContext(requestcontext.WithClientMetadata(ctx, "192.0.2.10", "test"))
}

func TestRateLimit_SetsHeaders(t *testing.T) {
	reset := time.Unix(1_800_000_000, 0)
	limiter := &stubLimiter{result: &models.RateLimitResult{Allowed: true, Limit: 10, Remaining: 7, ResetAt: reset}}
	mw := New(limiter, discardLogger())

	rec := httptest.NewRecorder()
	mw.RateLimit(models.ClassAuth)(okHandler).ServeHTTP(rec, request(context.Background(), http.MethodPost))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get(HeaderLimit))
	assert.Equal(t, "7", rec.Header().Get(HeaderRemaining))
	assert.Equal(t, "1800000000", rec.Header().Get(HeaderReset))
	assert.Empty(t, rec.Header().Get(HeaderStatus))
	assert.Equal(t, []string{"ip:192.0.2.10:auth"}, limiter.calls)
}

func TestRateLimit_Denied(t *testing.T) {
	limiter := &stubLimiter{result: &models.RateLimitResult{Allowed: false, Limit: 10, RetryAfter: 4 * time.Second}}
	mw := New(limiter, discardLogger())

	rec := httptest.NewRecorder()
	mw.RateLimit(models.ClassAuth)(okHandler).ServeHTTP(rec, request(context.Background(), http.MethodPost))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Retry-After"))
	assert.Equal(t, httputil.ProblemContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "0", rec.Header().Get(HeaderRemaining))
}

func TestRateLimitByMethod(t *testing.T) {
	userID := id.NewUserID()
	limiter := &stubLimiter{result: &models.RateLimitResult{Allowed: true, Limit: 5}}
	mw := New(limiter, discardLogger())
	h := mw.RateLimitByMethod()(okHandler)

	h.ServeHTTP(httptest.NewRecorder(), request(context.Background(), http.MethodGet))
	authed := requestcontext.WithUserID(context.Background(), userID)
	h.ServeHTTP(httptest.NewRecorder(), request(authed, http.MethodPatch))

	assert.Equal(t, []string{
		"ip:192.0.2.10:read",
		"both:192.0.2.10:" + userID.String() + ":write",
	}, limiter.calls)
}

func TestRateLimit_FailsOpenOnError(t *testing.T) {
	mw := New(&stubLimiter{err: errors.New("boom")}, discardLogger())
	rec := httptest.NewRecorder()
	mw.RateLimit(models.ClassRead)(okHandler).ServeHTTP(rec, request(context.Background(), http.MethodGet))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	limiter := &stubLimiter{}
	mw := New(limiter, discardLogger(), WithDisabled(true))
	rec := httptest.NewRecorder()
	mw.RateLimit(models.ClassRead)(okHandler).ServeHTTP(rec, request(context.Background(), http.MethodGet))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, limiter.calls)
}

func TestResilientLimiter_FallsBackWhenPrimaryFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	primary := &stubLimiter{err: errors.New("redis: connection refused")}
	fallbackSvc, err := requestlimit.New(bucket.New(bucket.WithClock(clock)), mustAllowlist(t))
	require.NoError(t, err)

	breaker := circuit.New("ratelimit", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Minute), circuit.WithClock(clock))
	limiter := NewResilientLimiter(primary, fallbackSvc, breaker, WithFallbackLogger(discardLogger()))
	mw := New(limiter, discardLogger())
	h := mw.RateLimit(models.ClassRead)(okHandler)

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request(context.Background(), http.MethodGet))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "degraded", rec.Header().Get(HeaderStatus))
	}
	assert.True(t, limiter.Degraded())
	assert.Len(t, primary.calls, 2, "open breaker skips the primary")
}

func TestResilientLimiter_RecoversAfterCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	primary := &stubLimiter{err: errors.New("down")}
	fallback := &stubLimiter{result: &models.RateLimitResult{Allowed: true, Limit: 1}}
	breaker := circuit.New("ratelimit",
		circuit.WithFailureThreshold(1),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Second),
		circuit.WithClock(clock),
	)
	limiter := NewResilientLimiter(primary, fallback, breaker)

	res, err := limiter.CheckIP(context.Background(), "192.0.2.1", models.ClassRead)
	require.NoError(t, err)
	assert.True(t, res.Degraded)

	now = now.Add(2 * time.Second)
	primary.err = nil
	primary.result = &models.RateLimitResult{Allowed: true, Limit: 9}

	res, err = limiter.CheckIP(context.Background(), "192.0.2.1", models.ClassRead)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, 9, res.Limit)
	assert.Equal(t, circuit.StateClosed, breaker.State())
}

func mustAllowlist(t *testing.T) *allowlist.InMemoryAllowlist {
	t.Helper()
	list, err := allowlist.New()
	require.NoError(t, err)
	return list
}
