package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/httputil"
	request "myapi/pkg/platform/middleware/request"
	"myapi/pkg/requestcontext"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	DefaultTTL   = 24 * time.Hour
	maxKeyLength = 255

	// storeTimeout bounds Complete and Release, which run after the request
	// context may already be done.
	storeTimeout = 5 * time.Second
)

// replayedHeaders are copied from the first response onto replays.
var replayedHeaders = []string{"Content-Type", "Location", "ETag"}

type Middleware struct {
	store        Store
	ttl          time.Duration
	maxBodyBytes int64
	logger       *slog.Logger
}

type Option func(*Middleware)

func WithTTL(ttl time.Duration) Option {
	return func(m *Middleware) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func New(store Store, opts ...Option) *Middleware {
	m := &Middleware{
		store:        store,
		ttl:          DefaultTTL,
		maxBodyBytes: httputil.DefaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler applies to POST requests carrying an Idempotency-Key. Keys are
// scoped to the caller, method and path. A key reused with a different body
// is rejected with 422; a key whose first request is still running gets 409.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderKey)
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		if len(key) > maxKeyLength {
			httputil.WriteError(w, r, dErrors.New(dErrors.CodeBadRequest, "Idempotency-Key is too long"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.maxBodyBytes))
		if err != nil {
			httputil.WriteError(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "request body too large"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scoped := ScopedKey(requestcontext.UserID(ctx).String(), r.Method, r.URL.Path, key)
		bodyHash := sha256.Sum256(body)
		hash := hex.EncodeToString(bodyHash[:])

		existing, reserved, err := m.store.Reserve(ctx, scoped, hash, m.ttl)
		if err != nil {
			// fail open: the request runs without replay protection
			m.logger.ErrorContext(ctx, "idempotency store unavailable",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}
		if !reserved {
			m.replay(w, r, existing, hash)
			return
		}

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			if !completed {
				releaseCtx, cancel := detach(ctx)
				defer cancel()
				if err := m.store.Release(releaseCtx, scoped); err != nil {
					m.logger.ErrorContext(ctx, "failed to release idempotency key",
						"error", err,
						"request_id", request.GetRequestID(ctx),
					)
				}
			}
		}()

		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			return
		}
		header := http.Header{}
		for _, name := range replayedHeaders {
			if v := rec.Header().Get(name); v != "" {
				header.Set(name, v)
			}
		}
		completeCtx, cancel := detach(ctx)
		defer cancel()
		err = m.store.Complete(completeCtx, &Record{
			Key:         scoped,
			RequestHash: hash,
			Status:      rec.status,
			Header:      header,
			Body:        rec.body.Bytes(),
		}, m.ttl)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to store idempotent response",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
			return
		}
		completed = true
	})
}

func (m *Middleware) replay(w http.ResponseWriter, r *http.Request, record *Record, hash string) {
	switch {
	case record.RequestHash != hash:
		httputil.WriteError(w, r, dErrors.New(dErrors.CodeInvariantViolation,
			"Idempotency-Key was already used with a different request body"))
	case record.Pending():
		httputil.WriteError(w, r, dErrors.New(dErrors.CodeConflict,
			"a request with this Idempotency-Key is still in progress"))
	default:
		for name, values := range record.Header {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.Header().Set(HeaderReplayed, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

// detach keeps the request's values but not its deadline or cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

// ScopedKey binds a client key to the caller and route.
func ScopedKey(userID, method, path, key string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + method + "\x00" + path + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// recorder passes the response through while keeping a copy.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
