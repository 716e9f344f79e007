// Package requestlimit applies per-class token buckets to client IPs and
// authenticated users.
package requestlimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"myapi/internal/ratelimit/metrics"
	"myapi/internal/ratelimit/models"
	"myapi/internal/ratelimit/observability"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/audit"
	"myapi/pkg/requestcontext"
)

// configMissingRetry is returned when a class has no configured limit.
const configMissingRetry = time.Minute

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks BucketStore,AllowlistStore

// BucketStore consumes tokens from a named bucket.
type BucketStore interface {
	AllowN(ctx context.Context, key string, cost int, limit models.Limit) (*models.RateLimitResult, error)
}

// AllowlistStore reports identifiers that bypass rate limiting.
type AllowlistStore interface {
	IsAllowlisted(ctx context.Context, identifier string) (bool, error)
}

// Config maps each endpoint class to its bucket parameters.
type Config struct {
	Limits map[models.EndpointClass]models.Limit
}

// DefaultConfig returns conservative limits for every class.
func DefaultConfig() *Config {
	return &Config{Limits: map[models.EndpointClass]models.Limit{
		models.ClassAuth:  {Rate: 0.2, Burst: 10},
		models.ClassRead:  {Rate: 10, Burst: 100},
		models.ClassWrite: {Rate: 2, Burst: 30},
	}}
}

// LimitFor returns the configured limit for class.
func (c *Config) LimitFor(class models.EndpointClass) (models.Limit, bool) {
	if c == nil {
		return models.Limit{}, false
	}
	limit, ok := c.Limits[class]
	return limit, ok && limit.Valid()
}

type Service struct {
	buckets        BucketStore
	allowlist      AllowlistStore
	auditPublisher observability.AuditPublisher
	logger         *slog.Logger
	config         *Config
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher observability.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithConfig(cfg *Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(buckets BucketStore, allowlist AllowlistStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}
	if allowlist == nil {
		return nil, errors.New("allowlist store is required")
	}

	svc := &Service{
		buckets:   buckets,
		allowlist: allowlist,
		config:    DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckIP consumes one token from the client IP's bucket for class.
func (s *Service) CheckIP(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit, ok := s.config.LimitFor(class)
	if !ok {
		return s.configMissing(ctx, observability.AnonymizeIP(ip), class, models.KeyPrefixIP), nil
	}
	return s.checkRateLimit(ctx, ip, class, models.KeyPrefixIP, limit, observability.AnonymizeIP(ip))
}

// CheckUser consumes one token from the user's bucket for class.
func (s *Service) CheckUser(ctx context.Context, userID string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit, ok := s.config.LimitFor(class)
	if !ok {
		return s.configMissing(ctx, userID, class, models.KeyPrefixUser), nil
	}
	return s.checkRateLimit(ctx, userID, class, models.KeyPrefixUser, limit, userID)
}

func (s *Service) checkRateLimit(
	ctx context.Context,
	identifier string,
	class models.EndpointClass,
	keyPrefix models.KeyPrefix,
	limit models.Limit,
	logIdentifier string,
) (*models.RateLimitResult, error) {
	allowlisted, err := s.allowlist.IsAllowlisted(ctx, identifier)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check allowlist")
	}
	if allowlisted {
		return s.bypass(ctx, class, limit, string(keyPrefix), "identifier", logIdentifier), nil
	}

	key := models.NewRateLimitKey(keyPrefix, identifier, class)
	result, err := s.buckets.AllowN(ctx, key.String(), 1, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}
	s.metrics.RecordDecision(string(class), result.Allowed)
	if !result.Allowed {
		s.exceeded(ctx, logIdentifier, class, keyPrefix, limit)
	}
	return result, nil
}

// CheckBoth applies the IP bucket and then the user bucket; the first denial
// wins, otherwise the more restrictive result is returned.
func (s *Service) CheckBoth(ctx context.Context, ip, userID string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit, ok := s.config.LimitFor(class)
	if !ok {
		return s.configMissing(ctx, observability.AnonymizeIP(ip), class, models.KeyPrefixIP), nil
	}

	ipAllowlisted, err := s.allowlist.IsAllowlisted(ctx, ip)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check IP allowlist")
	}
	userAllowlisted, err := s.allowlist.IsAllowlisted(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check user allowlist")
	}
	if ipAllowlisted || userAllowlisted {
		bypassType := string(models.KeyPrefixIP)
		if userAllowlisted {
			bypassType = string(models.KeyPrefixUser)
		}
		return s.bypass(ctx, class, limit, bypassType,
			"ip", observability.AnonymizeIP(ip),
			"user_id", userID,
		), nil
	}

	ipKey := models.NewRateLimitKey(models.KeyPrefixIP, ip, class)
	ipRes, err := s.buckets.AllowN(ctx, ipKey.String(), 1, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check IP rate limit")
	}
	if !ipRes.Allowed {
		s.metrics.RecordDecision(string(class), false)
		s.exceeded(ctx, observability.AnonymizeIP(ip), class, models.KeyPrefixIP, limit)
		return ipRes, nil
	}

	userKey := models.NewRateLimitKey(models.KeyPrefixUser, userID, class)
	userRes, err := s.buckets.AllowN(ctx, userKey.String(), 1, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check user rate limit")
	}
	s.metrics.RecordDecision(string(class), userRes.Allowed)
	if !userRes.Allowed {
		s.exceeded(ctx, userID, class, models.KeyPrefixUser, limit)
		return userRes, nil
	}

	return models.MoreRestrictive(ipRes, userRes), nil
}

func (s *Service) bypass(ctx context.Context, class models.EndpointClass, limit models.Limit, bypassType string, attrList ...any) *models.RateLimitResult {
	s.metrics.RecordAllowlistBypass(bypassType)
	attrList = append(attrList, "endpoint_class", string(class), "bypass_type", bypassType)
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventAllowlistBypassed, attrList...)
	return &models.RateLimitResult{
		Allowed:   true,
		Bypassed:  true,
		Limit:     limit.Burst,
		Remaining: limit.Burst,
		ResetAt:   requestcontext.Now(ctx),
	}
}

func (s *Service) exceeded(ctx context.Context, logIdentifier string, class models.EndpointClass, keyPrefix models.KeyPrefix, limit models.Limit) {
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitExceeded,
		"identifier", logIdentifier,
		"endpoint_class", string(class),
		"limit_type", string(keyPrefix),
		"burst", limit.Burst,
		"rate", limit.Rate,
	)
}

// configMissing denies requests for classes without a configured limit.
func (s *Service) configMissing(ctx context.Context, logIdentifier string, class models.EndpointClass, keyPrefix models.KeyPrefix) *models.RateLimitResult {
	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitExceeded,
		"identifier", logIdentifier,
		"endpoint_class", string(class),
		"limit_type", string(keyPrefix),
		"reason", "config_missing",
	)
	s.metrics.RecordDecision(string(class), false)
	return &models.RateLimitResult{
		Allowed:    false,
		ResetAt:    requestcontext.Now(ctx).Add(configMissingRetry),
		RetryAfter: configMissingRetry,
	}
}
