// Package service implements registration, credential exchange, refresh
// rotation and revocation on top of the token service and user store.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"myapi/internal/auth/metrics"
	"myapi/internal/auth/models"
	"myapi/internal/auth/token"
	"myapi/internal/platform/tracing"
	id "myapi/pkg/domain"
	"myapi/pkg/platform/audit"
	"myapi/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks UserStore,RevocationList,TokenIssuer,AuditPublisher

// UserStore persists user accounts.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateRoles(ctx context.Context, userID id.UserID, roles []string) error
}

// RevocationList tracks revoked token IDs until the tokens expire.
type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	RevokeTokens(ctx context.Context, jtis []string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// TokenIssuer signs and validates JWTs.
type TokenIssuer interface {
	Issue(userID id.UserID, roles []string, typ token.Type) (token.Issued, error)
	Validate(raw string, typ token.Type) (*token.Claims, error)
	AccessTTL() time.Duration
}

// AuditPublisher records security-relevant actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	users       UserStore
	revocations RevocationList
	tokens      TokenIssuer
	auditor     AuditPublisher
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	bcryptCost  int

	// dummyHash keeps unknown-email logins as slow as wrong-password ones.
	dummyHash []byte
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

// WithBcryptCost overrides the hashing cost. Out-of-range values fall back
// to bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			cost = bcrypt.DefaultCost
		}
		s.bcryptCost = cost
	}
}

func New(users UserStore, revocations RevocationList, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		users:       users,
		revocations: revocations,
		tokens:      tokens,
		logger:      slog.Default(),
		tracer:      tracing.Tracer("auth"),
		bcryptCost:  bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer-password"), s.bcryptCost)
	return s
}

// IsTokenRevoked satisfies the auth middleware revocation checker.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revocations.IsRevoked(ctx, jti)
}

func (s *Service) emitAudit(ctx context.Context, action audit.AuditEvent, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event.Action = string(action)
	if event.Resource == "" {
		event.Resource = "user"
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", event.Action,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (s *Service) issuePair(user *models.User) (*models.TokenPair, error) {
	access, err := s.tokens.Issue(user.ID, user.Roles, token.TypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Issue(user.ID, nil, token.TypeRefresh)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        models.TokenTypeBearer,
		ExpiresIn:        int64(s.tokens.AccessTTL().Seconds()),
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		AccessJTI:        access.JTI,
		RefreshJTI:       refresh.JTI,
	}, nil
}
