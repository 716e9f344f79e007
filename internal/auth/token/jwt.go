package token

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	authmw "myapi/pkg/platform/middleware/auth"
)

// Type distinguishes access from refresh tokens via the typ claim.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the JWT payload for both token types.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	Type  Type     `json:"typ"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (id.UserID, error) {
	return id.ParseUserID(c.Subject)
}

// Issued describes a freshly signed token.
type Issued struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// Config holds signing and lifetime settings.
type Config struct {
	SigningKey string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// Service issues and validates HS256 tokens.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now for issuing and validation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(cfg Config, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		leeway:     cfg.Leeway,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) AccessTTL() time.Duration  { return s.accessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Issue signs a token of the given type for userID.
func (s *Service) Issue(userID id.UserID, roles []string, typ Type) (Issued, error) {
	ttl := s.accessTTL
	if typ == TypeRefresh {
		ttl = s.refreshTTL
		roles = nil
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	jti := uuid.NewString()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: roles,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}).SignedString(s.signingKey)
	if err != nil {
		return Issued{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return Issued{Token: signed, JTI: jti, ExpiresAt: expiresAt.UTC()}, nil
}

// Validate verifies signature, algorithm, issuer, audience, time claims and
// token type. Every failure maps to CodeUnauthorized.
func (s *Service) Validate(raw string, typ Type) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token has expired")
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token issuer")
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token audience")
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token not valid yet")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if claims.Type != typ {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected token type")
	}
	if claims.ID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing jti")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token subject")
	}
	return claims, nil
}

// ValidateAccessToken satisfies the auth middleware validator.
func (s *Service) ValidateAccessToken(_ context.Context, raw string) (*authmw.JWTClaims, error) {
	claims, err := s.Validate(raw, TypeAccess)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}

// ToMiddlewareClaims projects validated claims onto the middleware view.
func ToMiddlewareClaims(claims *Claims) *authmw.JWTClaims {
	userID, _ := claims.UserID()
	return &authmw.JWTClaims{
		UserID: userID,
		Roles:  slices.Clone(claims.Roles),
		JTI:    claims.ID,
	}
}

// RemainingTTL returns how long until the token expires, used to size
// revocation entries.
func (c *Claims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
