package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"myapi/internal/auth/models"
	"myapi/internal/auth/token"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/audit"
	"myapi/pkg/platform/sentinel"
	"myapi/pkg/requestcontext"
)

const (
	grantPassword = "password"
	grantRefresh  = "refresh_token"
)

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")

// Login exchanges email and password for a token pair. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req *models.TokenRequest) (*models.TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	email := models.NormalizeEmail(req.Email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lookup user")
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		s.recordAuthFailure(ctx, email, "unknown_email")
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordAuthFailure(ctx, email, "bad_password")
		span.SetStatus(codes.Error, "invalid credentials")
		return nil, errInvalidCredentials
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID.String()))
	s.metrics.IncrementTokensIssued(grantPassword)
	s.emitAudit(ctx, audit.EventTokenIssued, audit.Event{
		UserID:   user.ID,
		Subject:  user.Email,
		Resource: "token",
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"grant": grantPassword, "jti": pair.AccessJTI},
	})
	return pair, nil
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// pair is issued. Presenting an already consumed token is rejected.
func (s *Service) Refresh(ctx context.Context, req *models.RefreshRequest) (*models.TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	claims, err := s.tokens.Validate(req.RefreshToken, token.TypeRefresh)
	if err != nil {
		s.recordAuthFailure(ctx, "", "invalid_refresh_token")
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid refresh token")
	}
	userID, _ := claims.UserID()

	ttl := claims.RemainingTTL(requestcontext.Now(ctx))
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
	}
	consumed, err := s.revocations.Consume(ctx, claims.ID, ttl)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to rotate refresh token")
	}
	if !consumed {
		s.logger.WarnContext(ctx, "refresh token replay detected",
			"user_id", userID.String(),
			"jti", claims.ID,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.metrics.IncrementAuthFailures("refresh_replay")
		s.emitAudit(ctx, audit.EventAuthFailed, audit.Event{
			UserID:   userID,
			Resource: "token",
			Outcome:  audit.OutcomeDenied,
			Reason:   "refresh_replay",
		})
		return nil, dErrors.New(dErrors.CodeUnauthorized, "refresh token has been revoked")
	}
	s.metrics.AddTokensRevoked(1)

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lookup user")
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementTokensIssued(grantRefresh)
	s.emitAudit(ctx, audit.EventTokenRefreshed, audit.Event{
		UserID:   user.ID,
		Resource: "token",
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"previous_jti": claims.ID, "jti": pair.AccessJTI},
	})
	return pair, nil
}

// Logout revokes the caller's access token and, when supplied, a refresh
// token belonging to the same user.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	userID := requestcontext.UserID(ctx)
	accessJTI := requestcontext.TokenID(ctx)
	if userID.IsNil() || accessJTI == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	revoked := []string{accessJTI}
	ttl := s.tokens.AccessTTL()

	if refreshToken != "" {
		claims, err := s.tokens.Validate(refreshToken, token.TypeRefresh)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid refresh token")
		}
		if owner, _ := claims.UserID(); owner != userID {
			return dErrors.New(dErrors.CodeForbidden, "refresh token belongs to another user")
		}
		revoked = append(revoked, claims.ID)
		ttl = max(ttl, claims.RemainingTTL(requestcontext.Now(ctx)))
	}

	if err := s.revocations.RevokeTokens(ctx, revoked, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to revoke token")
	}

	s.metrics.AddTokensRevoked(len(revoked))
	for _, jti := range revoked {
		s.emitAudit(ctx, audit.EventTokenRevoked, audit.Event{
			UserID:   userID,
			Resource: "token",
			Outcome:  audit.OutcomeSuccess,
			Metadata: map[string]string{"jti": jti},
		})
	}
	return nil
}

func (s *Service) recordAuthFailure(ctx context.Context, subject, reason string) {
	s.metrics.IncrementAuthFailures(reason)
	s.logger.WarnContext(ctx, "authentication failed",
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emitAudit(ctx, audit.EventAuthFailed, audit.Event{
		Subject:  subject,
		Resource: "token",
		Outcome:  audit.OutcomeFailure,
		Reason:   reason,
	})
}
