package service

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"

	"myapi/internal/auth/models"
	userStore "myapi/internal/auth/store/user"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/audit"
	"myapi/pkg/platform/sentinel"
	"myapi/pkg/requestcontext"
)

// Register creates a user with the default role.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer span.End()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, req.Email, req.Password, []string{models.RoleUser})
	if err != nil {
		span.SetStatus(codes.Error, "register failed")
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email already registered")
		}
		return nil, err
	}

	s.metrics.IncrementUsersRegistered()
	s.emitAudit(ctx, audit.EventUserRegistered, audit.Event{
		UserID:     user.ID,
		Subject:    user.Email,
		ResourceID: user.ID.String(),
		Outcome:    audit.OutcomeSuccess,
	})
	s.logger.InfoContext(ctx, "user registered",
		"user_id", user.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return user, nil
}

// Me returns the authenticated principal's account.
func (s *Service) Me(ctx context.Context) (*models.User, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lookup user")
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap admin, or grants the admin role to an
// existing account with that email. Empty credentials are a no-op.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	req := &models.RegisterRequest{Email: email, Password: password}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	existing, err := s.users.FindByEmail(ctx, req.Email)
	switch {
	case err == nil:
		if existing.IsAdmin() {
			return nil
		}
		roles := append(slices.Clone(existing.Roles), models.RoleAdmin)
		if err := s.users.UpdateRoles(ctx, existing.ID, roles); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to promote admin")
		}
		s.logger.InfoContext(ctx, "granted admin role", "user_id", existing.ID.String())
		return nil
	case !errors.Is(err, userStore.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lookup admin")
	}

	user, err := s.createUser(ctx, req.Email, req.Password, []string{models.RoleUser, models.RoleAdmin})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		return err
	}
	s.logger.InfoContext(ctx, "seeded admin user", "user_id", user.ID.String())
	return nil
}

func (s *Service) createUser(ctx context.Context, email, password string, roles []string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	now := requestcontext.Now(ctx).UTC()
	user := &models.User{
		ID:           id.NewUserID(),
		Email:        email,
		PasswordHash: string(hash),
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return user, nil
}
