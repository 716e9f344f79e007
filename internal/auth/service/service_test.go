package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"myapi/internal/auth/models"
	"myapi/internal/auth/service/mocks"
	"myapi/internal/auth/store/revocation"
	userStore "myapi/internal/auth/store/user"
	"myapi/internal/auth/token"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/audit"
	"myapi/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	users       *userStore.InMemoryUserStore
	revocations *revocation.InMemoryTRL
	tokens      *token.Service
	auditor     *mocks.MockAuditPublisher
	service     *Service
	events      []audit.Event
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.users = userStore.New()
	s.revocations = revocation.NewInMemoryTRL()
	s.tokens = token.NewService(token.Config{
		SigningKey: "service-test-signing-key",
		Issuer:     "myapi",
		Audience:   "myapi-clients",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Leeway:     30 * time.Second,
	})
	s.events = nil
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event audit.Event) error {
			s.events = append(s.events, event)
			return nil
		}).AnyTimes()
	s.service = New(s.users, s.revocations, s.tokens,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.auditor),
		WithBcryptCost(bcrypt.MinCost),
	)
}

func (s *ServiceSuite) register(email, password string) *models.User {
	user, err := s.service.Register(context.Background(), &models.RegisterRequest{Email: email, Password: password})
	s.Require().NoError(err)
	return user
}

func (s *ServiceSuite) lastAction() string {
	s.Require().NotEmpty(s.events)
	return s.events[len(s.events)-1].Action
}

func (s *ServiceSuite) TestRegister() {
	s.Run("normalizes email and hashes password", func() {
		user := s.register("  Jane.Doe@Example.COM ", "correct horse battery")
		s.Equal("jane.doe@example.com", user.Email)
		s.Equal([]string{models.RoleUser}, user.Roles)
		s.NotEqual("correct horse battery", user.PasswordHash)
		s.NoError(bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse battery")))
		s.Equal(string(audit.EventUserRegistered), s.lastAction())
	})

	s.Run("rejects duplicate email with conflict", func() {
		_, err := s.service.Register(context.Background(), &models.RegisterRequest{
			Email: "JANE.DOE@example.com", Password: "another long password",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects invalid input with field errors", func() {
		_, err := s.service.Register(context.Background(), &models.RegisterRequest{Email: "not-an-email", Password: "short"})
		s.Require().Error(err)
		de, ok := dErrors.As(err)
		s.Require().True(ok)
		s.Equal(dErrors.CodeValidation, de.Code)
		fields := map[string]bool{}
		for _, f := range de.Fields {
			fields[f.Field] = true
		}
		s.True(fields["email"])
		s.True(fields["password"])
	})
}

func (s *ServiceSuite) TestLogin() {
	user := s.register("login@example.com", "a very long password")

	s.Run("issues an access and refresh token", func() {
		pair, err := s.service.Login(context.Background(), &models.TokenRequest{Email: "LOGIN@example.com", Password: "a very long password"})
		s.Require().NoError(err)
		s.Equal(models.TokenTypeBearer, pair.TokenType)
		s.Equal(int64(900), pair.ExpiresIn)

		claims, err := s.tokens.Validate(pair.AccessToken, token.TypeAccess)
		s.Require().NoError(err)
		s.Equal(user.ID.String(), claims.Subject)
		s.Equal([]string{models.RoleUser}, claims.Roles)

		_, err = s.tokens.Validate(pair.RefreshToken, token.TypeRefresh)
		s.Require().NoError(err)
		s.Equal(string(audit.EventTokenIssued), s.lastAction())
	})

	s.Run("wrong password and unknown email fail identically", func() {
		_, errWrong := s.service.Login(context.Background(), &models.TokenRequest{Email: "login@example.com", Password: "wrong password!!"})
		_, errUnknown := s.service.Login(context.Background(), &models.TokenRequest{Email: "ghost@example.com", Password: "wrong password!!"})
		s.True(dErrors.HasCode(errWrong, dErrors.CodeUnauthorized))
		s.Equal(errWrong.Error(), errUnknown.Error())
		s.Equal(string(audit.EventAuthFailed), s.lastAction())
	})
}

func (s *ServiceSuite) TestRefreshRotation() {
	s.register("refresh@example.com", "a very long password")
	pair, err := s.service.Login(context.Background(), &models.TokenRequest{Email: "refresh@example.com", Password: "a very long password"})
	s.Require().NoError(err)

	rotated, err := s.service.Refresh(context.Background(), &models.RefreshRequest{RefreshToken: pair.RefreshToken})
	s.Require().NoError(err)
	s.NotEqual(pair.RefreshToken, rotated.RefreshToken)
	s.Equal(string(audit.EventTokenRefreshed), s.lastAction())

	revoked, err := s.revocations.IsRevoked(context.Background(), pair.RefreshJTI)
	s.Require().NoError(err)
	s.True(revoked, "old refresh token is revoked")

	_, err = s.service.Refresh(context.Background(), &models.RefreshRequest{RefreshToken: pair.RefreshToken})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "replay is rejected")
	s.Equal(string(audit.EventAuthFailed), s.lastAction())

	_, err = s.service.Refresh(context.Background(), &models.RefreshRequest{RefreshToken: pair.AccessToken})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "access token cannot refresh")
}

func (s *ServiceSuite) TestLogout() {
	user := s.register("logout@example.com", "a very long password")
	pair, err := s.service.Login(context.Background(), &models.TokenRequest{Email: "logout@example.com", Password: "a very long password"})
	s.Require().NoError(err)

	ctx := requestcontext.WithPrincipal(context.Background(), user.ID, user.Roles)
	ctx = requestcontext.WithTokenID(ctx, pair.AccessJTI)

	s.Require().NoError(s.service.Logout(ctx, pair.RefreshToken))

	for _, jti := range []string{pair.AccessJTI, pair.RefreshJTI} {
		revoked, err := s.service.IsTokenRevoked(ctx, jti)
		s.Require().NoError(err)
		s.True(revoked, jti)
	}
	s.Equal(string(audit.EventTokenRevoked), s.lastAction())

	_, err = s.service.Refresh(context.Background(), &models.RefreshRequest{RefreshToken: pair.RefreshToken})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	s.True(dErrors.HasCode(s.service.Logout(context.Background(), ""), dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestLogoutRejectsForeignRefreshToken() {
	owner := s.register("owner@example.com", "a very long password")
	s.register("other@example.com", "a very long password")
	otherPair, err := s.service.Login(context.Background(), &models.TokenRequest{Email: "other@example.com", Password: "a very long password"})
	s.Require().NoError(err)

	ctx := requestcontext.WithPrincipal(context.Background(), owner.ID, owner.Roles)
	ctx = requestcontext.WithTokenID(ctx, "owner-access-jti")
	err = s.service.Logout(ctx, otherPair.RefreshToken)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestMe() {
	user := s.register("me@example.com", "a very long password")

	found, err := s.service.Me(requestcontext.WithUserID(context.Background(), user.ID))
	s.Require().NoError(err)
	s.Equal(user.Email, found.Email)

	_, err = s.service.Me(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestEnsureAdmin() {
	ctx := context.Background()

	s.Run("creates the admin when missing", func() {
		s.Require().NoError(s.service.EnsureAdmin(ctx, "Admin@example.com", "admin password 123"))
		admin, err := s.users.FindByEmail(ctx, "admin@example.com")
		s.Require().NoError(err)
		s.True(admin.IsAdmin())
	})

	s.Run("is idempotent", func() {
		s.Require().NoError(s.service.EnsureAdmin(ctx, "admin@example.com", "admin password 123"))
	})

	s.Run("promotes an existing user", func() {
		user := s.register("promote@example.com", "a very long password")
		s.Require().NoError(s.service.EnsureAdmin(ctx, "promote@example.com", "a very long password"))
		found, err := s.users.FindByID(ctx, user.ID)
		s.Require().NoError(err)
		s.True(found.IsAdmin())
	})

	s.Run("skips when unconfigured", func() {
		s.NoError(s.service.EnsureAdmin(ctx, "", ""))
	})
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	users.EXPECT().FindByEmail(gomock.Any(), "broken@example.com").Return(nil, errors.New("connection reset"))

	svc := New(users, revocation.NewInMemoryTRL(), token.NewService(token.Config{SigningKey: "k", AccessTTL: time.Minute}),
		WithBcryptCost(bcrypt.MinCost))
	_, err := svc.Login(context.Background(), &models.TokenRequest{Email: "broken@example.com", Password: "whatever"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestRefresh_RevocationUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokens := token.NewService(token.Config{SigningKey: "k", Issuer: "i", Audience: "a", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	revocations := mocks.NewMockRevocationList(ctrl)
	revocations.EXPECT().Consume(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))

	svc := New(userStore.New(), revocations, tokens, WithBcryptCost(bcrypt.MinCost))
	user := &models.User{ID: id.NewUserID()}
	refresh, err := tokens.Issue(user.ID, nil, token.TypeRefresh)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), &models.RefreshRequest{RefreshToken: refresh.Token})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}
