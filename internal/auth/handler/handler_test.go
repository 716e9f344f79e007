package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"myapi/internal/auth/handler/mocks"
	"myapi/internal/auth/models"
	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/httputil"
	authmw "myapi/pkg/platform/middleware/auth"
	"myapi/pkg/requestcontext"
)

type stubValidator struct {
	userID id.UserID
}

func (v stubValidator) ValidateAccessToken(_ context.Context, token string) (*authmw.JWTClaims, error) {
	if token != "good-token" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &authmw.JWTClaims{UserID: v.userID, Roles: []string{models.RoleUser}, JTI: "jti-1"}, nil
}

type AuthHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	userID  id.UserID
}

func TestAuthHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerSuite))
}

func (s *AuthHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.userID = id.NewUserID()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.service, stubValidator{userID: s.userID}, nil, logger)
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *AuthHandlerSuite) do(method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *AuthHandlerSuite) problem(rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	s.Equal(httputil.ProblemContentType, rec.Header().Get("Content-Type"))
	var p httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func (s *AuthHandlerSuite) TestRegister() {
	s.Run("created", func() {
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		s.service.EXPECT().Register(gomock.Any(), &models.RegisterRequest{Email: "jane@example.com", Password: "long enough password"}).
			Return(&models.User{ID: s.userID, Email: "jane@example.com", PasswordHash: "secret-hash", Roles: []string{"user"}, CreatedAt: created}, nil)

		rec := s.do(http.MethodPost, "/v1/auth/register", `{"email":"jane@example.com","password":"long enough password"}`, "")
		s.Equal(http.StatusCreated, rec.Code)
		s.NotContains(rec.Body.String(), "secret-hash")

		var resp map[string]any
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal(s.userID.String(), resp["id"])
		s.Equal("jane@example.com", resp["email"])
	})

	s.Run("validation errors become 422 problems", func() {
		s.service.EXPECT().Register(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.Validation("invalid registration").WithField("password", "must be at least 12 characters"))

		rec := s.do(http.MethodPost, "/v1/auth/register", `{"email":"jane@example.com","password":"short"}`, "")
		s.Equal(http.StatusUnprocessableEntity, rec.Code)
		p := s.problem(rec)
		s.Equal(string(dErrors.CodeValidation), p.Code)
		s.Require().Len(p.Errors, 1)
		s.Equal("password", p.Errors[0].Field)
	})

	s.Run("unknown fields are rejected before the service", func() {
		rec := s.do(http.MethodPost, "/v1/auth/register", `{"email":"a@b.co","password":"x","admin":true}`, "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("duplicate email is a conflict", func() {
		s.service.EXPECT().Register(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeConflict, "email already registered"))
		rec := s.do(http.MethodPost, "/v1/auth/register", `{"email":"jane@example.com","password":"long enough password"}`, "")
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *AuthHandlerSuite) TestToken() {
	s.Run("returns a bearer pair without caching", func() {
		s.service.EXPECT().Login(gomock.Any(), &models.TokenRequest{Email: "jane@example.com", Password: "pw"}).
			Return(&models.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 900, AccessJTI: "hidden"}, nil)

		rec := s.do(http.MethodPost, "/v1/auth/token", `{"email":"jane@example.com","password":"pw"}`, "")
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("no-store", rec.Header().Get("Cache-Control"))
		var resp map[string]any
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal("a", resp["access_token"])
		s.Equal("Bearer", resp["token_type"])
		s.NotContains(rec.Body.String(), "hidden")
	})

	s.Run("bad credentials are 401", func() {
		s.service.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials"))
		rec := s.do(http.MethodPost, "/v1/auth/token", `{"email":"jane@example.com","password":"nope"}`, "")
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Equal("invalid credentials", s.problem(rec).Detail)
	})
}

func (s *AuthHandlerSuite) TestRefresh() {
	s.service.EXPECT().Refresh(gomock.Any(), &models.RefreshRequest{RefreshToken: "old"}).
		Return(&models.TokenPair{AccessToken: "a2", RefreshToken: "r2", TokenType: "Bearer"}, nil)
	rec := s.do(http.MethodPost, "/v1/auth/refresh", `{"refresh_token":"old"}`, "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"refresh_token":"r2"`)
}

func (s *AuthHandlerSuite) TestProtectedRoutes() {
	s.Run("me requires a bearer token", func() {
		rec := s.do(http.MethodGet, "/v1/auth/me", "", "")
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.NotEmpty(rec.Header().Get("WWW-Authenticate"))
	})

	s.Run("me returns the principal", func() {
		s.service.EXPECT().Me(gomock.Any()).DoAndReturn(func(ctx context.Context) (*models.User, error) {
			s.Equal(s.userID, requestcontext.UserID(ctx))
			return &models.User{ID: s.userID, Email: "jane@example.com", Roles: []string{"user"}}, nil
		})
		rec := s.do(http.MethodGet, "/v1/auth/me", "", "good-token")
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), "jane@example.com")
	})

	s.Run("logout without body", func() {
		s.service.EXPECT().Logout(gomock.Any(), "").DoAndReturn(func(ctx context.Context, _ string) error {
			s.Equal("jti-1", requestcontext.TokenID(ctx))
			return nil
		})
		rec := s.do(http.MethodPost, "/v1/auth/logout", "", "good-token")
		s.Equal(http.StatusNoContent, rec.Code)
	})

	s.Run("logout with refresh token", func() {
		s.service.EXPECT().Logout(gomock.Any(), "refresh-1").Return(nil)
		rec := s.do(http.MethodPost, "/v1/auth/logout", `{"refresh_token":"refresh-1"}`, "good-token")
		s.Equal(http.StatusNoContent, rec.Code)
	})

	s.Run("invalid token is rejected", func() {
		rec := s.do(http.MethodPost, "/v1/auth/logout", "", "forged")
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *AuthHandlerSuite) TestInternalErrorsHideDetail() {
	s.service.EXPECT().Login(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.Wrap(io.ErrUnexpectedEOF, dErrors.CodeInternal, "failed to lookup user"))
	rec := s.do(http.MethodPost, "/v1/auth/token", `{"email":"jane@example.com","password":"pw"}`, "")
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.NotContains(rec.Body.String(), "lookup user")
	s.NotContains(rec.Body.String(), "unexpected EOF")
}
