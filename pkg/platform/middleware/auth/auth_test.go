package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	id "myapi/pkg/domain"
	"myapi/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateAccessToken(_ context.Context, _ string) (*JWTClaims, error) {
	return s.claims, s.err
}

type stubRevocation struct {
	revoked bool
	err     error
}

func (s stubRevocation) IsTokenRevoked(_ context.Context, _ string) (bool, error) {
	return s.revoked, s.err
}

type AuthMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
	userID id.UserID
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.userID = id.NewUserID()
}

func (s *AuthMiddlewareSuite) serve(mw func(http.Handler) http.Handler, authHeader string) (*httptest.ResponseRecorder, context.Context) {
	var got context.Context
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Context()
		w.WriteHeader(http.StatusNoContent)
	}))
	r := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	if authHeader != "" {
		r.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w, got
}

func (s *AuthMiddlewareSuite) TestMissingHeader() {
	w, _ := s.serve(RequireAuth(stubValidator{}, nil, s.logger), "")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Contains(w.Header().Get("WWW-Authenticate"), "Bearer")
}

func (s *AuthMiddlewareSuite) TestInvalidToken() {
	w, _ := s.serve(RequireAuth(stubValidator{err: errors.New("bad signature")}, nil, s.logger), "Bearer x")
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthMiddlewareSuite) TestValidTokenPopulatesContext() {
	claims := &JWTClaims{UserID: s.userID, Roles: []string{"user"}, JTI: "jti-1"}
	w, ctx := s.serve(RequireAuth(stubValidator{claims: claims}, stubRevocation{}, s.logger), "Bearer good")
	s.Equal(http.StatusNoContent, w.Code)
	s.Equal(s.userID, requestcontext.UserID(ctx))
	s.Equal("jti-1", requestcontext.TokenID(ctx))
	s.True(requestcontext.HasRole(ctx, "user"))
}

func (s *AuthMiddlewareSuite) TestRevokedToken() {
	claims := &JWTClaims{UserID: s.userID, JTI: "jti-1"}
	w, _ := s.serve(RequireAuth(stubValidator{claims: claims}, stubRevocation{revoked: true}, s.logger), "Bearer good")
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Contains(w.Body.String(), "revoked")
}

func (s *AuthMiddlewareSuite) TestRevocationLookupFailsClosed() {
	claims := &JWTClaims{UserID: s.userID, JTI: "jti-1"}
	w, _ := s.serve(RequireAuth(stubValidator{claims: claims}, stubRevocation{err: errors.New("redis down")}, s.logger), "Bearer good")
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *AuthMiddlewareSuite) TestRequireRole() {
	chain := func(roles []string) func(http.Handler) http.Handler {
		authn := RequireAuth(stubValidator{claims: &JWTClaims{UserID: s.userID, Roles: roles, JTI: "j"}}, nil, s.logger)
		authz := RequireRole(s.logger, "admin")
		return func(next http.Handler) http.Handler { return authn(authz(next)) }
	}

	w, _ := s.serve(chain([]string{"user"}), "Bearer t")
	s.Equal(http.StatusForbidden, w.Code)

	w, _ = s.serve(chain([]string{"user", "admin"}), "Bearer t")
	s.Equal(http.StatusNoContent, w.Code)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/ws?access_token=q", nil)
	assert.Equal(t, "", BearerToken(r, false))
	assert.Equal(t, "q", BearerToken(r, true))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", BearerToken(r, true))
}
