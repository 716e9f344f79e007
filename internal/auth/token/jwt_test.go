package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
)

var testConfig = Config{
	SigningKey: "test-signing-key-with-enough-entropy",
	Issuer:     "test-issuer",
	Audience:   "test-audience",
	AccessTTL:  15 * time.Minute,
	RefreshTTL: 24 * time.Hour,
	Leeway:     30 * time.Second,
}

func newService(now time.Time) *Service {
	return NewService(testConfig, WithClock(func() time.Time { return now }))
}

func Test_IssueAndValidateAccessToken(t *testing.T) {
	now := time.Now()
	svc := newService(now)
	userID := id.NewUserID()

	issued, err := svc.Issue(userID, []string{"user", "admin"}, TypeAccess)
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.NotEmpty(t, issued.JTI)
	assert.WithinDuration(t, now.Add(15*time.Minute), issued.ExpiresAt, time.Second)

	claims, err := svc.Validate(issued.Token, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, []string{"user", "admin"}, claims.Roles)
	assert.Equal(t, TypeAccess, claims.Type)
	assert.Equal(t, issued.JTI, claims.ID)
	assert.Equal(t, "test-issuer", claims.Issuer)
}

func Test_ValidateAccessToken_MiddlewareClaims(t *testing.T) {
	svc := newService(time.Now())
	userID := id.NewUserID()
	issued, err := svc.Issue(userID, []string{"user"}, TypeAccess)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, issued.JTI, claims.JTI)
	assert.Equal(t, []string{"user"}, claims.Roles)
}

func Test_RefreshTokenCarriesNoRoles(t *testing.T) {
	svc := newService(time.Now())
	issued, err := svc.Issue(id.NewUserID(), []string{"admin"}, TypeRefresh)
	require.NoError(t, err)

	claims, err := svc.Validate(issued.Token, TypeRefresh)
	require.NoError(t, err)
	assert.Empty(t, claims.Roles)
}

func Test_ValidateRejects(t *testing.T) {
	now := time.Now()
	svc := newService(now)
	userID := id.NewUserID()
	access, err := svc.Issue(userID, nil, TypeAccess)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   func() string
		typ     Type
		message string
	}{
		{
			name:    "garbage",
			token:   func() string { return "invalid-token-string" },
			typ:     TypeAccess,
			message: "invalid token",
		},
		{
			name: "bad signature",
			token: func() string {
				other := NewService(Config{SigningKey: "another-key", Issuer: testConfig.Issuer, Audience: testConfig.Audience, AccessTTL: time.Minute})
				issued, err := other.Issue(userID, nil, TypeAccess)
				require.NoError(t, err)
				return issued.Token
			},
			typ:     TypeAccess,
			message: "invalid token",
		},
		{
			name: "wrong issuer",
			token: func() string {
				cfg := testConfig
				cfg.Issuer = "someone-else"
				issued, err := NewService(cfg).Issue(userID, nil, TypeAccess)
				require.NoError(t, err)
				return issued.Token
			},
			typ:     TypeAccess,
			message: "invalid token issuer",
		},
		{
			name: "wrong audience",
			token: func() string {
				cfg := testConfig
				cfg.Audience = "other-clients"
				issued, err := NewService(cfg).Issue(userID, nil, TypeAccess)
				require.NoError(t, err)
				return issued.Token
			},
			typ:     TypeAccess,
			message: "invalid token audience",
		},
		{
			name: "expired beyond leeway",
			token: func() string {
				issued, err := newService(now.Add(-time.Hour)).Issue(userID, nil, TypeAccess)
				require.NoError(t, err)
				return issued.Token
			},
			typ:     TypeAccess,
			message: "token has expired",
		},
		{
			name: "alg none",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
					Type: TypeAccess,
					RegisteredClaims: jwt.RegisteredClaims{
						Subject:   userID.String(),
						Issuer:    testConfig.Issuer,
						Audience:  jwt.ClaimStrings{testConfig.Audience},
						ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
						ID:        "jti",
					},
				})
				s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return s
			},
			typ:     TypeAccess,
			message: "invalid token",
		},
		{
			name:    "refresh presented as access",
			token:   func() string { return access.Token },
			typ:     TypeRefresh,
			message: "unexpected token type",
		},
		{
			name:    "tampered payload",
			token:   func() string { return tamper(access.Token) },
			typ:     TypeAccess,
			message: "invalid token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token(), tt.typ)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
			de, ok := dErrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.message, de.Message)
		})
	}
}

func Test_ValidateAcceptsWithinLeeway(t *testing.T) {
	issuedAt := time.Now().Add(-15*time.Minute - 10*time.Second)
	issued, err := newService(issuedAt).Issue(id.NewUserID(), nil, TypeAccess)
	require.NoError(t, err)

	_, err = newService(time.Now()).Validate(issued.Token, TypeAccess)
	require.NoError(t, err)
}

func Test_RemainingTTL(t *testing.T) {
	now := time.Now()
	svc := newService(now)
	issued, err := svc.Issue(id.NewUserID(), nil, TypeAccess)
	require.NoError(t, err)
	claims, err := svc.Validate(issued.Token, TypeAccess)
	require.NoError(t, err)
	assert.InDelta(t, (15 * time.Minute).Seconds(), claims.RemainingTTL(now).Seconds(), 1)
}

func tamper(token string) string {
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[0] == 'e' {
		payload[0] = 'f'
	} else {
		payload[0] = 'e'
	}
	parts[1] = string(payload)
	return strings.Join(parts, ".")
}
