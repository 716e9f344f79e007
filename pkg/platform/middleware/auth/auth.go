package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
	"myapi/pkg/platform/httputil"
	request "myapi/pkg/platform/middleware/request"
	"myapi/pkg/requestcontext"
)

// JWTValidator defines the interface for validating access tokens
type JWTValidator interface {
	ValidateAccessToken(ctx context.Context, tokenString string) (*JWTClaims, error)
}

// TokenRevocationChecker defines the interface for checking if tokens are revoked
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID id.UserID
	Roles  []string
	JTI    string // JWT ID for revocation tracking
}

const bearerPrefix = "Bearer "

// BearerToken extracts the token from the Authorization header. When
// allowQuery is set the access_token query parameter is accepted as a
// fallback (browsers cannot set headers on WebSocket upgrades).
func BearerToken(r *http.Request, allowQuery bool) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix); ok {
		return strings.TrimSpace(after)
	}
	if allowQuery {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// Unauthorized writes a 401 problem with a bearer challenge.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="myapi"`)
	httputil.WriteError(w, r, dErrors.New(dErrors.CodeUnauthorized, detail))
}

// Authenticate validates the bearer token and stores the principal in the
// request context.
func Authenticate(r *http.Request, validator JWTValidator, revocationChecker TokenRevocationChecker, allowQuery bool, logger *slog.Logger) (context.Context, string, bool) {
	ctx := r.Context()
	token := BearerToken(r, allowQuery)
	if token == "" {
		logger.WarnContext(ctx, "unauthorized access - missing token",
			"request_id", request.GetRequestID(ctx),
		)
		return ctx, "Missing or invalid Authorization header", false
	}

	claims, err := validator.ValidateAccessToken(ctx, token)
	if err != nil {
		logger.WarnContext(ctx, "unauthorized access - invalid token",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		return ctx, "Invalid or expired token", false
	}

	if revocationChecker != nil {
		if claims.JTI == "" {
			logger.WarnContext(ctx, "unauthorized access - missing token jti",
				"request_id", request.GetRequestID(ctx),
			)
			return ctx, "Invalid or expired token", false
		}
		revoked, err := revocationChecker.IsTokenRevoked(ctx, claims.JTI)
		if err != nil {
			// fail closed
			logger.ErrorContext(ctx, "failed to check token revocation",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
			return ctx, "Failed to validate token", false
		}
		if revoked {
			logger.WarnContext(ctx, "unauthorized access - token revoked",
				"jti", claims.JTI,
				"request_id", request.GetRequestID(ctx),
			)
			return ctx, "Token has been revoked", false
		}
	}

	ctx = requestcontext.WithPrincipal(ctx, claims.UserID, claims.Roles)
	ctx = requestcontext.WithTokenID(ctx, claims.JTI)
	return ctx, "", true
}

// RequireAuth rejects requests without a valid, unrevoked access token.
func RequireAuth(validator JWTValidator, revocationChecker TokenRevocationChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, detail, ok := Authenticate(r, validator, revocationChecker, false, logger)
			if !ok {
				Unauthorized(w, r, detail)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated principals lacking any of roles.
// It must run after RequireAuth.
func RequireRole(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, role := range roles {
				if requestcontext.HasRole(ctx, role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.WarnContext(ctx, "forbidden - missing role",
				"required", roles,
				"user_id", requestcontext.UserID(ctx).String(),
				"request_id", request.GetRequestID(ctx),
			)
			httputil.WriteError(w, r, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
		})
	}
}
