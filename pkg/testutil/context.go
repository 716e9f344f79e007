package testutil

import (
	"net/http"

	id "myapi/pkg/domain"
	"myapi/pkg/requestcontext"
)

// WithPrincipal attaches an authenticated user to the request context, the
// way the auth middleware does after validating a bearer token.
func WithPrincipal(req *http.Request, userID id.UserID, roles ...string) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), userID, roles))
}

// WithBearer sets the Authorization header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
