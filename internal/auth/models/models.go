package models

import (
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	id "myapi/pkg/domain"
	dErrors "myapi/pkg/domain-errors"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	MinPasswordLength = 12
	MaxPasswordLength = 72 // bcrypt truncates beyond this
	MaxEmailLength    = 254

	TokenTypeBearer = "Bearer"
)

var emailPattern = regexp.MustCompile(`^[a-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)

// User is an account able to obtain tokens.
type User struct {
	ID           id.UserID
	Email        string
	PasswordHash string
	Roles        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return slices.Contains(u.Roles, RoleAdmin)
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterRequest is the body of POST /v1/auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize lowercases the email in place.
func (r *RegisterRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
}

// Validate checks the email format and password length.
func (r *RegisterRequest) Validate() error {
	err := dErrors.Validation("invalid registration")
	if r.Email == "" {
		err.WithField("email", "is required")
	} else if len(r.Email) > MaxEmailLength || !emailPattern.MatchString(r.Email) {
		err.WithField("email", "must be a valid email address")
	}
	n := utf8.RuneCountInString(r.Password)
	switch {
	case n < MinPasswordLength:
		err.WithField("password", "must be at least 12 characters")
	case len(r.Password) > MaxPasswordLength:
		err.WithField("password", "must be at most 72 bytes")
	}
	if len(err.Fields) > 0 {
		return err
	}
	return nil
}

// TokenRequest is the body of POST /v1/auth/token.
type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate only checks presence. Credential errors are reported uniformly.
func (r *TokenRequest) Validate() error {
	err := dErrors.Validation("invalid token request")
	if strings.TrimSpace(r.Email) == "" {
		err.WithField("email", "is required")
	}
	if r.Password == "" {
		err.WithField("password", "is required")
	}
	if len(err.Fields) > 0 {
		return err
	}
	return nil
}

// RefreshRequest is the body of POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *RefreshRequest) Validate() error {
	if strings.TrimSpace(r.RefreshToken) == "" {
		return dErrors.Validation("invalid refresh request").WithField("refresh_token", "is required")
	}
	return nil
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AccessJTI        string    `json:"-"`
	RefreshJTI       string    `json:"-"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        id.UserID `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// ToResponse strips credentials from a user.
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Roles:     u.Roles,
		CreatedAt: u.CreatedAt,
	}
}
