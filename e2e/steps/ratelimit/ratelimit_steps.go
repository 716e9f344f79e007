package ratelimit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetLastHeader(name string) string
	GetCredentials() (string, string)
	SetAccessToken(token string)
}

// RegisterSteps registers rate-limiting step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	// Generic error messages prevent enumeration
	ctx.Step(`^I attempt login with unknown email "([^"]*)"$`, steps.attemptLoginUnknownEmail)
	ctx.Step(`^I attempt login with a wrong password$`, steps.attemptLoginWrongPassword)
	ctx.Step(`^both failures should carry the same message$`, steps.failuresShouldMatch)

	// Auth class bucket
	ctx.Step(`^I keep failing to log in until rate limited within (\d+) attempts$`, steps.failUntilLimited)
	ctx.Step(`^the response should carry rate limit headers$`, steps.responseHasRateLimitHeaders)
	ctx.Step(`^the response should advise when to retry$`, steps.responseHasRetryAfter)
}

type ratelimitSteps struct {
	tc       TestContext
	failures []string
}

func (s *ratelimitSteps) attemptLogin(email, password string) error {
	s.tc.SetAccessToken("")
	return s.tc.POST("/v1/auth/token", map[string]interface{}{
		"email":    email,
		"password": password,
	})
}

func (s *ratelimitSteps) recordFailure() error {
	if s.tc.GetLastResponseStatus() != http.StatusUnauthorized {
		return fmt.Errorf("expected 401, got %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	detail, err := s.tc.GetResponseField("detail")
	if err != nil {
		return err
	}
	s.failures = append(s.failures, fmt.Sprint(detail))
	return nil
}

func (s *ratelimitSteps) attemptLoginUnknownEmail(ctx context.Context, email string) error {
	if err := s.attemptLogin(email, "definitely the wrong password"); err != nil {
		return err
	}
	return s.recordFailure()
}

func (s *ratelimitSteps) attemptLoginWrongPassword(ctx context.Context) error {
	email, _ := s.tc.GetCredentials()
	if err := s.attemptLogin(email, "definitely the wrong password"); err != nil {
		return err
	}
	return s.recordFailure()
}

func (s *ratelimitSteps) failuresShouldMatch(ctx context.Context) error {
	if len(s.failures) < 2 {
		return fmt.Errorf("expected two recorded failures, got %d", len(s.failures))
	}
	for _, f := range s.failures[1:] {
		if f != s.failures[0] {
			return fmt.Errorf("failure messages differ: %q vs %q", s.failures[0], f)
		}
	}
	return nil
}

func (s *ratelimitSteps) failUntilLimited(ctx context.Context, max int) error {
	for i := 0; i < max; i++ {
		if err := s.attemptLogin("ratelimit-probe@example.com", "wrong password"); err != nil {
			return err
		}
		if s.tc.GetLastResponseStatus() == http.StatusTooManyRequests {
			return nil
		}
	}
	return fmt.Errorf("not rate limited after %d attempts", max)
}

func (s *ratelimitSteps) responseHasRateLimitHeaders(ctx context.Context) error {
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if s.tc.GetLastHeader(h) == "" {
			return fmt.Errorf("header %s missing", h)
		}
	}
	return nil
}

func (s *ratelimitSteps) responseHasRetryAfter(ctx context.Context) error {
	if s.tc.GetLastHeader("Retry-After") == "" {
		return fmt.Errorf("Retry-After header missing")
	}
	return nil
}
