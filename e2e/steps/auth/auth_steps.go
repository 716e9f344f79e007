package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"
)

const defaultPassword = "e2e correct horse battery"

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetAccessToken() string
	SetAccessToken(token string)
	GetCredentials() (string, string)
	SetCredentials(email, password string)
	Save(name, value string)
}

// RegisterSteps registers authentication-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	ctx.Step(`^I am registered and logged in as a new user$`, steps.registerAndLogin)
	ctx.Step(`^I register a new user$`, steps.register)
	ctx.Step(`^I log in$`, steps.login)
	ctx.Step(`^I log out$`, steps.logout)
	ctx.Step(`^I forget my access token$`, steps.forgetToken)
	ctx.Step(`^I use the access token "([^"]*)"$`, steps.useToken)
	ctx.Step(`^I use the saved access token$`, steps.useSavedToken)
}

type authSteps struct {
	tc    TestContext
	saved string
}

func (s *authSteps) register(ctx context.Context) error {
	email := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())
	s.tc.SetCredentials(email, defaultPassword)
	s.tc.SetAccessToken("")
	if err := s.tc.POST("/v1/auth/register", map[string]interface{}{
		"email":    email,
		"password": defaultPassword,
	}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusCreated {
		return fmt.Errorf("register returned %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("user_id", fmt.Sprint(id))
	return nil
}

func (s *authSteps) login(ctx context.Context) error {
	email, password := s.tc.GetCredentials()
	s.tc.SetAccessToken("")
	if err := s.tc.POST("/v1/auth/token", map[string]interface{}{
		"email":    email,
		"password": password,
	}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusOK {
		return fmt.Errorf("login returned %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	token, err := s.tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	s.tc.SetAccessToken(token.(string))
	s.saved = token.(string)
	return nil
}

func (s *authSteps) registerAndLogin(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return err
	}
	return s.login(ctx)
}

func (s *authSteps) logout(ctx context.Context) error {
	return s.tc.POST("/v1/auth/logout", nil)
}

func (s *authSteps) forgetToken(ctx context.Context) error {
	s.tc.SetAccessToken("")
	return nil
}

func (s *authSteps) useToken(ctx context.Context, token string) error {
	s.tc.SetAccessToken(token)
	return nil
}

func (s *authSteps) useSavedToken(ctx context.Context) error {
	if s.saved == "" {
		return fmt.Errorf("no access token was issued in this scenario")
	}
	s.tc.SetAccessToken(s.saved)
	return nil
}
