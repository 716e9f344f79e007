package common

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	Do(method, path string, body interface{}, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetLastHeader(name string) string
	Save(name, value string)
	Expand(s string) string
}

// RegisterSteps registers generic request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the API is running$`, steps.apiIsRunning)

	ctx.Step(`^I (GET|DELETE) "([^"]*)"$`, steps.request)
	ctx.Step(`^I (POST|PATCH|DELETE) "([^"]*)" with body:$`, steps.requestWithBody)
	ctx.Step(`^I (POST|PATCH|DELETE) "([^"]*)" with header "([^"]*)" set to "([^"]*)" and body:$`, steps.requestWithHeaderAndBody)
	ctx.Step(`^I (GET|DELETE) "([^"]*)" with header "([^"]*)" set to "([^"]*)"$`, steps.requestWithHeader)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.fieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should have (\d+) entries$`, steps.fieldShouldHaveEntries)
	ctx.Step(`^the response header "([^"]*)" should be present$`, steps.headerShouldBePresent)
	ctx.Step(`^the response header "([^"]*)" should equal "([^"]*)"$`, steps.headerShouldEqual)

	ctx.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, steps.saveField)
	ctx.Step(`^I save the response header "([^"]*)" as "([^"]*)"$`, steps.saveHeader)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) apiIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/healthz", nil); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusOK {
		return fmt.Errorf("health check returned %d", s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *commonSteps) request(ctx context.Context, method, path string) error {
	return s.tc.Do(method, path, nil, nil)
}

func (s *commonSteps) requestWithHeader(ctx context.Context, method, path, header, value string) error {
	return s.tc.Do(method, path, nil, map[string]string{header: value})
}

func (s *commonSteps) requestWithBody(ctx context.Context, method, path string, doc *godog.DocString) error {
	return s.tc.Do(method, path, json.RawMessage(s.tc.Expand(doc.Content)), nil)
}

func (s *commonSteps) requestWithHeaderAndBody(ctx context.Context, method, path, header, value string, doc *godog.DocString) error {
	return s.tc.Do(method, path, json.RawMessage(s.tc.Expand(doc.Content)), map[string]string{header: value})
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) fieldShouldEqual(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	expected = s.tc.Expand(expected)
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("expected %s to be %q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldHaveEntries(ctx context.Context, field string, n int) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	list, ok := v.([]interface{})
	if !ok {
		return fmt.Errorf("%s is not a list", field)
	}
	if len(list) != n {
		return fmt.Errorf("expected %d entries in %s, got %d", n, field, len(list))
	}
	return nil
}

func (s *commonSteps) headerShouldBePresent(ctx context.Context, name string) error {
	if s.tc.GetLastHeader(name) == "" {
		return fmt.Errorf("header %s missing", name)
	}
	return nil
}

func (s *commonSteps) headerShouldEqual(ctx context.Context, name, expected string) error {
	if got := s.tc.GetLastHeader(name); got != s.tc.Expand(expected) {
		return fmt.Errorf("expected header %s to be %q, got %q", name, expected, got)
	}
	return nil
}

func (s *commonSteps) saveField(ctx context.Context, field, name string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(name, fmt.Sprint(v))
	return nil
}

func (s *commonSteps) saveHeader(ctx context.Context, header, name string) error {
	v := s.tc.GetLastHeader(header)
	if v == "" {
		return fmt.Errorf("header %s missing", header)
	}
	s.tc.Save(name, strings.TrimSpace(v))
	return nil
}
