package items

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
	Save(name, value string)
}

// RegisterSteps registers item step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &itemSteps{tc: tc}

	ctx.Step(`^I create an item named "([^"]*)" priced (\S+) (\w{3})$`, steps.createItem)
	ctx.Step(`^I have created an item named "([^"]*)" priced (\S+) (\w{3})$`, steps.haveCreatedItem)
}

type itemSteps struct {
	tc TestContext
}

// createItem posts an item and saves its id as {item_id} and ETag as
// {etag}.
func (s *itemSteps) createItem(ctx context.Context, name, amount, currency string) error {
	if err := s.tc.POST("/v1/items", map[string]interface{}{
		"name":     name,
		"price":    map[string]string{"amount": amount, "currency": currency},
		"quantity": 1,
	}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusCreated {
		return nil
	}
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save("item_id", fmt.Sprint(id))
	s.tc.Save("etag", s.tc.GetLastHeader("ETag"))
	return nil
}

func (s *itemSteps) haveCreatedItem(ctx context.Context, name, amount, currency string) error {
	if err := s.createItem(ctx, name, amount, currency); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusCreated {
		return fmt.Errorf("create item returned %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	return nil
}
