package e2e

import (
	"github.com/cucumber/godog"

	"myapi/e2e/steps/auth"
	"myapi/e2e/steps/common"
	"myapi/e2e/steps/items"
	"myapi/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background, generic requests and assertions
	common.RegisterSteps(ctx, tc)

	auth.RegisterSteps(ctx, tc)
	items.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
