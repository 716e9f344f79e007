package bucket

import (
	"math"
	"time"

	"myapi/internal/ratelimit/models"
)

// result converts a bucket level after a decision into headers-ready values.
func result(limit models.Limit, cost int, tokens float64, allowed bool, now time.Time) *models.RateLimitResult {
	res := &models.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit.Burst,
		Remaining: max(0, int(math.Floor(tokens))),
		ResetAt:   now.Add(limit.TimeFor(tokens, float64(limit.Burst))),
	}
	if !allowed {
		if cost > limit.Burst {
			res.RetryAfter = limit.RefillDuration()
		} else {
			res.RetryAfter = limit.TimeFor(tokens, float64(cost))
		}
	}
	return res
}

// refill advances a bucket to now and returns the new level.
func refill(limit models.Limit, tokens float64, updated, now time.Time) float64 {
	elapsed := now.Sub(updated).Seconds()
	if elapsed <= 0 {
		return tokens
	}
	return math.Min(float64(limit.Burst), tokens+elapsed*limit.Rate)
}
