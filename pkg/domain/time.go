package domain

import (
	"time"

	dErrors "myapi/pkg/domain-errors"
)

// RequireTimezone parses s and accepts only RFC 3339 timestamps with an explicit offset
// ("Z" or ±hh:mm) and normalizes them to UTC.
func RequireTimezone(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, "timestamp is required")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "timestamp must be RFC 3339 with a timezone offset")
	}
	return t.UTC(), nil
}
