package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myapi/pkg/platform/audit"
	"myapi/pkg/requestcontext"
)

type recordingPublisher struct {
	events []audit.Event
}

func (p *recordingPublisher) Emit(_ context.Context, event audit.Event) error {
	p.events = append(p.events, event)
	return nil
}

func TestLogAudit(t *testing.T) {
	pub := &recordingPublisher{}
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	LogAudit(ctx, logger, pub, audit.EventRateLimitExceeded,
		"identifier", "10.0.0.0/24",
		"endpoint_class", "write",
		"limit_type", "ip",
		"limit", 30,
	)

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, "rate_limit_exceeded", event.Action)
	assert.Equal(t, audit.CategorySecurity, event.Category)
	assert.Equal(t, audit.OutcomeDenied, event.Outcome)
	assert.Equal(t, "10.0.0.0/24", event.Subject)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, map[string]string{"endpoint_class": "write", "limit_type": "ip"}, event.Metadata)
}

func TestLogAudit_BypassReason(t *testing.T) {
	pub := &recordingPublisher{}
	LogAudit(context.Background(), nil, pub, audit.EventAllowlistBypassed, "ip", "1.2.3.0/24", "bypass_type", "ip")

	require.Len(t, pub.events, 1)
	assert.Equal(t, audit.OutcomeSuccess, pub.events[0].Outcome)
	assert.Equal(t, "ip", pub.events[0].Reason)
	assert.Equal(t, "1.2.3.0/24", pub.events[0].Subject)
}

func TestLogAudit_NilPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		LogAudit(context.Background(), nil, nil, audit.EventRateLimitExceeded)
	})
}

func TestAnonymizeIP(t *testing.T) {
	tests := map[string]string{
		"192.168.1.77":     "192.168.1.0/24",
		"::ffff:10.1.2.3":  "10.1.2.0/24",
		"2001:db8:abcd::1": "2001:db8:abcd::/48",
		"not-an-ip":        "invalid",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, AnonymizeIP(in))
		})
	}
}
