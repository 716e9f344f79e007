// Package observability provides audit logging helpers for the ratelimit module.
package observability

import (
	"context"
	"log/slog"
	"net/netip"

	"myapi/pkg/attrs"
	"myapi/pkg/platform/audit"
	"myapi/pkg/requestcontext"
)

// AuditPublisher records security-relevant rate limit decisions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs audit events to both structured logger and audit publisher.
// It enriches events with request ID and extracts subject/reason from attrList.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	if logger != nil {
		args := append(attrList, "event", string(event), "log_type", "audit")
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}

	outcome := audit.OutcomeDenied
	if event == audit.EventAllowlistBypassed {
		outcome = audit.OutcomeSuccess
	}
	err := publisher.Emit(ctx, audit.Event{
		Category:  audit.CategorySecurity,
		Action:    string(event),
		Subject:   extractSubject(attrList),
		Resource:  "rate_limit",
		Outcome:   outcome,
		Reason:    extractReason(attrList),
		RequestID: requestID,
		Metadata:  extractMetadata(attrList),
	})
	if err != nil && logger != nil {
		logger.ErrorContext(ctx, "failed to emit audit event", "error", err, "action", string(event))
	}
}

func extractSubject(attrList []any) string {
	for _, key := range []string{"identifier", "ip", "user_id"} {
		if val := attrs.ExtractString(attrList, key); val != "" {
			return val
		}
	}
	return ""
}

func extractReason(attrList []any) string {
	for _, key := range []string{"reason", "bypass_type"} {
		if val := attrs.ExtractString(attrList, key); val != "" {
			return val
		}
	}
	return ""
}

func extractMetadata(attrList []any) map[string]string {
	meta := map[string]string{}
	for _, key := range []string{"endpoint_class", "limit_type"} {
		if val := attrs.ExtractString(attrList, key); val != "" {
			meta[key] = val
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// AnonymizeIP truncates an address to its /24 (IPv4) or /48 (IPv6) prefix
// for logs. Unparseable input is returned as "invalid".
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	bits := 48
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
