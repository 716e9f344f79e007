package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"myapi/pkg/requestcontext"
)

// ClientInfo is the parsed User-Agent attached to audit events.
type ClientInfo struct {
	Browser string
	OS      string
	Mobile  bool
	Bot     bool
}

type contextKeyClientInfo struct{}

// ClientMetadata extracts client IP address and User-Agent from the request
// and adds them to the context for use by handlers and services.
// Proxy headers are honoured only when trustProxy is set.
func ClientMetadata(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromRequest(r, trustProxy)
			ua := r.Header.Get("User-Agent")

			ctx := requestcontext.WithClientMetadata(r.Context(), ip, ua)
			ctx = context.WithValue(ctx, contextKeyClientInfo{}, ParseUserAgent(ua))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseUserAgent summarizes a User-Agent header.
func ParseUserAgent(raw string) ClientInfo {
	if raw == "" {
		return ClientInfo{}
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	if version != "" {
		browser += " " + version
	}
	return ClientInfo{
		Browser: browser,
		OS:      ua.OS(),
		Mobile:  ua.Mobile(),
		Bot:     ua.Bot(),
	}
}

// GetClientInfo returns the parsed User-Agent, or a zero value.
func GetClientInfo(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(contextKeyClientInfo{}).(ClientInfo); ok {
		return info
	}
	return ClientInfo{}
}

// ClientIPFromRequest extracts the client IP, handling proxies and load balancers when trusted.
func ClientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}

	if addr := r.RemoteAddr; addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}
	return "unknown"
}
