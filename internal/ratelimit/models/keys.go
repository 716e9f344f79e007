package models

import "strings"

// KeyPrefix identifies what a bucket is keyed on.
type KeyPrefix string

const (
	KeyPrefixIP   KeyPrefix = "ip"
	KeyPrefixUser KeyPrefix = "user"
)

// RateLimitKey renders as <prefix>:<identifier>:<class>.
type RateLimitKey struct {
	Prefix     KeyPrefix
	Identifier string
	Class      EndpointClass
}

func NewRateLimitKey(prefix KeyPrefix, identifier string, class EndpointClass) RateLimitKey {
	return RateLimitKey{Prefix: prefix, Identifier: identifier, Class: class}
}

func (k RateLimitKey) String() string {
	return string(k.Prefix) + ":" + SanitizeKeySegment(k.Identifier) + ":" + string(k.Class)
}

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit buckets. IPv6 addresses are affected
// the same way, which keeps them distinct.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
