// Package allowlist holds identifiers that bypass rate limiting.
package allowlist

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	dErrors "myapi/pkg/domain-errors"
)

// InMemoryAllowlist matches IP addresses against exact addresses and CIDR
// prefixes, and any other identifier (such as a user ID) by equality.
type InMemoryAllowlist struct {
	mu       sync.RWMutex
	prefixes []netip.Prefix
	exact    map[string]struct{}
}

// New builds an allowlist from IPs, CIDRs or opaque identifiers.
func New(entries ...string) (*InMemoryAllowlist, error) {
	a := &InMemoryAllowlist{exact: make(map[string]struct{})}
	for _, entry := range entries {
		if err := a.Add(entry); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Add registers one entry. Entries containing "/" must be valid CIDRs.
func (a *InMemoryAllowlist) Add(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "allowlist entry is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid allowlist CIDR %q", entry))
		}
		a.prefixes = append(a.prefixes, prefix.Masked())
		return nil
	}
	if addr, err := netip.ParseAddr(entry); err == nil {
		a.prefixes = append(a.prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
		return nil
	}
	a.exact[entry] = struct{}{}
	return nil
}

// IsAllowlisted reports whether identifier bypasses rate limiting.
func (a *InMemoryAllowlist) IsAllowlisted(_ context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.exact[identifier]; ok {
		return true, nil
	}
	addr, err := netip.ParseAddr(identifier)
	if err != nil {
		return false, nil
	}
	addr = addr.Unmap()
	for _, prefix := range a.prefixes {
		if prefix.Contains(addr) {
			return true, nil
		}
	}
	return false, nil
}
