// Command devtoken mints an access token signed with the configured JWT key
// for local testing against a running server.
//
//	JWT_SIGNING_KEY=... go run ./cmd/devtoken -roles user,admin
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"myapi/internal/auth/token"
	"myapi/internal/platform/config"
	id "myapi/pkg/domain"
)

func main() {
	userFlag := flag.String("user", "", "user ID (ULID); a new one is generated when empty")
	rolesFlag := flag.String("roles", "user", "comma separated roles")
	ttlFlag := flag.Duration("ttl", 0, "token lifetime; defaults to JWT_ACCESS_TTL")
	jsonFlag := flag.Bool("json", false, "print token details as JSON")
	flag.Parse()

	if err := run(*userFlag, *rolesFlag, *ttlFlag, *jsonFlag); err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
}

func run(rawUser, rawRoles string, ttl time.Duration, asJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.IsDevelopment() {
		return fmt.Errorf("refusing to mint tokens in %q environment", cfg.Environment)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.AccessTokenTTL
	}

	userID := id.NewUserID()
	if rawUser != "" {
		userID, err = id.ParseUserID(rawUser)
		if err != nil {
			return fmt.Errorf("invalid user: %w", err)
		}
	}
	var roles []string
	for _, r := range strings.Split(rawRoles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}

	tokens := token.NewService(token.Config{
		SigningKey: cfg.Auth.JWTSigningKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		AccessTTL:  ttl,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
		Leeway:     cfg.Auth.Leeway,
	})
	issued, err := tokens.Issue(userID, roles, token.TypeAccess)
	if err != nil {
		return err
	}

	if !asJSON {
		fmt.Println(issued.Token)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"access_token": issued.Token,
		"token_type":   "Bearer",
		"user_id":      userID.String(),
		"roles":        roles,
		"jti":          issued.JTI,
		"expires_at":   issued.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
