package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/datapilot/datapilot/internal/auth"
)

// defaultUserID backs requests without user context until real account
// management exists.
const defaultUserID int64 = 1

func userFromRequest(r *http.Request) int64 {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(identity.UserID), 10, 64); err == nil && id > 0 {
			return id
		}
	}
	if header := strings.TrimSpace(r.Header.Get("X-User-ID")); header != "" {
		if id, err := strconv.ParseInt(header, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return defaultUserID
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("missing required role, expected one of %q", strings.Join(roles, ","))
}
