package httpserver

import (
	"context"
	"net/http"
	"strings"
)

// AuthUser is the identity resolved from a bearer token. Tokens are
// matched against a fixed mock directory until the Entra ID
// integration lands; a request without a recognizable token runs as
// the test user rather than being rejected.
type AuthUser struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
}

// RoleAdministrator gates the operator surface.
const RoleAdministrator = "administrator"

var mockUsers = map[string]AuthUser{
	"sarah.johnson": {
		ID:          "user-sarah-johnson",
		Email:       "sarah.johnson@bakergroup.com",
		DisplayName: "Sarah Johnson, CFP",
		Role:        "financial_advisor",
	},
	"michael.chen": {
		ID:          "user-michael-chen",
		Email:       "michael.chen@bakergroup.com",
		DisplayName: "Michael Chen, CFP",
		Role:        "financial_advisor",
	},
	"lisa.wang": {
		ID:          "user-lisa-wang",
		Email:       "lisa.wang@bakergroup.com",
		DisplayName: "Lisa Wang, CFP",
		Role:        "financial_advisor",
	},
	"compliance.officer": {
		ID:          "user-compliance-officer",
		Email:       "compliance@bakergroup.com",
		DisplayName: "Compliance Officer",
		Role:        "compliance_officer",
	},
	"admin": {
		ID:          "user-admin",
		Email:       "admin@bakergroup.com",
		DisplayName: "System Administrator",
		Role:        RoleAdministrator,
	},
	"testuser": {
		ID:          "test-user-123",
		Email:       "testuser@bakergroup.com",
		DisplayName: "Test User",
		Role:        "financial_advisor",
	},
}

// Directory returns the mock roster in a stable order. The seeder
// inserts these rows so side-effect foreign keys resolve for any
// identity the API can hand out.
func Directory() []AuthUser {
	return []AuthUser{
		mockUsers["sarah.johnson"],
		mockUsers["michael.chen"],
		mockUsers["lisa.wang"],
		mockUsers["compliance.officer"],
		mockUsers["admin"],
		mockUsers["testuser"],
	}
}

// ResolveUser maps a bearer token to a mock user by substring, the
// same scheme the platform demo tokens use. Unknown and empty tokens
// resolve to the test user.
func ResolveUser(token string) AuthUser {
	t := strings.ToLower(token)
	switch {
	case strings.Contains(t, "sarah"):
		return mockUsers["sarah.johnson"]
	case strings.Contains(t, "michael"):
		return mockUsers["michael.chen"]
	case strings.Contains(t, "lisa"):
		return mockUsers["lisa.wang"]
	case strings.Contains(t, "compliance"):
		return mockUsers["compliance.officer"]
	case strings.Contains(t, "admin"):
		return mockUsers["admin"]
	default:
		return mockUsers["testuser"]
	}
}

// bearerToken extracts the token from an Authorization header,
// tolerating a bare token without the Bearer prefix.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return ""
	}
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

type authUserKey struct{}

// Authenticate resolves the caller from the Authorization header and
// stores it on the request context. It never rejects; authorization
// decisions belong to route guards.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := ResolveUser(bearerToken(r))
		ctx := context.WithValue(r.Context(), authUserKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFrom returns the authenticated user stored by Authenticate,
// falling back to the test user when the middleware did not run.
func UserFrom(r *http.Request) AuthUser {
	if v := r.Context().Value(authUserKey{}); v != nil {
		if u, ok := v.(AuthUser); ok {
			return u
		}
	}
	return mockUsers["testuser"]
}

// RequireRole guards a route group behind a role. The mock directory
// always resolves some user, so a mismatch is a 403, never a 401.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := UserFrom(r); u.Role != role {
				writeJSON(w, http.StatusForbidden, errorEnvelope{Error: apiError{
					Code:    "FORBIDDEN",
					Message: "insufficient role",
					Details: map[string]string{"required_role": role},
				}})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
