package rbac

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
)

// DefaultUserHeader is the header IdentityMiddleware trusts for the user ID
const DefaultUserHeader = "X-User-ID"

// PermissionMiddleware guards HTTP handlers with the authorization guard.
// The user ID must already be in the request context (contextkeys.UserIDKey).
type PermissionMiddleware struct {
	guard *Guard
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(guard *Guard) *PermissionMiddleware {
	return &PermissionMiddleware{guard: guard}
}

// RequirePermission requires resource.action
func (pm *PermissionMiddleware) RequirePermission(resource Resource, action Action) func(http.Handler) http.Handler {
	return pm.require(func(r *http.Request, userID string) bool {
		return pm.guard.HasPermission(r.Context(), userID, resource, action)
	})
}

// RequireResource requires any permission on resource
func (pm *PermissionMiddleware) RequireResource(resource Resource) func(http.Handler) http.Handler {
	return pm.require(func(r *http.Request, userID string) bool {
		return pm.guard.HasAnyPermissionForResource(r.Context(), userID, resource)
	})
}

// RequireDashboard requires at least one permission of any kind
func (pm *PermissionMiddleware) RequireDashboard() func(http.Handler) http.Handler {
	return pm.require(func(r *http.Request, userID string) bool {
		return pm.guard.HasDashboardAccess(r.Context(), userID)
	})
}

func (pm *PermissionMiddleware) require(allowed func(r *http.Request, userID string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !allowed(r, userID) {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityMiddleware copies the user ID from a trusted header into the
// request context. It is meant for deployments behind an authenticating
// proxy; it performs no authentication itself.
func IdentityMiddleware(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultUserHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := strings.TrimSpace(r.Header.Get(header)); userID != "" {
				r = r.WithContext(contextkeys.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}
