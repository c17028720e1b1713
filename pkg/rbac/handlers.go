package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// Handlers provides the JSON admin API over the RBAC components
type Handlers struct {
	catalog     *Catalog
	roles       *RoleStore
	engine      *AssignmentEngine
	resolver    *Resolver
	guard       *Guard
	middleware  *PermissionMiddleware
	auditLogger audit.Logger
	log         logrus.FieldLogger
}

type createRoleRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Resource    Resource `json:"resource"`
	Action      Action   `json:"action"`
	Description string   `json:"description"`
}

type permissionKeysRequest struct {
	Permissions []string `json:"permissions"`
}

type roleKeysRequest struct {
	Roles []string `json:"roles"`
}

type checkRequest struct {
	UserID     string   `json:"user_id"`
	Permission string   `json:"permission,omitempty"`
	Resource   Resource `json:"resource,omitempty"`
	Action     Action   `json:"action,omitempty"`
}

// RegisterRoutes registers all RBAC routes. When the handlers were built with
// a PermissionMiddleware every route is guarded by the permission it needs.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Catalog
	h.handle(router, "/rbac/permissions", "GET", h.ListPermissions, ResourcePermissions, ActionRead)
	h.handle(router, "/rbac/permissions", "POST", h.CreatePermission, ResourcePermissions, ActionCreate)
	h.handle(router, "/rbac/permissions/seed", "POST", h.SeedPermissions, ResourcePermissions, ActionCreate)
	h.handle(router, "/rbac/permissions/{key}", "DELETE", h.DeletePermission, ResourcePermissions, ActionDelete)

	// Roles
	h.handle(router, "/rbac/roles", "GET", h.ListRoles, ResourceRoles, ActionRead)
	h.handle(router, "/rbac/roles", "POST", h.CreateRole, ResourceRoles, ActionCreate)
	h.handle(router, "/rbac/roles/{id}", "GET", h.GetRole, ResourceRoles, ActionRead)
	h.handle(router, "/rbac/roles/{id}", "PATCH", h.UpdateRole, ResourceRoles, ActionUpdate)
	h.handle(router, "/rbac/roles/{id}", "DELETE", h.DeleteRole, ResourceRoles, ActionDelete)

	// Role permissions
	h.handle(router, "/rbac/roles/{id}/permissions", "GET", h.GetRolePermissions, ResourceRoles, ActionRead)
	h.handle(router, "/rbac/roles/{id}/permissions", "POST", h.AssignPermissions, ResourceRoles, ActionUpdate)
	h.handle(router, "/rbac/roles/{id}/permissions", "PUT", h.SetPermissions, ResourceRoles, ActionUpdate)
	h.handle(router, "/rbac/roles/{id}/permissions", "DELETE", h.RemovePermissions, ResourceRoles, ActionUpdate)

	// User roles
	h.handle(router, "/rbac/users/{id}/roles", "GET", h.GetUserRoles, ResourceUsers, ActionRead)
	h.handle(router, "/rbac/users/{id}/roles", "POST", h.AssignRoles, ResourceUsers, ActionUpdate)
	h.handle(router, "/rbac/users/{id}/roles", "DELETE", h.RemoveRoles, ResourceUsers, ActionUpdate)
	h.handle(router, "/rbac/users/{id}/permissions", "GET", h.GetUserPermissions, ResourceUsers, ActionRead)

	// Checks
	h.handle(router, "/rbac/check", "POST", h.Check, ResourcePermissions, ActionRead)
	h.handle(router, "/rbac/users/{id}/dashboard", "GET", h.DashboardAccess, ResourceUsers, ActionRead)
}

func (h *Handlers) handle(router *mux.Router, path, method string, fn http.HandlerFunc, resource Resource, action Action) {
	var handler http.Handler = fn
	if h.middleware != nil {
		handler = h.middleware.RequirePermission(resource, action)(handler)
	}
	router.Handle(path, handler).Methods(method)
}

// ListPermissions lists the permission catalog
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, perms)
}

// CreatePermission adds a permission to the catalog
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	perm, err := h.catalog.Create(r.Context(), req.Resource, req.Action, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypePermissionCreate, audit.ResourceTypePermission, perm.Key, nil)
	_ = httputil.WriteCreated(w, perm)
}

// SeedPermissions seeds the full catalog
func (h *Handlers) SeedPermissions(w http.ResponseWriter, r *http.Request) {
	n, err := h.catalog.SeedAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypePermissionSeed, audit.ResourceTypePermission, "", map[string]any{"created": n})
	_ = httputil.WriteSuccess(w, map[string]int{"created": n})
}

// DeletePermission removes a non-system permission
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	if err := h.catalog.Delete(r.Context(), key); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypePermissionDelete, audit.ResourceTypePermission, key, nil)
	httputil.WriteNoContent(w)
}

// ListRoles lists all roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, roles)
}

// CreateRole creates a custom role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.roles.Create(r.Context(), req.Title, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypeRoleCreate, audit.ResourceTypeRole, role.ID, map[string]any{"key": role.Key})
	_ = httputil.WriteCreated(w, role)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.roles.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// UpdateRole changes a custom role's title and/or description
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateRoleParams
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	before, err := h.roles.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	role, err := h.roles.Update(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAuditEvent(r, &audit.AuditEvent{
		EventType:    audit.EventTypeRoleUpdate,
		ResourceType: audit.ResourceTypeRole,
		ResourceID:   role.ID,
		Changes: &audit.ChangeDetails{
			Before: map[string]any{"title": before.Title, "key": before.Key, "description": before.Description},
			After:  map[string]any{"title": role.Title, "key": role.Key, "description": role.Description},
		},
	})
	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole removes a custom role and its links
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.roles.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypeRoleDelete, audit.ResourceTypeRole, id, nil)
	httputil.WriteNoContent(w)
}

// GetRolePermissions lists the permissions linked to a role
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.resolver.GetRolePermissions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, perms)
}

// AssignPermissions links permissions to a role
func (h *Handlers) AssignPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req permissionKeysRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	n, err := h.engine.AssignPermissionsToRole(r.Context(), id, req.Permissions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypePermissionGrant, audit.ResourceTypeRole, id,
		map[string]any{"permissions": req.Permissions, "inserted": n})
	_ = httputil.WriteSuccess(w, map[string]int{"inserted": n})
}

// SetPermissions replaces a role's permission set
func (h *Handlers) SetPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req permissionKeysRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	added, removed, err := h.engine.SetRolePermissions(r.Context(), id, req.Permissions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypePermissionGrant, audit.ResourceTypeRole, id,
		map[string]any{"permissions": req.Permissions, "added": added, "removed": removed})
	_ = httputil.WriteSuccess(w, map[string]int{"added": added, "removed": removed})
}

// RemovePermissions unlinks permissions from a role
func (h *Handlers) RemovePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req permissionKeysRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	n, err := h.engine.RemovePermissionsFromRole(r.Context(), id, req.Permissions)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypePermissionRevoke, audit.ResourceTypeRole, id,
		map[string]any{"permissions": req.Permissions, "removed": n})
	_ = httputil.WriteSuccess(w, map[string]int{"removed": n})
}

// GetUserRoles lists a user's roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := h.resolver.GetUserRoles(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, roles)
}

// AssignRoles links roles to a user
func (h *Handlers) AssignRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req roleKeysRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	n, err := h.engine.AssignRolesToUser(r.Context(), userID, req.Roles)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypeRoleAssign, audit.ResourceTypeUser, userID,
		map[string]any{"roles": req.Roles, "inserted": n})
	_ = httputil.WriteSuccess(w, map[string]int{"inserted": n})
}

// RemoveRoles unlinks roles from a user
func (h *Handlers) RemoveRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req roleKeysRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	n, err := h.engine.RemoveRolesFromUser(r.Context(), userID, req.Roles)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logAudit(r, audit.EventTypeRoleUnassign, audit.ResourceTypeUser, userID,
		map[string]any{"roles": req.Roles, "removed": n})
	_ = httputil.WriteSuccess(w, map[string]int{"removed": n})
}

// GetUserPermissions returns a user's effective permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	perms, err := h.resolver.GetUserPermissions(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, perms)
}

// Check answers whether a user holds a permission, or any permission on a resource
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	var allowed bool
	switch {
	case req.Permission != "":
		allowed = h.guard.Can(r.Context(), req.UserID, req.Permission)
	case req.Resource != "" && req.Action != "":
		allowed = h.guard.HasPermission(r.Context(), req.UserID, req.Resource, req.Action)
	case req.Resource != "":
		allowed = h.guard.HasAnyPermissionForResource(r.Context(), req.UserID, req.Resource)
	default:
		httputil.WriteBadRequest(w, "permission or resource is required")
		return
	}

	_ = httputil.WriteSuccess(w, map[string]bool{"allowed": allowed})
}

// DashboardAccess answers whether a user holds any permission at all
func (h *Handlers) DashboardAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, map[string]bool{"allowed": h.guard.HasDashboardAccess(r.Context(), userID)})
}

// writeError maps the error taxonomy to HTTP status codes
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		httputil.WriteDetailedError(w, http.StatusConflict, err, conflict.Fields)
	case errors.Is(err, ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, context.Canceled):
		httputil.WriteServiceUnavailable(w, "request cancelled")
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Error("rbac request failed")
		httputil.WriteInternalError(w)
	}
}

func (h *Handlers) logAudit(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, metadata map[string]any) {
	h.logAuditEvent(r, &audit.AuditEvent{
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	})
}

func (h *Handlers) logAuditEvent(r *http.Request, event *audit.AuditEvent) {
	ctx := r.Context()
	event.Status = audit.EventStatusSuccess
	event.ActorID = contextkeys.GetUserID(ctx)
	event.RequestID = contextkeys.GetRequestID(ctx)
	event.Method = r.Method
	event.Path = r.URL.Path

	if err := h.auditLogger.Log(ctx, event); err != nil {
		h.log.WithError(err).WithField("event_type", event.EventType).Warn("failed to write audit event")
	}
}
