package rbac

import (
	"strings"
	"time"
)

// Resource represents a resource type that permissions are granted on
type Resource string

const (
	ResourceUsers       Resource = "users"
	ResourceRoles       Resource = "roles"
	ResourcePermissions Resource = "permissions"
	ResourcePosts       Resource = "posts"
	ResourceDashboard   Resource = "dashboard"
)

// AllResources returns every known resource in catalog order
func AllResources() []Resource {
	return []Resource{
		ResourceUsers,
		ResourceRoles,
		ResourcePermissions,
		ResourcePosts,
		ResourceDashboard,
	}
}

// Valid reports whether r is one of the known resources
func (r Resource) Valid() bool {
	switch r {
	case ResourceUsers, ResourceRoles, ResourcePermissions, ResourcePosts, ResourceDashboard:
		return true
	}
	return false
}

// Action represents an operation that can be performed on a resource
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AllActions returns every known action in catalog order
func AllActions() []Action {
	return []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
}

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// PermissionKey returns the canonical "resource.action" key
func PermissionKey(resource Resource, action Action) string {
	return string(resource) + "." + string(action)
}

// ParsePermissionKey splits a permission key into its resource and action.
// Input is trimmed and lower-cased; "resource:action" is accepted as an
// alias of the canonical dotted form.
func ParsePermissionKey(key string) (Resource, Action, error) {
	normalized := NormalizePermissionKey(key)
	resource, action, ok := strings.Cut(normalized, ".")
	if !ok {
		return "", "", NewValidationError("key", "invalid permission key: %q", key)
	}

	r, a := Resource(resource), Action(action)
	if !r.Valid() {
		return "", "", NewValidationError("key", "unknown resource: %q", resource)
	}
	if !a.Valid() {
		return "", "", NewValidationError("key", "unknown action: %q", action)
	}
	return r, a, nil
}

// NormalizePermissionKey rewrites a key into canonical form without validating it
func NormalizePermissionKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.Replace(key, ":", ".", 1)
}

// NormalizeUserID is the form a user id is stored and looked up under.
// Every user-facing operation applies it, so " u1 " and "u1" are one user.
func NormalizeUserID(userID string) string {
	return strings.TrimSpace(userID)
}

// Permission is a single (resource, action) grant in the catalog
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Resource    Resource  `json:"resource"`
	Action      Action    `json:"action"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
}

// Info returns the projection of the permission used by the resolver
func (p Permission) Info() PermissionInfo {
	return PermissionInfo{Key: p.Key, Resource: p.Resource, Action: p.Action}
}

// PermissionInfo is the resolved view of a permission
type PermissionInfo struct {
	Key      string   `json:"key"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Role is a named bundle of permissions
type Role struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpdateRoleParams holds the mutable fields of a role. Nil fields are left unchanged.
type UpdateRoleParams struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// RolePermission links a role to a permission
type RolePermission struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRole links a user to a role
type UserRole struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// System role titles created by bootstrap
const (
	RoleTitleSuperAdmin = "Super Admin"
	RoleTitleUser       = "User"
)
