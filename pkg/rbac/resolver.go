package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// resolveTimeout bounds a shared permission load once it is detached from its callers
const resolveTimeout = 30 * time.Second

// Resolver computes effective permissions from the current role and link state
type Resolver struct {
	store *Store
	group singleflight.Group
}

// NewResolver creates a new permission resolver
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// GetUserPermissions returns the deduplicated union of the permissions granted
// by every role assigned to the user, ordered by key. A user without roles gets
// an empty slice.
func (r *Resolver) GetUserPermissions(ctx context.Context, userID string) (perms []PermissionInfo, err error) {
	userID = NormalizeUserID(userID)
	ctx, span := startSpan(ctx, "rbac.Resolver.GetUserPermissions", attribute.String("rbac.user_id", userID))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() { r.store.metrics.ObserveResolve(time.Since(start)) }()

	if cache := r.store.cache; cache != nil {
		cached, ok, err := cache.Get(ctx, userID)
		if err != nil {
			r.store.log.WithError(err).WithField("user_id", userID).Warn("permission cache lookup failed")
		}
		r.store.metrics.RecordCacheLookup(ok)
		if ok {
			span.SetAttributes(attribute.Bool("rbac.cache_hit", true))
			return append([]PermissionInfo{}, cached...), nil
		}
	}

	// Callers of the same user share one load. It runs detached from any single
	// caller's cancellation; each caller stops waiting on its own context.
	ch := r.group.DoChan(userID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		loaded, err := r.loadUserPermissions(loadCtx, userID)
		if err != nil {
			return nil, err
		}
		if cache := r.store.cache; cache != nil {
			if err := cache.Set(loadCtx, userID, loaded); err != nil {
				r.store.log.WithError(err).WithField("user_id", userID).Warn("failed to cache permissions")
			}
		}
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]PermissionInfo{}, res.Val.([]PermissionInfo)...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) loadUserPermissions(ctx context.Context, userID string) ([]PermissionInfo, error) {
	query := `
		SELECT p.id, p.perm_key, p.resource, p.action
		FROM rbac_user_roles ur
		JOIN rbac_role_permissions rp ON rp.role_id = ur.role_id
		JOIN rbac_permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
	`

	rows, err := r.store.readDB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user permissions: %w", err)
	}
	defer rows.Close()

	return collectPermissionInfo(rows)
}

// GetRolePermissions returns the permissions linked directly to a role
func (r *Resolver) GetRolePermissions(ctx context.Context, roleID string) ([]PermissionInfo, error) {
	found, err := r.exists(ctx, `SELECT 1 FROM rbac_roles WHERE id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	if !found {
		return nil, NewNotFoundError("role", "role not found: %s", roleID)
	}

	query := `
		SELECT p.id, p.perm_key, p.resource, p.action
		FROM rbac_role_permissions rp
		JOIN rbac_permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
	`

	rows, err := r.store.readDB().QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role permissions: %w", err)
	}
	defer rows.Close()

	return collectPermissionInfo(rows)
}

// GetUserRoles returns the roles assigned to a user ordered by title
func (r *Resolver) GetUserRoles(ctx context.Context, userID string) ([]Role, error) {
	userID = NormalizeUserID(userID)
	query := `
		SELECT r.id, r.title, r.role_key, r.description, r.is_system, r.created_at, r.updated_at
		FROM rbac_user_roles ur
		JOIN rbac_roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.title
	`

	rows, err := r.store.readDB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// UserHasPermission reports whether any of the user's roles grants resource.action
func (r *Resolver) UserHasPermission(ctx context.Context, userID string, resource Resource, action Action) (bool, error) {
	userID = NormalizeUserID(userID)
	if r.store.cache != nil {
		return r.matchCached(ctx, userID, func(p PermissionInfo) bool {
			return p.Resource == resource && p.Action == action
		})
	}

	return r.exists(ctx, `
		SELECT 1
		FROM rbac_user_roles ur
		JOIN rbac_role_permissions rp ON rp.role_id = ur.role_id
		JOIN rbac_permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1 AND p.resource = $2 AND p.action = $3
		LIMIT 1
	`, userID, string(resource), string(action))
}

// UserHasResourcePermission reports whether any of the user's roles grants any action on resource
func (r *Resolver) UserHasResourcePermission(ctx context.Context, userID string, resource Resource) (bool, error) {
	userID = NormalizeUserID(userID)
	if r.store.cache != nil {
		return r.matchCached(ctx, userID, func(p PermissionInfo) bool {
			return p.Resource == resource
		})
	}

	return r.exists(ctx, `
		SELECT 1
		FROM rbac_user_roles ur
		JOIN rbac_role_permissions rp ON rp.role_id = ur.role_id
		JOIN rbac_permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1 AND p.resource = $2
		LIMIT 1
	`, userID, string(resource))
}

// UserHasAnyPermission reports whether the user holds a role linked to at least one permission
func (r *Resolver) UserHasAnyPermission(ctx context.Context, userID string) (bool, error) {
	userID = NormalizeUserID(userID)
	if r.store.cache != nil {
		return r.matchCached(ctx, userID, func(PermissionInfo) bool { return true })
	}

	return r.exists(ctx, `
		SELECT 1
		FROM rbac_user_roles ur
		JOIN rbac_role_permissions rp ON rp.role_id = ur.role_id
		WHERE ur.user_id = $1
		LIMIT 1
	`, userID)
}

func (r *Resolver) matchCached(ctx context.Context, userID string, match func(PermissionInfo) bool) (bool, error) {
	perms, err := r.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if match(p) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.store.readDB().QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// collectPermissionInfo scans (id, key, resource, action) rows, dropping repeated ids
func collectPermissionInfo(rows *sql.Rows) ([]PermissionInfo, error) {
	seen := make(map[string]bool)
	perms := []PermissionInfo{}
	for rows.Next() {
		var id, key, resource, action string
		if err := rows.Scan(&id, &key, &resource, &action); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		perms = append(perms, PermissionInfo{Key: key, Resource: Resource(resource), Action: Action(action)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	sort.Slice(perms, func(i, j int) bool { return perms[i].Key < perms[j].Key })
	return perms, nil
}
