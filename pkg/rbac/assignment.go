package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Link change operations reported to the metrics recorder
const (
	OpAssignPermissions = "assign_permissions"
	OpRemovePermissions = "remove_permissions"
	OpAssignRoles       = "assign_roles"
	OpRemoveRoles       = "remove_roles"
)

// AssignmentEngine manages the role-permission and user-role links.
//
// Assignments are idempotent: links that already exist are skipped by the
// database (ON CONFLICT DO NOTHING) and the returned count only covers rows
// actually inserted, so concurrent overlapping requests never fail on
// duplicates.
type AssignmentEngine struct {
	store *Store
	roles *RoleStore
}

// NewAssignmentEngine creates a new assignment engine
func NewAssignmentEngine(store *Store, roles *RoleStore) *AssignmentEngine {
	return &AssignmentEngine{store: store, roles: roles}
}

// AssignPermissionsToRole links permissions to a role and returns the number of new links
func (e *AssignmentEngine) AssignPermissionsToRole(ctx context.Context, roleID string, permissionKeys []string) (n int, err error) {
	ctx, span := startSpan(ctx, "rbac.AssignmentEngine.AssignPermissionsToRole", attribute.String("rbac.role_id", roleID))
	defer func() { endSpan(span, err) }()

	if _, err := e.roles.Get(ctx, roleID); err != nil {
		return 0, err
	}

	perms, err := findPermissionsByKeys(ctx, e.store.db, permissionKeys)
	if err != nil {
		return 0, err
	}
	if len(perms) == 0 {
		return 0, NewNotFoundError("permission", "no valid permissions found")
	}

	ids := make([]string, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}

	n, err = insertLinks(ctx, e.store.db, "rbac_role_permissions", "role_id", "permission_id", roleID, ids, e.store.timestamp())
	if isForeignKeyViolation(err) {
		return 0, NewNotFoundError("role", "role %s or one of its permissions was deleted", roleID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to assign permissions: %w", err)
	}

	e.store.metrics.RecordLinkChange(OpAssignPermissions, n)
	if n > 0 {
		e.store.invalidateAll(ctx)
	}
	span.SetAttributes(attribute.Int("rbac.inserted", n))
	return n, nil
}

// AssignRolesToUser links roles to a user and returns the number of new links
func (e *AssignmentEngine) AssignRolesToUser(ctx context.Context, userID string, roleKeys []string) (n int, err error) {
	userID = NormalizeUserID(userID)
	ctx, span := startSpan(ctx, "rbac.AssignmentEngine.AssignRolesToUser", attribute.String("rbac.user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return 0, NewValidationError("user_id", "user id is required")
	}

	roles, err := findRolesByKeys(ctx, e.store.db, roleKeys)
	if err != nil {
		return 0, err
	}
	if len(roles) == 0 {
		return 0, NewNotFoundError("role", "no valid roles found")
	}

	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}

	n, err = insertLinks(ctx, e.store.db, "rbac_user_roles", "user_id", "role_id", userID, ids, e.store.timestamp())
	if isForeignKeyViolation(err) {
		return 0, NewNotFoundError("role", "role was deleted while being assigned")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to assign roles: %w", err)
	}

	e.store.metrics.RecordLinkChange(OpAssignRoles, n)
	if n > 0 {
		e.store.invalidateUser(ctx, userID)
	}
	span.SetAttributes(attribute.Int("rbac.inserted", n))
	return n, nil
}

// RemovePermissionsFromRole unlinks permissions from a role and returns how many links were removed
func (e *AssignmentEngine) RemovePermissionsFromRole(ctx context.Context, roleID string, permissionKeys []string) (n int, err error) {
	ctx, span := startSpan(ctx, "rbac.AssignmentEngine.RemovePermissionsFromRole", attribute.String("rbac.role_id", roleID))
	defer func() { endSpan(span, err) }()

	perms, err := findPermissionsByKeys(ctx, e.store.db, permissionKeys)
	if err != nil {
		return 0, err
	}
	if len(perms) == 0 {
		return 0, nil
	}

	ids := make([]string, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}

	n, err = deleteLinks(ctx, e.store.db, "rbac_role_permissions", "role_id", "permission_id", roleID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to remove permissions: %w", err)
	}

	e.store.metrics.RecordLinkChange(OpRemovePermissions, n)
	if n > 0 {
		e.store.invalidateAll(ctx)
	}
	return n, nil
}

// RemoveRolesFromUser unlinks roles from a user and returns how many links were removed
func (e *AssignmentEngine) RemoveRolesFromUser(ctx context.Context, userID string, roleKeys []string) (n int, err error) {
	userID = NormalizeUserID(userID)
	ctx, span := startSpan(ctx, "rbac.AssignmentEngine.RemoveRolesFromUser", attribute.String("rbac.user_id", userID))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return 0, NewValidationError("user_id", "user id is required")
	}

	roles, err := findRolesByKeys(ctx, e.store.db, roleKeys)
	if err != nil {
		return 0, err
	}
	if len(roles) == 0 {
		return 0, nil
	}

	ids := make([]string, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}

	n, err = deleteLinks(ctx, e.store.db, "rbac_user_roles", "user_id", "role_id", userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to remove roles: %w", err)
	}

	e.store.metrics.RecordLinkChange(OpRemoveRoles, n)
	if n > 0 {
		e.store.invalidateUser(ctx, userID)
	}
	return n, nil
}

// SetRolePermissions replaces a role's permission set in one transaction.
// Unknown keys are dropped; an empty resolved set clears the role.
func (e *AssignmentEngine) SetRolePermissions(ctx context.Context, roleID string, permissionKeys []string) (added, removed int, err error) {
	ctx, span := startSpan(ctx, "rbac.AssignmentEngine.SetRolePermissions", attribute.String("rbac.role_id", roleID))
	defer func() { endSpan(span, err) }()

	if _, err := e.roles.Get(ctx, roleID); err != nil {
		return 0, 0, err
	}

	err = e.store.withTx(ctx, func(tx *sql.Tx) error {
		perms, err := findPermissionsByKeys(ctx, tx, permissionKeys)
		if err != nil {
			return err
		}
		ids := make([]string, len(perms))
		for i, p := range perms {
			ids[i] = p.ID
		}

		query := `DELETE FROM rbac_role_permissions WHERE role_id = $1`
		args := []any{roleID}
		if len(ids) > 0 {
			query += ` AND permission_id NOT IN (` + placeholders(2, len(ids)) + `)`
			args = append(args, toArgs(ids)...)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to remove stale permissions: %w", err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count removed permissions: %w", err)
		}
		removed = int(count)

		if len(ids) == 0 {
			return nil
		}
		added, err = insertLinks(ctx, tx, "rbac_role_permissions", "role_id", "permission_id", roleID, ids, e.store.timestamp())
		if isForeignKeyViolation(err) {
			return NewNotFoundError("role", "role %s or one of its permissions was deleted", roleID)
		}
		if err != nil {
			return fmt.Errorf("failed to assign permissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	e.store.metrics.RecordLinkChange(OpAssignPermissions, added)
	e.store.metrics.RecordLinkChange(OpRemovePermissions, removed)
	if added > 0 || removed > 0 {
		e.store.invalidateAll(ctx)
	}
	return added, removed, nil
}

// insertLinks inserts (owner, target) rows in one statement, skipping pairs that already exist
func insertLinks(ctx context.Context, q queryer, table, ownerCol, targetCol, owner string, targets []string, now time.Time) (int, error) {
	targets = uniqueStrings(targets)
	if len(targets) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(targets))
	args := make([]any, 0, len(targets)*3)
	for _, target := range targets {
		values = append(values, "("+placeholders(len(args)+1, 3)+")")
		args = append(args, owner, target, now)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s, %s, created_at) VALUES %s ON CONFLICT DO NOTHING`,
		table, ownerCol, targetCol, strings.Join(values, ", "))

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func deleteLinks(ctx context.Context, q queryer, table, ownerCol, targetCol, owner string, targets []string) (int, error) {
	targets = uniqueStrings(targets)
	if len(targets) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND %s IN (%s)`,
		table, ownerCol, targetCol, placeholders(2, len(targets)))
	args := append([]any{owner}, toArgs(targets)...)

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
