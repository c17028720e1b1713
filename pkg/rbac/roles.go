package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const roleColumns = "id, title, role_key, description, is_system, created_at, updated_at"

// MinTitleLength is the minimum number of characters in a trimmed role title
const MinTitleLength = 2

// RoleStore manages roles
type RoleStore struct {
	store *Store
}

// NewRoleStore creates a new role store
func NewRoleStore(store *Store) *RoleStore {
	return &RoleStore{store: store}
}

// Create creates a custom role. The key is derived from the title.
func (rs *RoleStore) Create(ctx context.Context, title, description string) (*Role, error) {
	return rs.create(ctx, title, description, false)
}

func (rs *RoleStore) create(ctx context.Context, title, description string, system bool) (role *Role, err error) {
	ctx, span := startSpan(ctx, "rbac.RoleStore.Create")
	defer func() { endSpan(span, err) }()

	title, key, err := ValidateTitle(title)
	if err != nil {
		return nil, err
	}

	fields, err := rs.conflictingFields(ctx, title, key, "")
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return nil, NewConflictError("role already exists", fields...)
	}

	now := rs.store.timestamp()
	role = &Role{
		ID:          uuid.NewString(),
		Title:       title,
		Key:         key,
		Description: strings.TrimSpace(description),
		IsSystem:    system,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `INSERT INTO rbac_roles (` + roleColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = rs.store.db.ExecContext(ctx, query,
		role.ID, role.Title, role.Key, role.Description, role.IsSystem, role.CreatedAt, role.UpdatedAt)
	if isUniqueViolation(err) {
		// lost a race with a concurrent create
		return nil, rs.conflictAfterRace(ctx, title, key, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	span.SetAttributes(attribute.String("rbac.role_key", role.Key))
	return role, nil
}

// Update changes a custom role's title and/or description. A new title re-derives the key.
func (rs *RoleStore) Update(ctx context.Context, id string, params UpdateRoleParams) (role *Role, err error) {
	ctx, span := startSpan(ctx, "rbac.RoleStore.Update", attribute.String("rbac.role_id", id))
	defer func() { endSpan(span, err) }()

	role, err = rs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, NewForbiddenError("system role %s cannot be modified", role.Key)
	}

	if params.Title != nil {
		title, key, err := ValidateTitle(*params.Title)
		if err != nil {
			return nil, err
		}
		fields, err := rs.conflictingFields(ctx, title, key, role.ID)
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			return nil, NewConflictError("role already exists", fields...)
		}
		role.Title = title
		role.Key = key
	}
	if params.Description != nil {
		role.Description = strings.TrimSpace(*params.Description)
	}
	role.UpdatedAt = rs.store.timestamp()

	query := `UPDATE rbac_roles SET title = $1, role_key = $2, description = $3, updated_at = $4 WHERE id = $5`
	res, err := rs.store.db.ExecContext(ctx, query, role.Title, role.Key, role.Description, role.UpdatedAt, role.ID)
	if isUniqueViolation(err) {
		return nil, rs.conflictAfterRace(ctx, role.Title, role.Key, role.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, NewNotFoundError("role", "role not found: %s", id)
	}

	return role, nil
}

// Delete removes a custom role together with its permission and user links in one transaction
func (rs *RoleStore) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "rbac.RoleStore.Delete", attribute.String("rbac.role_id", id))
	defer func() { endSpan(span, err) }()

	role, err := rs.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return NewForbiddenError("system role %s cannot be deleted", role.Key)
	}

	err = rs.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rbac_role_permissions WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete role permissions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rbac_user_roles WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete user roles: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM rbac_roles WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return NewNotFoundError("role", "role not found: %s", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rs.store.invalidateAll(ctx)
	return nil
}

// Get retrieves a role by ID
func (rs *RoleStore) Get(ctx context.Context, id string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM rbac_roles WHERE id = $1`
	role, err := scanRole(rs.store.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("role", "role not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// GetByKey retrieves a role by its derived key
func (rs *RoleStore) GetByKey(ctx context.Context, key string) (*Role, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	query := `SELECT ` + roleColumns + ` FROM rbac_roles WHERE role_key = $1`
	role, err := scanRole(rs.store.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("role", "role not found: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// List returns all roles, system roles first
func (rs *RoleStore) List(ctx context.Context) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM rbac_roles ORDER BY is_system DESC, title ASC`

	rows, err := rs.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

// FindByKeys returns the roles matching keys. Unknown keys are dropped.
func (rs *RoleStore) FindByKeys(ctx context.Context, keys []string) ([]Role, error) {
	return findRolesByKeys(ctx, rs.store.db, keys)
}

// EnsureSystemRole creates the system role for title unless a role with the
// same key exists, in which case that role is marked as system. It reports
// whether a new role was created.
func (rs *RoleStore) EnsureSystemRole(ctx context.Context, title, description string) (*Role, bool, error) {
	_, key, err := ValidateTitle(title)
	if err != nil {
		return nil, false, err
	}

	existing, err := rs.GetByKey(ctx, key)
	if err == nil {
		if !existing.IsSystem {
			if _, err := rs.store.db.ExecContext(ctx,
				`UPDATE rbac_roles SET is_system = $1, updated_at = $2 WHERE id = $3`,
				true, rs.store.timestamp(), existing.ID,
			); err != nil {
				return nil, false, fmt.Errorf("failed to mark system role: %w", err)
			}
			existing.IsSystem = true
		}
		return existing, false, nil
	}
	if !IsNotFound(err) {
		return nil, false, err
	}

	role, err := rs.create(ctx, title, description, true)
	if err != nil {
		return nil, false, err
	}
	return role, true, nil
}

// conflictingFields names which of title/key already belong to another role
func (rs *RoleStore) conflictingFields(ctx context.Context, title, key, excludeID string) ([]string, error) {
	rows, err := rs.store.db.QueryContext(ctx,
		`SELECT id, title, role_key FROM rbac_roles WHERE title = $1 OR role_key = $2`, title, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check role uniqueness: %w", err)
	}
	defer rows.Close()

	var titleTaken, keyTaken bool
	for rows.Next() {
		var id, t, k string
		if err := rows.Scan(&id, &t, &k); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if id == excludeID {
			continue
		}
		titleTaken = titleTaken || t == title
		keyTaken = keyTaken || k == key
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	var fields []string
	if titleTaken {
		fields = append(fields, "title")
	}
	if keyTaken {
		fields = append(fields, "key")
	}
	return fields, nil
}

func (rs *RoleStore) conflictAfterRace(ctx context.Context, title, key, excludeID string) error {
	fields, err := rs.conflictingFields(ctx, title, key, excludeID)
	if err != nil || len(fields) == 0 {
		fields = []string{"title", "key"}
	}
	return NewConflictError("role already exists", fields...)
}

// ValidateTitle trims a role title, checks its length, and derives its key
func ValidateTitle(title string) (string, string, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) < MinTitleLength {
		return "", "", NewValidationError("title", "title must be at least %d characters", MinTitleLength)
	}
	key, err := DeriveKey(title)
	if err != nil {
		return "", "", err
	}
	return title, key, nil
}

func findRolesByKeys(ctx context.Context, q queryer, keys []string) ([]Role, error) {
	normalized := make([]string, 0, len(keys))
	for _, k := range keys {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(k)))
	}
	normalized = uniqueStrings(normalized)
	if len(normalized) == 0 {
		return []Role{}, nil
	}

	query := `SELECT ` + roleColumns + ` FROM rbac_roles WHERE role_key IN (` +
		placeholders(1, len(normalized)) + `) ORDER BY role_key`

	rows, err := q.QueryContext(ctx, query, toArgs(normalized)...)
	if err != nil {
		return nil, fmt.Errorf("failed to find roles: %w", err)
	}
	defer rows.Close()

	return scanRoles(rows)
}

func scanRole(row rowScanner) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Title, &r.Key, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanRoles(rows *sql.Rows) ([]Role, error) {
	roles := []Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}
