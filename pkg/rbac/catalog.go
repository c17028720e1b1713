package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const permissionColumns = "id, perm_key, resource, action, description, is_system, created_at"

// Catalog manages the closed set of (resource, action) permissions
type Catalog struct {
	store *Store
}

// NewCatalog creates a new permission catalog
func NewCatalog(store *Store) *Catalog {
	return &Catalog{store: store}
}

// ListPermissions returns every permission ordered by key
func (c *Catalog) ListPermissions(ctx context.Context) ([]Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM rbac_permissions ORDER BY perm_key`

	rows, err := c.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	return scanPermissions(rows)
}

// FindByKeys returns the permissions matching keys. Unknown or malformed keys are dropped.
func (c *Catalog) FindByKeys(ctx context.Context, keys []string) ([]Permission, error) {
	return findPermissionsByKeys(ctx, c.store.db, keys)
}

// GetByKey returns a single permission
func (c *Catalog) GetByKey(ctx context.Context, key string) (*Permission, error) {
	resource, action, err := ParsePermissionKey(key)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + permissionColumns + ` FROM rbac_permissions WHERE perm_key = $1`
	p, err := scanPermission(c.store.db.QueryRowContext(ctx, query, PermissionKey(resource, action)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("permission", "permission not found: %s", PermissionKey(resource, action))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return &p, nil
}

// Seed creates one system permission per (resource, action) pair and returns
// how many were created. Pairs that already exist are left untouched.
func (c *Catalog) Seed(ctx context.Context, resources []Resource, actions []Action) (n int, err error) {
	ctx, span := startSpan(ctx, "rbac.Catalog.Seed")
	defer func() { endSpan(span, err) }()

	for _, r := range resources {
		if !r.Valid() {
			return 0, NewValidationError("resource", "unknown resource: %q", r)
		}
	}
	for _, a := range actions {
		if !a.Valid() {
			return 0, NewValidationError("action", "unknown action: %q", a)
		}
	}

	now := c.store.timestamp()
	seen := make(map[string]bool)
	var values []string
	var args []any
	for _, r := range resources {
		for _, a := range actions {
			key := PermissionKey(r, a)
			if seen[key] {
				continue
			}
			seen[key] = true
			values = append(values, "("+placeholders(len(args)+1, 7)+")")
			args = append(args, uuid.NewString(), key, string(r), string(a), defaultDescription(r, a), true, now)
		}
	}
	if len(values) == 0 {
		return 0, nil
	}

	query := `INSERT INTO rbac_permissions (` + permissionColumns + `) VALUES ` +
		strings.Join(values, ", ") + ` ON CONFLICT DO NOTHING`

	res, err := c.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to seed permissions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count seeded permissions: %w", err)
	}

	span.SetAttributes(attribute.Int64("rbac.created", affected))
	return int(affected), nil
}

// SeedAll seeds the full resource x action cross product
func (c *Catalog) SeedAll(ctx context.Context) (int, error) {
	return c.Seed(ctx, AllResources(), AllActions())
}

// Create adds a single non-system permission
func (c *Catalog) Create(ctx context.Context, resource Resource, action Action, description string) (*Permission, error) {
	if !resource.Valid() {
		return nil, NewValidationError("resource", "unknown resource: %q", resource)
	}
	if !action.Valid() {
		return nil, NewValidationError("action", "unknown action: %q", action)
	}
	if description == "" {
		description = defaultDescription(resource, action)
	}

	p := Permission{
		ID:          uuid.NewString(),
		Key:         PermissionKey(resource, action),
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   c.store.timestamp(),
	}

	query := `INSERT INTO rbac_permissions (` + permissionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := c.store.db.ExecContext(ctx, query,
		p.ID, p.Key, string(p.Resource), string(p.Action), p.Description, p.IsSystem, p.CreatedAt)
	if isUniqueViolation(err) {
		return nil, NewConflictError("permission already exists: "+p.Key, "key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return &p, nil
}

// Delete removes a non-system permission and every role link to it
func (c *Catalog) Delete(ctx context.Context, key string) (err error) {
	ctx, span := startSpan(ctx, "rbac.Catalog.Delete", attribute.String("rbac.permission", key))
	defer func() { endSpan(span, err) }()

	p, err := c.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if p.IsSystem {
		return NewForbiddenError("system permission %s cannot be deleted", p.Key)
	}

	err = c.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rbac_role_permissions WHERE permission_id = $1`, p.ID); err != nil {
			return fmt.Errorf("failed to delete role links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rbac_permissions WHERE id = $1`, p.ID); err != nil {
			return fmt.Errorf("failed to delete permission: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.store.invalidateAll(ctx)
	return nil
}

func findPermissionsByKeys(ctx context.Context, q queryer, keys []string) ([]Permission, error) {
	var valid []string
	for _, k := range keys {
		if r, a, err := ParsePermissionKey(k); err == nil {
			valid = append(valid, PermissionKey(r, a))
		}
	}
	valid = uniqueStrings(valid)
	if len(valid) == 0 {
		return []Permission{}, nil
	}

	query := `SELECT ` + permissionColumns + ` FROM rbac_permissions WHERE perm_key IN (` +
		placeholders(1, len(valid)) + `) ORDER BY perm_key`

	rows, err := q.QueryContext(ctx, query, toArgs(valid)...)
	if err != nil {
		return nil, fmt.Errorf("failed to find permissions: %w", err)
	}
	defer rows.Close()

	return scanPermissions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (Permission, error) {
	var p Permission
	var resource, action string
	err := row.Scan(&p.ID, &p.Key, &resource, &action, &p.Description, &p.IsSystem, &p.CreatedAt)
	p.Resource = Resource(resource)
	p.Action = Action(action)
	return p, err
}

func scanPermissions(rows *sql.Rows) ([]Permission, error) {
	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return perms, nil
}

func defaultDescription(resource Resource, action Action) string {
	verb := string(action)
	if verb == "" {
		return string(resource)
	}
	return strings.ToUpper(verb[:1]) + verb[1:] + " " + string(resource)
}
