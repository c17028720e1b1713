package rbac

import "context"

// PermissionCache stores resolved per-user permission sets.
// Entries are derived data; the junction tables remain authoritative.
type PermissionCache interface {
	Get(ctx context.Context, userID string) ([]PermissionInfo, bool, error)
	Set(ctx context.Context, userID string, perms []PermissionInfo) error
	Invalidate(ctx context.Context, userID string) error
	Purge(ctx context.Context) error
}
