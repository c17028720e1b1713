package rbac

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens an in-memory SQLite database with the RBAC schema applied.
// A single connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	log, _ := test.NewNullLogger()
	require.NoError(t, RunMigrations(context.Background(), db, log))
	return db
}

// newTestManager returns a manager over a fresh database with the catalog seeded
func newTestManager(t *testing.T, opts ...StoreOption) *Manager {
	t.Helper()

	log, _ := test.NewNullLogger()
	opts = append([]StoreOption{WithLogger(log)}, opts...)

	config := DefaultConfig()
	config.ProtectAdminAPI = false
	m := NewManager(setupTestDB(t), nil, config, opts...)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

// createRoleWith creates a role and links the given permission keys to it
func createRoleWith(t *testing.T, m *Manager, title string, keys ...string) *Role {
	t.Helper()

	ctx := context.Background()
	role, err := m.GetRoleStore().Create(ctx, title, "")
	require.NoError(t, err)
	if len(keys) > 0 {
		_, err = m.GetAssignmentEngine().AssignPermissionsToRole(ctx, role.ID, keys)
		require.NoError(t, err)
	}
	return role
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func keysOf(perms []PermissionInfo) []string {
	keys := make([]string, len(perms))
	for i, p := range perms {
		keys[i] = p.Key
	}
	return keys
}
