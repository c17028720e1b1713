//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a connection to it.
// The test is skipped when no container runtime is available.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gatehouse_test"),
		postgres.WithUsername("gatehouse"),
		postgres.WithPassword("gatehouse_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	t.Cleanup(func() {
		db.Close()
		// fresh context; the test context may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	return db
}

func TestPostgres_EndToEnd(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	log, _ := test.NewNullLogger()

	m := NewManager(db, nil, DefaultConfig(), WithLogger(log))
	require.NoError(t, m.Initialize(ctx))
	// migrations and seeding are repeatable
	require.NoError(t, m.Initialize(ctx))

	perms, err := m.GetCatalog().ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, 20)

	role, err := m.GetRoleStore().Create(ctx, "Content Manager!", "")
	require.NoError(t, err)

	_, err = m.GetRoleStore().Create(ctx, "content manager", "")
	assert.True(t, IsConflict(err))

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.GetAssignmentEngine().AssignPermissionsToRole(ctx, role.ID, []string{"posts.read", "posts.update", "posts.delete"})
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, total)

	_, err = m.GetAssignmentEngine().AssignRolesToUser(ctx, "u1", []string{"content_manager"})
	require.NoError(t, err)

	guard := m.GetGuard()
	assert.True(t, guard.HasPermission(ctx, "u1", ResourcePosts, ActionDelete))
	assert.False(t, guard.HasPermission(ctx, "u1", ResourceUsers, ActionRead))
	assert.True(t, guard.HasDashboardAccess(ctx, "u1"))

	require.NoError(t, m.GetRoleStore().Delete(ctx, role.ID))
	assert.False(t, guard.HasDashboardAccess(ctx, "u1"))
}

func TestPostgres_UniqueViolationDetected(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	log, _ := test.NewNullLogger()
	require.NoError(t, RunMigrations(ctx, db, log))

	insert := `INSERT INTO rbac_permissions (id, perm_key, resource, action, description, is_system, created_at)
		VALUES ($1, 'posts.read', 'posts', 'read', '', TRUE, $2)`
	_, err := db.ExecContext(ctx, insert, "p1", time.Now().UTC())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "p2", time.Now().UTC())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}
