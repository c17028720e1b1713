package rbac

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is a map-backed PermissionCache that counts calls
type memCache struct {
	mu          sync.Mutex
	entries     map[string][]PermissionInfo
	invalidated []string
	purges      int
	getErr      error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]PermissionInfo)}
}

func (c *memCache) Get(_ context.Context, userID string) ([]PermissionInfo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	perms, ok := c.entries[userID]
	return perms, ok, nil
}

func (c *memCache) Set(_ context.Context, userID string, perms []PermissionInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = perms
	return nil
}

func (c *memCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

func (c *memCache) Purge(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]PermissionInfo)
	c.purges++
	return nil
}

func (c *memCache) has(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	return ok
}

// recorder captures Recorder calls
type recorder struct {
	mu          sync.Mutex
	decisions   map[string][]bool
	guardErrors map[string]int
	links       map[string]int
	resolves    int
	hits        int
	misses      int
}

func newRecorder() *recorder {
	return &recorder{
		decisions:   make(map[string][]bool),
		guardErrors: make(map[string]int),
		links:       make(map[string]int),
	}
}

func (r *recorder) RecordDecision(check string, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[check] = append(r.decisions[check], allowed)
}

func (r *recorder) RecordGuardError(check string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guardErrors[check]++
}

func (r *recorder) RecordLinkChange(operation string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[operation] += count
}

func (r *recorder) ObserveResolve(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolves++
}

func (r *recorder) RecordCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestResolver_UserPermissionsUnion(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	createRoleWith(t, m, "Editor", "posts.read", "posts.update")
	createRoleWith(t, m, "Viewer", "posts.read", "dashboard.read")

	_, err := m.GetAssignmentEngine().AssignRolesToUser(ctx, "u1", []string{"editor", "viewer"})
	require.NoError(t, err)

	perms, err := m.GetResolver().GetUserPermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard.read", "posts.read", "posts.update"}, keysOf(perms))
	assert.Equal(t, PermissionInfo{Key: "posts.update", Resource: ResourcePosts, Action: ActionUpdate}, perms[2])
}

func TestResolver_UserWithoutRoles(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	resolver := m.GetResolver()

	perms, err := resolver.GetUserPermissions(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, perms)
	assert.Empty(t, perms)

	roles, err := resolver.GetUserRoles(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, roles)

	ok, err := resolver.UserHasAnyPermission(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_RoleWithoutPermissions(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	resolver := m.GetResolver()
	createRoleWith(t, m, "Empty")

	_, err := m.GetAssignmentEngine().AssignRolesToUser(ctx, "u1", []string{"empty"})
	require.NoError(t, err)

	ok, err := resolver.UserHasAnyPermission(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = resolver.GetRolePermissions(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResolver_ExistenceChecks(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	resolver := m.GetResolver()
	createRoleWith(t, m, "Editor", "posts.read", "posts.update")

	_, err := m.GetAssignmentEngine().AssignRolesToUser(ctx, "u1", []string{"editor"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		check func() (bool, error)
		want  bool
	}{
		{"granted action", func() (bool, error) { return resolver.UserHasPermission(ctx, "u1", ResourcePosts, ActionUpdate) }, true},
		{"missing action", func() (bool, error) { return resolver.UserHasPermission(ctx, "u1", ResourcePosts, ActionDelete) }, false},
		{"granted resource", func() (bool, error) { return resolver.UserHasResourcePermission(ctx, "u1", ResourcePosts) }, true},
		{"other resource", func() (bool, error) { return resolver.UserHasResourcePermission(ctx, "u1", ResourceUsers) }, false},
		{"any permission", func() (bool, error) { return resolver.UserHasAnyPermission(ctx, "u1") }, true},
		{"other user", func() (bool, error) { return resolver.UserHasPermission(ctx, "u2", ResourcePosts, ActionRead) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.check()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_CacheInvalidation(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	metrics := newRecorder()
	m := newTestManager(t, WithCache(cache), WithMetrics(metrics))
	resolver := m.GetResolver()
	engine := m.GetAssignmentEngine()

	editor := createRoleWith(t, m, "Editor", "posts.read")
	_, err := engine.AssignRolesToUser(ctx, "u1", []string{"editor"})
	require.NoError(t, err)

	ok, err := resolver.UserHasPermission(ctx, "u1", ResourcePosts, ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, cache.has("u1"))

	// second lookup is served from the cache
	_, err = resolver.GetUserPermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.hits)

	// a role-permission change purges every entry
	purges := cache.purges
	_, err = engine.AssignPermissionsToRole(ctx, editor.ID, []string{"posts.update"})
	require.NoError(t, err)
	assert.Greater(t, cache.purges, purges)
	assert.False(t, cache.has("u1"))

	ok, err = resolver.UserHasPermission(ctx, "u1", ResourcePosts, ActionUpdate)
	require.NoError(t, err)
	assert.True(t, ok)

	// a user-role change drops only that user
	_, err = resolver.GetUserPermissions(ctx, "u2")
	require.NoError(t, err)
	_, err = engine.RemoveRolesFromUser(ctx, "u1", []string{"editor"})
	require.NoError(t, err)
	assert.Contains(t, cache.invalidated, "u1")
	assert.False(t, cache.has("u1"))
	assert.True(t, cache.has("u2"))

	ok, err = resolver.UserHasPermission(ctx, "u1", ResourcePosts, ActionRead)
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting a role purges too
	purges = cache.purges
	require.NoError(t, m.GetRoleStore().Delete(ctx, editor.ID))
	assert.Greater(t, cache.purges, purges)

	assert.Equal(t, 1, metrics.links[OpRemoveRoles])
}

func TestResolver_CacheErrorFallsBackToDatabase(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	cache.getErr = errors.New("cache down")
	m := newTestManager(t, WithCache(cache))
	createRoleWith(t, m, "Viewer", "posts.read")

	_, err := m.GetAssignmentEngine().AssignRolesToUser(ctx, "u1", []string{"viewer"})
	require.NoError(t, err)

	perms, err := m.GetResolver().GetUserPermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"posts.read"}, keysOf(perms))
}

func TestResolver_ReadsFromReader(t *testing.T) {
	ctx := context.Background()
	replica, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer replica.Close()

	picks := 0
	store := NewStore(setupTestDB(t), WithReaderFunc(func() *sql.DB {
		picks++
		return replica
	}))
	resolver := NewResolver(store)

	mock.ExpectQuery("SELECT 1").
		WithArgs("u1", "posts", "read").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	// the primary has no links, so only the replica can grant this
	ok, err := resolver.UserHasPermission(ctx, "u1", ResourcePosts, ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, picks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_SharedLoadSurvivesCallerCancellation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cache := newMemCache()
	resolver := NewResolver(NewStore(db, WithCache(cache)))
	guard := NewGuard(resolver, nil, nil)

	mock.ExpectQuery("FROM rbac_user_roles ur").
		WithArgs("u1").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id", "perm_key", "resource", "action"}).
			AddRow("p1", "posts.read", "posts", "read"))

	var wg sync.WaitGroup
	var errA error
	var allowedB bool

	ctxA, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errA = resolver.GetUserPermissions(ctxA, "u1")
	}()

	// let the first caller start the load before the second joins it
	time.Sleep(5 * time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		allowedB = guard.HasPermission(context.Background(), "u1", ResourcePosts, ActionRead)
	}()
	wg.Wait()

	assert.ErrorIs(t, errA, context.DeadlineExceeded)
	assert.True(t, allowedB)
	assert.True(t, cache.has("u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
