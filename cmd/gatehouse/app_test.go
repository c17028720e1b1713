package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBootstrap = `
catalog:
  resources: [users, roles, permissions, posts, dashboard]
  actions: [create, read, update, delete]
roles:
  - title: Super Admin
    system: true
    permissions: ["*"]
  - title: User
    system: true
users:
  - id: root
    roles: [super_admin]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	bootstrapFile := filepath.Join(dir, "bootstrap.yaml")
	require.NoError(t, os.WriteFile(bootstrapFile, []byte(testBootstrap), 0o644))

	cfg := &config.Config{}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.HealthAddr = "127.0.0.1:0"
	cfg.Server.UserHeader = "X-User-ID"
	cfg.Server.ProtectAdminAPI = true
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(dir, "gatehouse.db")
	cfg.Database.MaxOpenConns = 1
	cfg.Database.Timeout = 5 * time.Second
	cfg.Cache.Backend = config.CacheLRU
	cfg.Cache.Size = 100
	cfg.Cache.TTL = time.Minute
	cfg.Bootstrap.File = bootstrapFile
	cfg.Observability.MetricsEnabled = true
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	log, _ := test.NewNullLogger()
	a, err := newApp(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.close()) })
	return a
}

func get(h http.Handler, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_API(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	api := a.apiHandler()

	rec := get(api, "/rbac/roles", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(httputil.RequestIDHeader))

	rec = get(api, "/rbac/roles", "bob")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = get(api, "/rbac/roles", "root")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var roles []rbac.Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	keys := make([]string, 0, len(roles))
	for _, r := range roles {
		keys = append(keys, r.Key)
	}
	assert.ElementsMatch(t, []string{"super_admin", "user"}, keys)

	rec = get(api, "/rbac/users/root/dashboard", "root")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allowed": true}`, rec.Body.String())
}

func TestApp_Ops(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	api, ops := a.apiHandler(), a.opsHandler()

	get(api, "/rbac/roles", "root")

	rec := get(ops, "/health/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status observability.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Equal(t, version, status.Version)
	assert.Contains(t, status.Dependencies, "database")

	rec = get(ops, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `gatehouse_http_requests_total{method="GET",route="/rbac/roles",status="200"} 1`)
	assert.Contains(t, body, `gatehouse_bootstrap_runs_total{status="success",trigger="startup"} 1`)
	assert.Contains(t, body, "go_sql_open_connections")
}

func TestApp_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheRedis
	cfg.Cache.RedisURL = "redis://" + mr.Addr()
	cfg.Observability.MetricsEnabled = false

	a := newTestApp(t, cfg)
	require.NotNil(t, a.redis)

	rec := get(a.apiHandler(), "/rbac/users/root/permissions", "root")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, mr.Keys())

	rec = get(a.opsHandler(), "/health/ready", "")
	var status observability.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, observability.StatusHealthy, status.Dependencies["redis"].Status)

	rec = get(a.opsHandler(), "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimitRequests = 2
	cfg.Server.RateLimitWindow = time.Minute

	api := newTestApp(t, cfg).apiHandler()
	assert.Equal(t, http.StatusOK, get(api, "/rbac/roles", "root").Code)
	assert.Equal(t, http.StatusOK, get(api, "/rbac/roles", "root").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(api, "/rbac/roles", "root").Code)

	// budgets are per user
	assert.Equal(t, http.StatusForbidden, get(api, "/rbac/roles", "bob").Code)
}

func TestNewApp_BootstrapFailure(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Bootstrap.File, []byte("roles: [{title: Admin, permissions: [posts.publish]}]"), 0o644))

	log, _ := test.NewNullLogger()
	_, err := newApp(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "bootstrap failed")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bootstrap.Watch = true
	cfg.Bootstrap.Schedule = "@hourly"
	log, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, log) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
