package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ rbac.Recorder = (*Metrics)(nil)

func TestMetrics_Recorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordDecision(rbac.CheckPermission, true)
	m.RecordDecision(rbac.CheckPermission, false)
	m.RecordDecision(rbac.CheckPermission, false)
	m.RecordGuardError(rbac.CheckDashboard)
	m.RecordLinkChange(rbac.OpAssignPermissions, 3)
	m.RecordLinkChange(rbac.OpAssignPermissions, 0)
	m.ObserveResolve(2 * time.Millisecond)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("permission", "allow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("permission", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardErrorsTotal.WithLabelValues("dashboard")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LinkChangesTotal.WithLabelValues(rbac.OpAssignPermissions)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ResolveDuration))
}

func TestMetrics_RecordBootstrap(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBootstrap("startup", nil)
	m.RecordBootstrap("watch", errors.New("bad yaml"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BootstrapRunsTotal.WithLabelValues("startup", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BootstrapRunsTotal.WithLabelValues("watch", "failure")))
	assert.Greater(t, testutil.ToFloat64(m.BootstrapLastSuccess), 0.0)
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_RegisterDB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NoError(t, m.RegisterDB(db, "primary"))

	families, err := registry.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "go_sql_open_connections" {
			found = true
		}
	}
	assert.True(t, found)

	// the same pool name cannot be registered twice
	assert.Error(t, m.RegisterDB(db, "primary"))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/rbac/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/rbac/roles/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/roles/{id}", "404")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordDecision(rbac.CheckResource, true)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `gatehouse_authz_decisions_total{check="resource",decision="allow"} 1`))
}
