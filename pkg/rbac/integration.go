package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/audit"
)

// Config holds RBAC configuration
type Config struct {
	// ProtectAdminAPI guards every admin route with the permission it needs
	ProtectAdminAPI bool

	// SeedCatalog seeds the full resource x action catalog during Initialize
	SeedCatalog bool
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		ProtectAdminAPI: true,
		SeedCatalog:     true,
	}
}

// Manager wires all RBAC components around one Store
type Manager struct {
	store      *Store
	catalog    *Catalog
	roles      *RoleStore
	engine     *AssignmentEngine
	resolver   *Resolver
	guard      *Guard
	middleware *PermissionMiddleware
	handlers   *Handlers
	config     Config
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, auditLogger audit.Logger, config Config, opts ...StoreOption) *Manager {
	if auditLogger == nil {
		auditLogger = audit.NoOp()
	}

	store := NewStore(db, opts...)
	catalog := NewCatalog(store)
	roles := NewRoleStore(store)
	resolver := NewResolver(store)
	guard := NewGuard(resolver, store.log, store.metrics)
	middleware := NewPermissionMiddleware(guard)

	handlers := &Handlers{
		catalog:     catalog,
		roles:       roles,
		engine:      NewAssignmentEngine(store, roles),
		resolver:    resolver,
		guard:       guard,
		auditLogger: auditLogger,
		log:         store.log,
	}
	if config.ProtectAdminAPI {
		handlers.middleware = middleware
	}

	return &Manager{
		store:      store,
		catalog:    catalog,
		roles:      roles,
		engine:     handlers.engine,
		resolver:   resolver,
		guard:      guard,
		middleware: middleware,
		handlers:   handlers,
		config:     config,
	}
}

// Initialize runs migrations and optionally seeds the permission catalog
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.store.db, m.store.log); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if m.config.SeedCatalog {
		n, err := m.catalog.SeedAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed permissions: %w", err)
		}
		m.store.log.WithField("created", n).Info("permission catalog seeded")
	}

	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetStore returns the shared store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetCatalog returns the permission catalog
func (m *Manager) GetCatalog() *Catalog {
	return m.catalog
}

// GetRoleStore returns the role store
func (m *Manager) GetRoleStore() *RoleStore {
	return m.roles
}

// GetAssignmentEngine returns the assignment engine
func (m *Manager) GetAssignmentEngine() *AssignmentEngine {
	return m.engine
}

// GetResolver returns the permission resolver
func (m *Manager) GetResolver() *Resolver {
	return m.resolver
}

// GetGuard returns the authorization guard
func (m *Manager) GetGuard() *Guard {
	return m.guard
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}
