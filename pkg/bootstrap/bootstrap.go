package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/sirupsen/logrus"
)

// Triggers label why a bootstrap run happened
const (
	TriggerStartup  = "startup"
	TriggerWatch    = "watch"
	TriggerSchedule = "schedule"
)

// Recorder receives the outcome of every run
type Recorder interface {
	RecordBootstrap(trigger string, err error)
}

// Report counts what a run created. A repeated run reports zeros.
type Report struct {
	PermissionsCreated int `json:"permissions_created"`
	RolesCreated       int `json:"roles_created"`
	GrantsCreated      int `json:"grants_created"`
	UserRolesCreated   int `json:"user_roles_created"`
}

// Empty reports whether the run changed nothing
func (r Report) Empty() bool {
	return r == Report{}
}

// Apply brings the database up to def. It only adds: permissions, roles, and
// links missing from def are never removed.
func Apply(ctx context.Context, m *rbac.Manager, def *Definition) (*Report, error) {
	report := &Report{}

	n, err := m.GetCatalog().Seed(ctx, def.Catalog.Resources, def.Catalog.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to seed catalog: %w", err)
	}
	report.PermissionsCreated = n

	var allKeys []string
	for _, rd := range def.Roles {
		role, created, err := ensureRole(ctx, m.GetRoleStore(), rd)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", rd.Title, err)
		}
		if created {
			report.RolesCreated++
		}

		keys := rd.Permissions
		if containsAll(keys) {
			if allKeys == nil {
				if allKeys, err = catalogKeys(ctx, m.GetCatalog()); err != nil {
					return nil, err
				}
			}
			keys = allKeys
		}
		if len(keys) == 0 {
			continue
		}

		n, err := m.GetAssignmentEngine().AssignPermissionsToRole(ctx, role.ID, keys)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", rd.Title, err)
		}
		report.GrantsCreated += n
	}

	for _, ud := range def.Users {
		n, err := m.GetAssignmentEngine().AssignRolesToUser(ctx, ud.ID, ud.Roles)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", ud.ID, err)
		}
		report.UserRolesCreated += n
	}

	return report, nil
}

func ensureRole(ctx context.Context, roles *rbac.RoleStore, rd RoleDefinition) (*rbac.Role, bool, error) {
	if rd.System {
		return roles.EnsureSystemRole(ctx, rd.Title, rd.Description)
	}

	key, err := rbac.DeriveKey(rd.Title)
	if err != nil {
		return nil, false, err
	}
	role, err := roles.GetByKey(ctx, key)
	if err == nil {
		return role, false, nil
	}
	if !rbac.IsNotFound(err) {
		return nil, false, err
	}

	role, err = roles.Create(ctx, rd.Title, rd.Description)
	if err != nil {
		return nil, false, err
	}
	return role, true, nil
}

func containsAll(keys []string) bool {
	for _, k := range keys {
		if k == AllPermissions {
			return true
		}
	}
	return false
}

func catalogKeys(ctx context.Context, catalog *rbac.Catalog) ([]string, error) {
	perms, err := catalog.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	keys := make([]string, 0, len(perms))
	for _, p := range perms {
		keys = append(keys, p.Key)
	}
	return keys, nil
}

// Bootstrapper loads a definition file and applies it. Runs are serialized.
type Bootstrapper struct {
	manager *rbac.Manager
	path    string
	log     logrus.FieldLogger
	metrics Recorder

	mu sync.Mutex
}

// Option configures a Bootstrapper
type Option func(*Bootstrapper)

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Bootstrapper) {
		if log != nil {
			b.log = log
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(b *Bootstrapper) {
		b.metrics = r
	}
}

// New creates a Bootstrapper for the definition at path. An empty path uses
// the built-in default.
func New(manager *rbac.Manager, path string, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		manager: manager,
		path:    path,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("component", "bootstrap")
	return b
}

// Path returns the definition file path
func (b *Bootstrapper) Path() string {
	return b.path
}

// Run loads the definition and applies it
func (b *Bootstrapper) Run(ctx context.Context, trigger string) (report *Report, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	defer func() {
		if b.metrics != nil {
			b.metrics.RecordBootstrap(trigger, err)
		}
	}()

	log := b.log.WithField("trigger", trigger)

	def, err := Load(b.path)
	if err != nil {
		log.WithError(err).Error("failed to load bootstrap definition")
		return nil, err
	}

	report, err = Apply(ctx, b.manager, def)
	if err != nil {
		log.WithError(err).Error("bootstrap failed")
		return nil, err
	}

	entry := log.WithFields(logrus.Fields{
		"permissions_created": report.PermissionsCreated,
		"roles_created":       report.RolesCreated,
		"grants_created":      report.GrantsCreated,
		"user_roles_created":  report.UserRolesCreated,
	})
	if report.Empty() {
		entry.Debug("bootstrap up to date")
	} else {
		entry.Info("bootstrap applied")
	}
	return report, nil
}
