package bootstrap

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"gopkg.in/yaml.v3"
)

// AllPermissions grants a role every permission in the catalog
const AllPermissions = "*"

//go:embed default.yaml
var defaultDefinition []byte

// Definition is the desired baseline state of the RBAC tables
type Definition struct {
	Catalog CatalogDefinition `yaml:"catalog"`
	Roles   []RoleDefinition  `yaml:"roles"`
	Users   []UserDefinition  `yaml:"users"`
}

// CatalogDefinition lists the resources and actions whose cross product is seeded
type CatalogDefinition struct {
	Resources []rbac.Resource `yaml:"resources"`
	Actions   []rbac.Action   `yaml:"actions"`
}

// RoleDefinition describes one role and the permissions it must hold
type RoleDefinition struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	System      bool     `yaml:"system"`
	Permissions []string `yaml:"permissions"`
}

// UserDefinition grants roles, by key, to a user
type UserDefinition struct {
	ID    string   `yaml:"id"`
	Roles []string `yaml:"roles"`
}

// Default returns the built-in definition: the full catalog, Super Admin with
// every permission, and User with none.
func Default() *Definition {
	def, err := Parse(defaultDefinition)
	if err != nil {
		panic(fmt.Sprintf("bootstrap: invalid default definition: %v", err))
	}
	return def
}

// Load reads a definition from path, or returns Default when path is empty
func Load(path string) (*Definition, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes and validates a YAML definition. Unknown fields are rejected.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse bootstrap definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks enums, role titles, and permission keys
func (d *Definition) Validate() error {
	for _, r := range d.Catalog.Resources {
		if !r.Valid() {
			return fmt.Errorf("catalog: unknown resource %q", r)
		}
	}
	for _, a := range d.Catalog.Actions {
		if !a.Valid() {
			return fmt.Errorf("catalog: unknown action %q", a)
		}
	}

	keys := make(map[string]string)
	for i, role := range d.Roles {
		_, key, err := rbac.ValidateTitle(role.Title)
		if err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
		if other, ok := keys[key]; ok {
			return fmt.Errorf("roles[%d]: %q has the same key as %q", i, role.Title, other)
		}
		keys[key] = role.Title

		for _, perm := range role.Permissions {
			if perm == AllPermissions {
				continue
			}
			if _, _, err := rbac.ParsePermissionKey(perm); err != nil {
				return fmt.Errorf("roles[%d]: %w", i, err)
			}
		}
	}

	for i, user := range d.Users {
		if strings.TrimSpace(user.ID) == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if len(user.Roles) == 0 {
			return fmt.Errorf("users[%d]: at least one role is required", i)
		}
	}
	return nil
}
