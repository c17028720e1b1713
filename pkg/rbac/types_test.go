package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermissionKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		resource Resource
		action   Action
		wantErr  bool
	}{
		{"canonical", "posts.update", ResourcePosts, ActionUpdate, false},
		{"colon alias", "users:read", ResourceUsers, ActionRead, false},
		{"mixed case and space", "  Dashboard.READ ", ResourceDashboard, ActionRead, false},
		{"unknown resource", "comments.read", "", "", true},
		{"unknown action", "posts.publish", "", "", true},
		{"no separator", "posts", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, a, err := ParsePermissionKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.resource, r)
			assert.Equal(t, tt.action, a)
		})
	}
}

func TestPermissionKey(t *testing.T) {
	assert.Equal(t, "roles.delete", PermissionKey(ResourceRoles, ActionDelete))
}

func TestEnumsAreClosed(t *testing.T) {
	assert.Len(t, AllResources(), 5)
	assert.Len(t, AllActions(), 4)
	for _, r := range AllResources() {
		assert.True(t, r.Valid())
	}
	for _, a := range AllActions() {
		assert.True(t, a.Valid())
	}
	assert.False(t, Resource("comments").Valid())
	assert.False(t, Action("publish").Valid())
}

func TestErrorTaxonomy(t *testing.T) {
	conflict := NewConflictError("role already exists", "title", "key")
	assert.True(t, errors.Is(conflict, ErrConflict))
	assert.False(t, errors.Is(conflict, ErrNotFound))
	assert.Equal(t, "role already exists (title, key)", conflict.Error())

	wrapped := errors.Join(errors.New("context"), NewNotFoundError("role", "role not found: %s", "x"))
	assert.True(t, IsNotFound(wrapped))

	var fe *ForbiddenError
	assert.True(t, errors.As(NewForbiddenError("nope"), &fe))
	assert.True(t, errors.Is(fe, ErrForbidden))

	ve := NewValidationError("title", "too short")
	assert.Equal(t, "title", ve.Field)
	assert.True(t, errors.Is(ve, ErrValidation))
}
