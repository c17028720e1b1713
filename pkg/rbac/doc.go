// Package rbac provides role-based access control for Gatehouse.
//
// # Overview
//
// Access is decided by a closed catalog of permissions, named roles that
// bundle permissions, and user-role assignments. A user is allowed to perform
// an action on a resource when at least one of their roles is linked to the
// matching permission. There is no scoping, inheritance, or wildcard: the
// junction tables are the whole truth.
//
// # Architecture
//
// The package consists of five components sharing one Store:
//
//  1. Catalog: the permission catalog (resource x action)
//  2. RoleStore: named roles with unique titles and derived keys
//  3. AssignmentEngine: idempotent role-permission and user-role links
//  4. Resolver: effective permission sets and existence checks
//  5. Guard: boolean authorization predicates that fail closed
//
// Manager wires them together and exposes the JSON admin API.
//
// # Resources and Actions
//
// Both enums are closed:
//
//	ResourceUsers        ResourceRoles        ResourcePermissions
//	ResourcePosts        ResourceDashboard
//
//	ActionCreate   ActionRead   ActionUpdate   ActionDelete
//
// A permission key is "resource.action", e.g. "posts.update". The colon form
// "posts:update" is accepted on input and normalized.
//
// # Roles
//
// A role's key is derived from its title: lowercased, diacritics stripped,
// non-alphanumerics collapsed to underscores.
//
//	role, err := manager.GetRoleStore().Create(ctx, "Content Manager!", "")
//	// role.Key == "content_manager"
//
// Both the title and the key are unique. A ConflictError names the fields
// that collided so callers can report them. System roles (Super Admin, User)
// cannot be renamed or deleted.
//
// # Assignment
//
// Assignments resolve keys, skip unknown ones, and insert every valid link in
// a single statement that ignores existing rows. The returned count is the
// number of links actually created, so repeating a request returns 0:
//
//	n, err := engine.AssignPermissionsToRole(ctx, role.ID, []string{"posts.read", "posts.update"})
//	n, err = engine.AssignRolesToUser(ctx, userID, []string{"content_manager"})
//
// If none of the keys resolve the call fails with a NotFoundError.
//
// # Checking Permissions
//
//	guard := manager.GetGuard()
//	if guard.HasPermission(ctx, userID, rbac.ResourcePosts, rbac.ActionUpdate) {
//		// allowed
//	}
//
// Any storage error is logged and reported as a denial. Checks with an empty
// user ID or an unknown resource or action are denied without a lookup.
//
// # HTTP Integration
//
//	router := mux.NewRouter()
//	manager.RegisterRoutes(router)
//
//	pm := manager.GetMiddleware()
//	router.Handle("/posts/{id}", pm.RequirePermission(rbac.ResourcePosts, rbac.ActionUpdate)(handler))
//
// PermissionMiddleware reads the user ID from the request context. Use
// IdentityMiddleware to populate it from a header set by an authenticating
// proxy.
//
// # Caching
//
// Resolved permission sets can be cached with WithCache. User-role changes
// drop that user's entry; role-permission, role, and permission deletions
// purge the cache. Cache failures are logged and fall through to the
// database.
//
// # Database
//
// Queries use $N placeholders and run on PostgreSQL and SQLite. SQLite
// handles must be opened with "_foreign_keys=on" so the junction tables'
// references are enforced; database.SQLiteDSN adds it. Tables:
//
//   - rbac_permissions: the catalog
//   - rbac_roles: role definitions
//   - rbac_role_permissions: role-permission links
//   - rbac_user_roles: user-role links
//   - rbac_migrations: applied schema versions
package rbac
