// Package bootstrap seeds the permission catalog and the system roles from a
// YAML definition and keeps them reconciled.
//
// The built-in definition seeds every resource x action pair, grants Super
// Admin all of them, and creates User with none:
//
//	catalog:
//	  resources: [users, roles, permissions, posts, dashboard]
//	  actions: [create, read, update, delete]
//	roles:
//	  - title: Super Admin
//	    system: true
//	    permissions: ["*"]
//	  - title: User
//	    system: true
//	users:
//	  - id: 6f1c...
//	    roles: [super_admin]
//
// Applying only adds rows, so it is safe to run on every start, on file
// change (Watch), and on a cron schedule (Schedule).
package bootstrap
