// Package database opens and manages SQL connections for Gatehouse.
//
// A ConnectionManager holds one primary and any number of read replicas.
// Writes always go to the primary. Replica returns replicas round-robin and
// falls back to the primary when none are configured or all were dropped:
//
//	cm, err := database.NewConnectionManager(ctx, database.ConnectionConfig{
//		Driver:      database.DriverPostgres,
//		PrimaryDSN:  "postgres://gatehouse@primary/gatehouse",
//		ReplicaDSNs: []string{"postgres://gatehouse@replica/gatehouse"},
//		MaxConns:    20,
//	}, logger)
//	manager := rbac.NewManager(cm.Primary(), auditLogger, cfg, rbac.WithReaderFunc(cm.Replica))
//
// Both PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3) are supported.
package database
