// Package audit records administrative changes to the access-control model.
//
// Events cover role lifecycle (create, update, delete), catalog changes and
// link changes (permission grants/revokes, role assignments). The admin API
// emits one event per successful mutation:
//
//	logger.Log(ctx, &audit.AuditEvent{
//		EventType:    audit.EventTypePermissionGrant,
//		Status:       audit.EventStatusSuccess,
//		ActorID:      actorID,
//		ResourceType: audit.ResourceTypeRole,
//		ResourceID:   role.ID,
//		Metadata:     map[string]any{"permissions": keys, "inserted": n},
//	})
//
// LogrusLogger writes events as structured log entries. A logger can travel in
// a context with WithLogger/FromContext; FromContext falls back to a no-op.
package audit
