// Package permcache provides rbac.PermissionCache implementations.
//
// MemoryCache keeps resolved permission sets in a process-local expiring LRU.
// RedisCache shares them between replicas. Both bound staleness with a TTL;
// the rbac package invalidates entries on every link change.
package permcache
