// Package identity implements multi-tenant user, role, and permission
// management with a Redis read-through cache over a PostgreSQL grant
// store.
//
// Every operation is scoped by a (tenant, resource domain) pair carried
// on each request. A user's effective permission set is the
// deduplicated union of its direct permission grants and the
// permissions of every role it holds, restricted to active
// permissions, rendered as "resource:action" strings.
//
// Reads of the effective set go through the cache: a miss recomputes
// from the store and repopulates the entry under a TTL. Grant
// mutations commit to the store first and then synchronously evict the
// affected user's cached entry, so a completed mutation is never
// shadowed by a stale cached set. Cache infrastructure failures
// degrade to store reads; they never fail a request.
package identity
