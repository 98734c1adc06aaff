package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Cache key format version: v1
// Format: perm:v1:{tenant}:{domain}:{userId}
//
// Tenant and domain are caller-supplied opaque strings, so each segment
// is escaped before joining: the delimiter ':' and the Redis glob
// metacharacters can never appear raw inside a segment. That makes the
// tenant-only prefix "perm:v1:{tenant}:" and the tenant+domain prefix
// "perm:v1:{tenant}:{domain}:" unambiguous for bulk eviction — tenant
// "ab" is never matched by a scan for tenant "a".
//
// Changing the escaping or the segment order invalidates every cached
// entry; bump the version segment so stale keys simply expire.
const (
	permissionsKeyPrefix = "perm:v1:"
	sessionKeyPrefix     = "sess:v1:"
	blacklistKeyPrefix   = "deny:v1:"
)

var segmentEscaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"*", "%2A",
	"?", "%3F",
	"[", "%5B",
	"]", "%5D",
	"\\", "%5C",
)

// escapeSegment makes an opaque identifier safe to embed as one
// delimiter-separated key segment and to interpolate into a SCAN
// pattern.
func escapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

// permissionsKey builds the cache key for a user's effective
// permission set.
func permissionsKey(tenant, domain string, userID uuid.UUID) string {
	return permissionsKeyPrefix + escapeSegment(tenant) + ":" + escapeSegment(domain) + ":" + userID.String()
}

// permissionsTenantPattern matches every permission entry for a
// tenant, across all domains and users.
func permissionsTenantPattern(tenant string) string {
	return permissionsKeyPrefix + escapeSegment(tenant) + ":*"
}

// permissionsDomainPattern matches every permission entry for a
// tenant+domain pair.
func permissionsDomainPattern(tenant, domain string) string {
	return permissionsKeyPrefix + escapeSegment(tenant) + ":" + escapeSegment(domain) + ":*"
}

// sessionSetKey holds the set of live session ids for a user.
func sessionSetKey(tenant, domain string, userID uuid.UUID) string {
	return sessionKeyPrefix + escapeSegment(tenant) + ":" + escapeSegment(domain) + ":" + userID.String()
}

// sessionKey tracks one individual session.
func sessionKey(tenant, domain string, userID uuid.UUID, sessionID string) string {
	return sessionSetKey(tenant, domain, userID) + ":" + escapeSegment(sessionID)
}

// sessionUserPattern matches every individual session entry for a user.
func sessionUserPattern(tenant, domain string, userID uuid.UUID) string {
	return sessionSetKey(tenant, domain, userID) + ":*"
}

// sessionTenantPattern matches every session entry for a tenant.
func sessionTenantPattern(tenant string) string {
	return sessionKeyPrefix + escapeSegment(tenant) + ":*"
}

// sessionDomainPattern matches every session entry for a tenant+domain.
func sessionDomainPattern(tenant, domain string) string {
	return sessionKeyPrefix + escapeSegment(tenant) + ":" + escapeSegment(domain) + ":*"
}

// blacklistKey tracks a revoked token id until its natural expiry.
func blacklistKey(jti string) string {
	return blacklistKeyPrefix + escapeSegment(jti)
}
