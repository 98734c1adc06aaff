package identity

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/gatehouse-auth/gatehouse/pkg/observability"
)

// setupCacheTest creates a miniredis instance and returns the cache and cleanup function
func setupCacheTest(t *testing.T) (*Cache, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	config := DefaultCacheConfig()
	config.RedisURL = "redis://" + mr.Addr()

	cache, err := NewCache(config, observability.NewLogger(observability.ErrorLevel, io.Discard))
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return cache, mr, cleanup
}

func testPermissions(tenant, domain string) *UserPermissions {
	return &UserPermissions{
		UserID:         uuid.New(),
		Username:       "alice",
		TenantID:       tenant,
		ResourceDomain: domain,
		Permissions:    []string{"document:read", "document:write"},
		Roles:          []string{"EDITOR"},
	}
}

func TestNewCache_InvalidURL(t *testing.T) {
	config := DefaultCacheConfig()
	config.RedisURL = "invalid://url"

	_, err := NewCache(config, observability.NewLogger(observability.ErrorLevel, io.Discard))
	if err == nil {
		t.Fatal("Expected error for invalid Redis URL")
	}
}

func TestNewCache_ConnectionFailure(t *testing.T) {
	config := DefaultCacheConfig()
	config.RedisURL = "redis://localhost:1" // nothing listening

	_, err := NewCache(config, observability.NewLogger(observability.ErrorLevel, io.Discard))
	if err == nil {
		t.Fatal("Expected connection error")
	}
}

func TestCache_PutGetPermissions(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	perms := testPermissions("acme", "docs")
	if err := cache.PutPermissions(ctx, perms); err != nil {
		t.Fatalf("PutPermissions failed: %v", err)
	}

	got, err := cache.GetPermissions(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a cache hit")
	}
	if got.Username != "alice" {
		t.Errorf("Username = %q, want %q", got.Username, "alice")
	}
	if !got.HasPermission("document:write") {
		t.Error("Expected document:write in cached set")
	}
	if !got.HasRole("EDITOR") {
		t.Error("Expected EDITOR role in cached set")
	}
}

func TestCache_GetPermissions_Miss(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()

	got, err := cache.GetPermissions(context.Background(), "acme", "docs", uuid.New())
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got != nil {
		t.Fatal("Expected a miss for unknown user")
	}
}

func TestCache_GetPermissions_CorruptEntry(t *testing.T) {
	cache, mr, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	userID := uuid.New()
	key := permissionsKey("acme", "docs", userID)
	mr.Set(key, "{not json")

	got, err := cache.GetPermissions(ctx, "acme", "docs", userID)
	if err != nil {
		t.Fatalf("Expected corrupt entry to report a miss, got error: %v", err)
	}
	if got != nil {
		t.Fatal("Expected a miss for corrupt entry")
	}

	// The corrupt entry must be gone so the next read-through repopulates it.
	if mr.Exists(key) {
		t.Error("Expected corrupt entry to be deleted")
	}
}

func TestCache_Expiry(t *testing.T) {
	cache, mr, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	perms := testPermissions("acme", "docs")
	if err := cache.PutPermissions(ctx, perms); err != nil {
		t.Fatalf("PutPermissions failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	got, err := cache.GetPermissions(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got != nil {
		t.Fatal("Expected entry to expire after TTL")
	}
}

func TestCache_PutResetsTTL(t *testing.T) {
	cache, mr, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	perms := testPermissions("acme", "docs")
	if err := cache.PutPermissions(ctx, perms); err != nil {
		t.Fatalf("PutPermissions failed: %v", err)
	}

	mr.FastForward(30 * time.Minute)
	if err := cache.PutPermissions(ctx, perms); err != nil {
		t.Fatalf("PutPermissions failed: %v", err)
	}
	mr.FastForward(45 * time.Minute)

	got, err := cache.GetPermissions(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected entry to survive, TTL should have been reset by the second put")
	}
}

func TestCache_EvictPermissions(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	perms := testPermissions("acme", "docs")
	if err := cache.PutPermissions(ctx, perms); err != nil {
		t.Fatalf("PutPermissions failed: %v", err)
	}

	if err := cache.EvictPermissions(ctx, "acme", "docs", perms.UserID); err != nil {
		t.Fatalf("EvictPermissions failed: %v", err)
	}

	got, err := cache.GetPermissions(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got != nil {
		t.Fatal("Expected entry to be evicted")
	}
}

func TestCache_EvictPermissions_AbsentKey(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()

	if err := cache.EvictPermissions(context.Background(), "acme", "docs", uuid.New()); err != nil {
		t.Fatalf("Evicting an absent key should not error: %v", err)
	}
}

func TestCache_EvictTenant(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	inTenant := testPermissions("acme", "docs")
	inTenantOtherDomain := testPermissions("acme", "billing")
	otherTenant := testPermissions("globex", "docs")

	for _, p := range []*UserPermissions{inTenant, inTenantOtherDomain, otherTenant} {
		if err := cache.PutPermissions(ctx, p); err != nil {
			t.Fatalf("PutPermissions failed: %v", err)
		}
	}

	if err := cache.EvictTenant(ctx, "acme"); err != nil {
		t.Fatalf("EvictTenant failed: %v", err)
	}

	for _, p := range []*UserPermissions{inTenant, inTenantOtherDomain} {
		got, err := cache.GetPermissions(ctx, p.TenantID, p.ResourceDomain, p.UserID)
		if err != nil {
			t.Fatalf("GetPermissions failed: %v", err)
		}
		if got != nil {
			t.Errorf("Expected %s/%s entry to be evicted", p.TenantID, p.ResourceDomain)
		}
	}

	got, err := cache.GetPermissions(ctx, "globex", "docs", otherTenant.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got == nil {
		t.Error("Other tenant's entry must survive")
	}
}

// Evicting tenant "a" must leave tenant "ab" untouched even though "a"
// is a string prefix of "ab".
func TestCache_EvictTenant_PrefixIsolation(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	short := testPermissions("a", "docs")
	long := testPermissions("ab", "docs")

	for _, p := range []*UserPermissions{short, long} {
		if err := cache.PutPermissions(ctx, p); err != nil {
			t.Fatalf("PutPermissions failed: %v", err)
		}
	}

	if err := cache.EvictTenant(ctx, "a"); err != nil {
		t.Fatalf("EvictTenant failed: %v", err)
	}

	got, err := cache.GetPermissions(ctx, "a", "docs", short.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got != nil {
		t.Error("Tenant a's entry should be evicted")
	}

	got, err = cache.GetPermissions(ctx, "ab", "docs", long.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got == nil {
		t.Error("Tenant ab's entry must survive eviction of tenant a")
	}
}

func TestCache_EvictDomain(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	docs := testPermissions("acme", "docs")
	billing := testPermissions("acme", "billing")

	for _, p := range []*UserPermissions{docs, billing} {
		if err := cache.PutPermissions(ctx, p); err != nil {
			t.Fatalf("PutPermissions failed: %v", err)
		}
	}

	if err := cache.EvictDomain(ctx, "acme", "docs"); err != nil {
		t.Fatalf("EvictDomain failed: %v", err)
	}

	got, err := cache.GetPermissions(ctx, "acme", "docs", docs.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got != nil {
		t.Error("docs entry should be evicted")
	}

	got, err = cache.GetPermissions(ctx, "acme", "billing", billing.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got == nil {
		t.Error("billing entry must survive docs eviction")
	}
}

func TestCache_IsCachedAndTTL(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	perms := testPermissions("acme", "docs")

	cached, err := cache.IsCached(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("IsCached failed: %v", err)
	}
	if cached {
		t.Fatal("Expected no entry before put")
	}

	ttl, err := cache.PermissionsTTL(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("PermissionsTTL failed: %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL = %v, want -1 for absent entry", ttl)
	}

	if err := cache.PutPermissions(ctx, perms); err != nil {
		t.Fatalf("PutPermissions failed: %v", err)
	}

	cached, err = cache.IsCached(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("IsCached failed: %v", err)
	}
	if !cached {
		t.Fatal("Expected entry after put")
	}

	ttl, err = cache.PermissionsTTL(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("PermissionsTTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want within (0, 1h]", ttl)
	}
}

func TestCache_Sessions(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	userID := uuid.New()

	if err := cache.AddSession(ctx, "acme", "docs", userID, "sess-1"); err != nil {
		t.Fatalf("AddSession failed: %v", err)
	}
	if err := cache.AddSession(ctx, "acme", "docs", userID, "sess-2"); err != nil {
		t.Fatalf("AddSession failed: %v", err)
	}

	sessions, err := cache.Sessions(ctx, "acme", "docs", userID)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}

	if err := cache.RemoveSession(ctx, "acme", "docs", userID, "sess-1"); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}

	sessions, err = cache.Sessions(ctx, "acme", "docs", userID)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0] != "sess-2" {
		t.Fatalf("Expected only sess-2 to remain, got %v", sessions)
	}

	if err := cache.EvictAllSessions(ctx, "acme", "docs", userID); err != nil {
		t.Fatalf("EvictAllSessions failed: %v", err)
	}
	sessions, err = cache.Sessions(ctx, "acme", "docs", userID)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("Expected no sessions, got %v", sessions)
	}
}

func TestCache_TokenBlacklist(t *testing.T) {
	cache, mr, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	if err := cache.BlacklistToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("BlacklistToken failed: %v", err)
	}

	revoked, err := cache.IsTokenBlacklisted(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsTokenBlacklisted failed: %v", err)
	}
	if !revoked {
		t.Fatal("Expected token to be blacklisted")
	}

	// Past expiry the entry disappears on its own.
	mr.FastForward(2 * time.Hour)
	revoked, err = cache.IsTokenBlacklisted(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsTokenBlacklisted failed: %v", err)
	}
	if revoked {
		t.Fatal("Expected blacklist entry to expire with the token")
	}

	// Already-expired tokens are not stored at all.
	if err := cache.BlacklistToken(ctx, "jti-2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("BlacklistToken failed: %v", err)
	}
	revoked, err = cache.IsTokenBlacklisted(ctx, "jti-2")
	if err != nil {
		t.Fatalf("IsTokenBlacklisted failed: %v", err)
	}
	if revoked {
		t.Fatal("Expired token should not be stored")
	}
}

func TestCache_EvictAll(t *testing.T) {
	cache, _, cleanup := setupCacheTest(t)
	defer cleanup()
	ctx := context.Background()

	perms := testPermissions("acme", "docs")
	if err := cache.PutPermissions(ctx, perms); err != nil {
		t.Fatalf("PutPermissions failed: %v", err)
	}
	if err := cache.AddSession(ctx, "acme", "docs", perms.UserID, "sess-1"); err != nil {
		t.Fatalf("AddSession failed: %v", err)
	}

	if err := cache.EvictAll(ctx); err != nil {
		t.Fatalf("EvictAll failed: %v", err)
	}

	got, err := cache.GetPermissions(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("GetPermissions failed: %v", err)
	}
	if got != nil {
		t.Error("Expected permissions to be cleared")
	}
	sessions, err := cache.Sessions(ctx, "acme", "docs", perms.UserID)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Expected sessions to be cleared, got %v", sessions)
	}
}
