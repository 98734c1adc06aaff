package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/gatehouse-auth/gatehouse/pkg/observability"
)

// CacheConfig holds Redis cache configuration.
type CacheConfig struct {
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// PermissionsTTL bounds how long an effective permission set may be
	// served without recomputation when no mutation occurs.
	PermissionsTTL time.Duration
	SessionTTL     time.Duration
	BlacklistTTL   time.Duration
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		RedisURL:       "redis://localhost:6379",
		RedisDB:        0,
		PermissionsTTL: time.Hour,
		SessionTTL:     24 * time.Hour,
		BlacklistTTL:   24 * time.Hour,
	}
}

// Cache stores serialized effective permission sets, live sessions, and
// revoked token ids in Redis. All tenants share one keyspace,
// partitioned by the escaped key prefixes in keys.go.
type Cache struct {
	client *redis.Client
	config CacheConfig
	log    *observability.Logger
}

// NewCache connects to Redis and returns a new cache.
func NewCache(config CacheConfig, log *observability.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client, config: config, log: log}, nil
}

// PutPermissions serializes and stores an effective permission set,
// replacing any existing entry and resetting its TTL.
func (c *Cache) PutPermissions(ctx context.Context, perms *UserPermissions) error {
	key := permissionsKey(perms.TenantID, perms.ResourceDomain, perms.UserID)

	data, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.config.PermissionsTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	c.log.WithFields(map[string]interface{}{
		"user_id":   perms.UserID.String(),
		"tenant_id": perms.TenantID,
		"domain":    perms.ResourceDomain,
	}).Debug("cached user permissions")
	return nil
}

// GetPermissions retrieves a cached permission set. A missing key, an
// expired key, and a corrupt entry all report a miss (nil, nil); a
// corrupt entry is deleted so the next read-through repopulates it.
func (c *Cache) GetPermissions(ctx context.Context, tenant, domain string, userID uuid.UUID) (*UserPermissions, error) {
	key := permissionsKey(tenant, domain, userID)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var perms UserPermissions
	if err := json.Unmarshal([]byte(data), &perms); err != nil {
		c.log.WithError(err).WithField("key", key).Error("corrupt cache entry, evicting")
		c.client.Del(ctx, key)
		return nil, nil
	}
	return &perms, nil
}

// EvictPermissions removes a single user's entry. Evicting an absent
// key is not an error.
func (c *Cache) EvictPermissions(ctx context.Context, tenant, domain string, userID uuid.UUID) error {
	if err := c.client.Del(ctx, permissionsKey(tenant, domain, userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// EvictTenant removes every permission and session entry for a tenant,
// across all domains and users. Entries for other tenants are
// untouched, including tenants whose id is a string prefix of this one.
func (c *Cache) EvictTenant(ctx context.Context, tenant string) error {
	return c.deletePatterns(ctx,
		permissionsTenantPattern(tenant),
		sessionTenantPattern(tenant),
	)
}

// EvictDomain removes every permission and session entry for a
// tenant+domain pair.
func (c *Cache) EvictDomain(ctx context.Context, tenant, domain string) error {
	return c.deletePatterns(ctx,
		permissionsDomainPattern(tenant, domain),
		sessionDomainPattern(tenant, domain),
	)
}

// EvictAll clears every permission, session, and blacklist entry.
func (c *Cache) EvictAll(ctx context.Context) error {
	c.log.Warn("clearing all cache entries")
	return c.deletePatterns(ctx,
		permissionsKeyPrefix+"*",
		sessionKeyPrefix+"*",
		blacklistKeyPrefix+"*",
	)
}

// IsCached reports whether a permission entry currently exists for the
// user. Introspection only; never mutates.
func (c *Cache) IsCached(ctx context.Context, tenant, domain string, userID uuid.UUID) (bool, error) {
	n, err := c.client.Exists(ctx, permissionsKey(tenant, domain, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// PermissionsTTL returns the remaining lifetime of a user's entry, or
// -1 when no entry exists.
func (c *Cache) PermissionsTTL(ctx context.Context, tenant, domain string, userID uuid.UUID) (time.Duration, error) {
	d, err := c.client.TTL(ctx, permissionsKey(tenant, domain, userID)).Result()
	if err != nil {
		return -1, fmt.Errorf("redis ttl failed: %w", err)
	}
	if d < 0 {
		return -1, nil
	}
	return d, nil
}

// AddSession records a live session id for a user.
func (c *Cache) AddSession(ctx context.Context, tenant, domain string, userID uuid.UUID, sessionID string) error {
	setKey := sessionSetKey(tenant, domain, userID)

	if err := c.client.SAdd(ctx, setKey, sessionID).Err(); err != nil {
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	if err := c.client.Expire(ctx, setKey, c.config.SessionTTL).Err(); err != nil {
		return fmt.Errorf("redis expire failed: %w", err)
	}
	if err := c.client.Set(ctx, sessionKey(tenant, domain, userID, sessionID), "active", c.config.SessionTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// RemoveSession drops one session id for a user.
func (c *Cache) RemoveSession(ctx context.Context, tenant, domain string, userID uuid.UUID, sessionID string) error {
	if err := c.client.SRem(ctx, sessionSetKey(tenant, domain, userID), sessionID).Err(); err != nil {
		return fmt.Errorf("redis srem failed: %w", err)
	}
	if err := c.client.Del(ctx, sessionKey(tenant, domain, userID, sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Sessions lists the live session ids for a user.
func (c *Cache) Sessions(ctx context.Context, tenant, domain string, userID uuid.UUID) ([]string, error) {
	sessions, err := c.client.SMembers(ctx, sessionSetKey(tenant, domain, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	return sessions, nil
}

// EvictAllSessions drops every session for a user.
func (c *Cache) EvictAllSessions(ctx context.Context, tenant, domain string, userID uuid.UUID) error {
	if err := c.deletePatterns(ctx, sessionUserPattern(tenant, domain, userID)); err != nil {
		return err
	}
	if err := c.client.Del(ctx, sessionSetKey(tenant, domain, userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// BlacklistToken records a revoked token id until its natural expiry.
// Tokens already past expiry are not stored.
func (c *Cache) BlacklistToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if ttl > c.config.BlacklistTTL {
		ttl = c.config.BlacklistTTL
	}
	if err := c.client.Set(ctx, blacklistKey(jti), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether a token id has been revoked.
func (c *Cache) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// deletePatterns removes all keys matching the given SCAN patterns.
func (c *Cache) deletePatterns(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
	}
	return nil
}

// Client exposes the underlying Redis client for health checks.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
