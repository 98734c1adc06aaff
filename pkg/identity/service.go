package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-auth/gatehouse/pkg/observability"
)

// Service coordinates the grant store and the permission cache. Reads
// go through the cache; grant mutations write the store first, then
// synchronously evict the affected user's cached entry before
// returning, so no caller can observe a stale set after a mutation
// completes.
//
// The cache is strictly an availability optimization: any cache
// infrastructure failure is downgraded to a miss (reads) or a logged
// no-op (writes and evictions), and the store remains the source of
// truth.
type Service struct {
	store   Store
	cache   *Cache
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewService creates a new identity service. cache may be nil, in which
// case every permission read goes to the store.
func NewService(store Store, cache *Cache, log *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		cache:   cache,
		log:     log,
		metrics: metrics,
	}
}

// CreateUser registers a new user in the tenant and domain. Username
// and email must both be unused within the scope; the same values may
// exist freely in other scopes. New users start with an unverified
// email regardless of what the request claims.
func (s *Service) CreateUser(ctx context.Context, tenant, domain string, req *CreateUserRequest) (*User, error) {
	taken, err := s.store.UsernameExists(ctx, req.Username, tenant, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("username %q: %w", req.Username, ErrAlreadyExists)
	}

	taken, err = s.store.EmailExists(ctx, req.Email, tenant, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("email %q: %w", req.Email, ErrAlreadyExists)
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:              uuid.New(),
		TenantID:        tenant,
		ResourceDomain:  domain,
		Username:        req.Username,
		Email:           req.Email,
		PasswordHash:    hash,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		IsActive:        req.IsActive,
		IsEmailVerified: false,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"user_id":   user.ID.String(),
		"username":  user.Username,
		"tenant_id": tenant,
		"domain":    domain,
	}).Info("user created")
	return user, nil
}

// UpdateUser applies a partial update to the user's profile fields and
// evicts the cached permission set. The eviction is unconditional even
// though profile fields do not feed the permission computation; the
// cached entry also carries the username and activity-derived state,
// and a single cheap eviction is simpler than tracking which fields
// matter.
func (s *Service) UpdateUser(ctx context.Context, tenant, domain string, id uuid.UUID, req *UpdateUserRequest) (*User, error) {
	user, err := s.store.GetUser(ctx, id, tenant, domain)
	if err != nil {
		return nil, err
	}

	if req.Email != nil && *req.Email != user.Email {
		taken, err := s.store.EmailExists(ctx, *req.Email, tenant, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		if taken {
			return nil, fmt.Errorf("email %q: %w", *req.Email, ErrAlreadyExists)
		}
		user.Email = *req.Email
	}
	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.IsEmailVerified != nil {
		user.IsEmailVerified = *req.IsEmailVerified
	}

	if err := s.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}

	s.evict(ctx, tenant, domain, id)
	return user, nil
}

// DeleteUser removes the user and its grant rows, evicting the cached
// entry first so a failed delete never leaves a cached set for a user
// whose grants may since have changed.
func (s *Service) DeleteUser(ctx context.Context, tenant, domain string, id uuid.UUID) error {
	s.evict(ctx, tenant, domain, id)

	if err := s.store.DeleteUser(ctx, id, tenant, domain); err != nil {
		return err
	}

	s.log.WithFields(map[string]interface{}{
		"user_id":   id.String(),
		"tenant_id": tenant,
		"domain":    domain,
	}).Info("user deleted")
	return nil
}

// GetUser retrieves a user by id within the scope.
func (s *Service) GetUser(ctx context.Context, tenant, domain string, id uuid.UUID) (*User, error) {
	return s.store.GetUser(ctx, id, tenant, domain)
}

// GetUserByUsername retrieves a user by username within the scope.
func (s *Service) GetUserByUsername(ctx context.Context, tenant, domain, username string) (*User, error) {
	return s.store.GetUserByUsername(ctx, username, tenant, domain)
}

// ListUsers returns all users within the scope.
func (s *Service) ListUsers(ctx context.Context, tenant, domain string) ([]User, error) {
	return s.store.ListUsers(ctx, tenant, domain)
}

// SearchUsers matches the term against username, email, and names
// within the scope.
func (s *Service) SearchUsers(ctx context.Context, tenant, domain, term string) ([]User, error) {
	return s.store.SearchUsers(ctx, tenant, domain, term)
}

// UsernameAvailable reports whether the username is unused in the scope.
func (s *Service) UsernameAvailable(ctx context.Context, tenant, domain, username string) (bool, error) {
	taken, err := s.store.UsernameExists(ctx, username, tenant, domain)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// EmailAvailable reports whether the email is unused in the scope.
func (s *Service) EmailAvailable(ctx context.Context, tenant, domain, email string) (bool, error) {
	taken, err := s.store.EmailExists(ctx, email, tenant, domain)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// Authenticate verifies a username/password pair within the scope. An
// unknown username, a wrong password, and an inactive account all
// return ErrInvalidCredentials so callers cannot probe which usernames
// exist.
func (s *Service) Authenticate(ctx context.Context, tenant, domain, username, password string) (*User, error) {
	user, err := s.store.GetUserByUsername(ctx, username, tenant, domain)
	if errors.Is(err, ErrUserNotFound) {
		s.metrics.AuthAttemptsTotal.WithLabelValues("unknown_user").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.metrics.AuthAttemptsTotal.WithLabelValues("bad_password").Inc()
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.metrics.AuthAttemptsTotal.WithLabelValues("inactive").Inc()
		return nil, ErrInvalidCredentials
	}

	s.metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	return user, nil
}

// UpdateLastLogin stamps the user's last login time. Does not evict:
// the login timestamp is not part of the cached permission set.
func (s *Service) UpdateLastLogin(ctx context.Context, tenant, domain string, id uuid.UUID) error {
	user, err := s.store.GetUser(ctx, id, tenant, domain)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user.LastLoginAt = &now
	return s.store.SaveUser(ctx, user)
}

// ActivateUser marks the user active. The cached entry is left alone;
// activation only widens access, and the entry ages out within its TTL.
func (s *Service) ActivateUser(ctx context.Context, tenant, domain string, id uuid.UUID) error {
	return s.setActive(ctx, tenant, domain, id, true)
}

// DeactivateUser marks the user inactive and evicts the cached entry so
// the revocation takes effect immediately.
func (s *Service) DeactivateUser(ctx context.Context, tenant, domain string, id uuid.UUID) error {
	if err := s.setActive(ctx, tenant, domain, id, false); err != nil {
		return err
	}
	s.evict(ctx, tenant, domain, id)
	return nil
}

func (s *Service) setActive(ctx context.Context, tenant, domain string, id uuid.UUID, active bool) error {
	user, err := s.store.GetUser(ctx, id, tenant, domain)
	if err != nil {
		return err
	}
	user.IsActive = active
	return s.store.SaveUser(ctx, user)
}

// VerifyEmail marks the user's email address verified. No eviction;
// verification state is not part of the permission computation.
func (s *Service) VerifyEmail(ctx context.Context, tenant, domain string, id uuid.UUID) error {
	user, err := s.store.GetUser(ctx, id, tenant, domain)
	if err != nil {
		return err
	}
	user.IsEmailVerified = true
	return s.store.SaveUser(ctx, user)
}

// AssignRole grants a role to a user. Both must exist in the same
// tenant and domain. Re-assigning is a no-op at the store, but the
// eviction still runs.
func (s *Service) AssignRole(ctx context.Context, tenant, domain string, userID, roleID uuid.UUID) error {
	if _, err := s.store.GetUser(ctx, userID, tenant, domain); err != nil {
		return err
	}
	if _, err := s.store.GetRole(ctx, roleID, tenant, domain); err != nil {
		return err
	}
	if err := s.store.AddUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.evict(ctx, tenant, domain, userID)
	return nil
}

// RemoveRole revokes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, tenant, domain string, userID, roleID uuid.UUID) error {
	if _, err := s.store.GetUser(ctx, userID, tenant, domain); err != nil {
		return err
	}
	if _, err := s.store.GetRole(ctx, roleID, tenant, domain); err != nil {
		return err
	}
	if err := s.store.RemoveUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.evict(ctx, tenant, domain, userID)
	return nil
}

// AssignPermission grants a permission directly to a user.
func (s *Service) AssignPermission(ctx context.Context, tenant, domain string, userID, permissionID uuid.UUID) error {
	if _, err := s.store.GetUser(ctx, userID, tenant, domain); err != nil {
		return err
	}
	if _, err := s.store.GetPermission(ctx, permissionID, tenant, domain); err != nil {
		return err
	}
	if err := s.store.AddUserPermission(ctx, userID, permissionID); err != nil {
		return err
	}
	s.evict(ctx, tenant, domain, userID)
	return nil
}

// RemovePermission revokes a direct permission grant from a user.
func (s *Service) RemovePermission(ctx context.Context, tenant, domain string, userID, permissionID uuid.UUID) error {
	if _, err := s.store.GetUser(ctx, userID, tenant, domain); err != nil {
		return err
	}
	if _, err := s.store.GetPermission(ctx, permissionID, tenant, domain); err != nil {
		return err
	}
	if err := s.store.RemoveUserPermission(ctx, userID, permissionID); err != nil {
		return err
	}
	s.evict(ctx, tenant, domain, userID)
	return nil
}

// EffectivePermissions computes the user's effective permission set
// from the store: the deduplicated union of role-derived and direct
// grants, restricted to active permissions. Role names are collected
// from every held role regardless of the role's own active flag; only
// individual permissions are filtered.
func (s *Service) EffectivePermissions(ctx context.Context, tenant, domain string, id uuid.UUID) (*UserPermissions, error) {
	grants, err := s.store.GetUserWithGrants(ctx, id, tenant, domain)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	perms := []string{}
	add := func(p Permission) {
		if !p.IsActive {
			return
		}
		str := p.String()
		if _, ok := seen[str]; ok {
			return
		}
		seen[str] = struct{}{}
		perms = append(perms, str)
	}

	roles := []string{}
	for _, role := range grants.Roles {
		roles = append(roles, role.Name)
		for _, p := range grants.RolePermissions[role.ID] {
			add(p)
		}
	}
	for _, p := range grants.DirectPermissions {
		add(p)
	}

	return &UserPermissions{
		UserID:         grants.User.ID,
		Username:       grants.User.Username,
		TenantID:       tenant,
		ResourceDomain: domain,
		Permissions:    perms,
		Roles:          roles,
	}, nil
}

// CachedPermissions returns the user's effective permission set,
// reading through the cache: a hit is returned as-is, a miss (or any
// cache failure) recomputes from the store and repopulates the cache.
func (s *Service) CachedPermissions(ctx context.Context, tenant, domain string, id uuid.UUID) (*UserPermissions, error) {
	if s.cache != nil {
		cached, err := s.cache.GetPermissions(ctx, tenant, domain, id)
		if err != nil {
			s.metrics.CacheErrorsTotal.WithLabelValues("permissions", "get").Inc()
			s.log.WithError(err).Warn("permission cache read failed, falling back to store")
		} else if cached != nil {
			s.metrics.CacheHitsTotal.WithLabelValues("permissions").Inc()
			return cached, nil
		} else {
			s.metrics.CacheMissesTotal.WithLabelValues("permissions").Inc()
		}
	}

	perms, err := s.EffectivePermissions(ctx, tenant, domain, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.PutPermissions(ctx, perms); err != nil {
			s.metrics.CacheErrorsTotal.WithLabelValues("permissions", "put").Inc()
			s.log.WithError(err).Warn("permission cache write failed")
		}
	}
	return perms, nil
}

// CachePermissions recomputes the user's effective set and stores it,
// replacing any cached entry and resetting the TTL.
func (s *Service) CachePermissions(ctx context.Context, tenant, domain string, id uuid.UUID) (*UserPermissions, error) {
	perms, err := s.EffectivePermissions(ctx, tenant, domain, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.PutPermissions(ctx, perms); err != nil {
			s.metrics.CacheErrorsTotal.WithLabelValues("permissions", "put").Inc()
			s.log.WithError(err).Warn("permission cache write failed")
		}
	}
	return perms, nil
}

// EvictPermissions drops the user's cached entry on demand.
func (s *Service) EvictPermissions(ctx context.Context, tenant, domain string, id uuid.UUID) {
	s.evict(ctx, tenant, domain, id)
}

// HasPermission reports whether the user's effective set contains the
// given "resource:action" string, using the cache.
func (s *Service) HasPermission(ctx context.Context, tenant, domain string, id uuid.UUID, permission string) (bool, error) {
	perms, err := s.CachedPermissions(ctx, tenant, domain, id)
	if err != nil {
		return false, err
	}
	return perms.HasPermission(permission), nil
}

// HasRole reports whether the user holds the named role, using the cache.
func (s *Service) HasRole(ctx context.Context, tenant, domain string, id uuid.UUID, role string) (bool, error) {
	perms, err := s.CachedPermissions(ctx, tenant, domain, id)
	if err != nil {
		return false, err
	}
	return perms.HasRole(role), nil
}

// UserRoles returns the names of every role held by the user.
func (s *Service) UserRoles(ctx context.Context, tenant, domain string, id uuid.UUID) ([]string, error) {
	grants, err := s.store.GetUserWithGrants(ctx, id, tenant, domain)
	if err != nil {
		return nil, err
	}
	roles := []string{}
	for _, role := range grants.Roles {
		roles = append(roles, role.Name)
	}
	return roles, nil
}

// UserPermissionStrings returns the active effective permission strings
// straight from the store, bypassing the cache.
func (s *Service) UserPermissionStrings(ctx context.Context, tenant, domain string, id uuid.UUID) ([]string, error) {
	if _, err := s.store.GetUser(ctx, id, tenant, domain); err != nil {
		return nil, err
	}
	perms, err := s.store.ListUserPermissions(ctx, id, tenant, domain)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, p := range perms {
		out = append(out, p.String())
	}
	return out, nil
}

// CreateRole registers a new role in the tenant and domain.
func (s *Service) CreateRole(ctx context.Context, tenant, domain string, role *Role) (*Role, error) {
	role.ID = uuid.New()
	role.TenantID = tenant
	role.ResourceDomain = domain
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// GetRole retrieves a role by id within the scope.
func (s *Service) GetRole(ctx context.Context, tenant, domain string, id uuid.UUID) (*Role, error) {
	return s.store.GetRole(ctx, id, tenant, domain)
}

// CreatePermission registers a new permission in the tenant and domain.
func (s *Service) CreatePermission(ctx context.Context, tenant, domain string, perm *Permission) (*Permission, error) {
	perm.ID = uuid.New()
	perm.TenantID = tenant
	perm.ResourceDomain = domain
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// GetPermission retrieves a permission by id within the scope.
func (s *Service) GetPermission(ctx context.Context, tenant, domain string, id uuid.UUID) (*Permission, error) {
	return s.store.GetPermission(ctx, id, tenant, domain)
}

// SetPermissionActive flips a permission's active flag and clears every
// cached entry in the scope: a permission feeds an unknown number of
// users' effective sets, so the whole domain is evicted rather than
// tracking reverse grants.
func (s *Service) SetPermissionActive(ctx context.Context, tenant, domain string, id uuid.UUID, active bool) error {
	perm, err := s.store.GetPermission(ctx, id, tenant, domain)
	if err != nil {
		return err
	}
	perm.IsActive = active
	if err := s.store.SavePermission(ctx, perm); err != nil {
		return err
	}
	s.EvictDomainPermissions(ctx, tenant, domain)
	return nil
}

// AssignPermissionToRole adds a permission to a role's set. Every user
// holding the role is affected, so the whole domain's cached entries
// are evicted.
func (s *Service) AssignPermissionToRole(ctx context.Context, tenant, domain string, roleID, permissionID uuid.UUID) error {
	if _, err := s.store.GetRole(ctx, roleID, tenant, domain); err != nil {
		return err
	}
	if _, err := s.store.GetPermission(ctx, permissionID, tenant, domain); err != nil {
		return err
	}
	if err := s.store.AddRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.EvictDomainPermissions(ctx, tenant, domain)
	return nil
}

// RemovePermissionFromRole removes a permission from a role's set.
func (s *Service) RemovePermissionFromRole(ctx context.Context, tenant, domain string, roleID, permissionID uuid.UUID) error {
	if _, err := s.store.GetRole(ctx, roleID, tenant, domain); err != nil {
		return err
	}
	if _, err := s.store.GetPermission(ctx, permissionID, tenant, domain); err != nil {
		return err
	}
	if err := s.store.RemoveRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.EvictDomainPermissions(ctx, tenant, domain)
	return nil
}

// IsCached reports whether the user currently has a cached entry.
func (s *Service) IsCached(ctx context.Context, tenant, domain string, id uuid.UUID) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	return s.cache.IsCached(ctx, tenant, domain, id)
}

// CacheTTL returns the remaining lifetime of the user's cached entry,
// or -1 when no entry exists.
func (s *Service) CacheTTL(ctx context.Context, tenant, domain string, id uuid.UUID) (time.Duration, error) {
	if s.cache == nil {
		return -1, nil
	}
	return s.cache.PermissionsTTL(ctx, tenant, domain, id)
}

// EvictTenantPermissions clears every cached entry for a tenant.
func (s *Service) EvictTenantPermissions(ctx context.Context, tenant string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.EvictTenant(ctx, tenant); err != nil {
		s.metrics.CacheErrorsTotal.WithLabelValues("permissions", "evict_tenant").Inc()
		s.log.WithError(err).WithField("tenant_id", tenant).Error("tenant cache eviction failed")
		return
	}
	s.metrics.CacheEvictionsTotal.WithLabelValues("permissions", "tenant").Inc()
}

// EvictDomainPermissions clears every cached entry for a tenant+domain.
func (s *Service) EvictDomainPermissions(ctx context.Context, tenant, domain string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.EvictDomain(ctx, tenant, domain); err != nil {
		s.metrics.CacheErrorsTotal.WithLabelValues("permissions", "evict_domain").Inc()
		s.log.WithError(err).WithFields(map[string]interface{}{
			"tenant_id": tenant,
			"domain":    domain,
		}).Error("domain cache eviction failed")
		return
	}
	s.metrics.CacheEvictionsTotal.WithLabelValues("permissions", "domain").Inc()
}

// evict drops a single user's cached entry. Cache failures are logged
// and counted but never surfaced: the store mutation already committed,
// and the entry's TTL bounds how long the stale value can live.
func (s *Service) evict(ctx context.Context, tenant, domain string, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.EvictPermissions(ctx, tenant, domain, id); err != nil {
		s.metrics.CacheErrorsTotal.WithLabelValues("permissions", "evict").Inc()
		s.log.WithError(err).WithFields(map[string]interface{}{
			"user_id":   id.String(),
			"tenant_id": tenant,
			"domain":    domain,
		}).Error("cache eviction failed after store mutation")
		return
	}
	s.metrics.CacheEvictionsTotal.WithLabelValues("permissions", "user").Inc()
}
