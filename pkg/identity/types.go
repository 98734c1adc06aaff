package identity

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity record scoped to a tenant and resource domain.
// Role and permission grants are stored as join rows (user_roles,
// user_permissions), not as object references.
type User struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        string     `json:"tenant_id"`
	ResourceDomain  string     `json:"resource_domain"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	PasswordHash    string     `json:"-"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	IsActive        bool       `json:"is_active"`
	IsEmailVerified bool       `json:"is_email_verified"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CreatedBy       string     `json:"created_by,omitempty"`
	UpdatedBy       string     `json:"updated_by,omitempty"`
}

// Role is a named grant group, unique by (name, tenant, domain).
type Role struct {
	ID             uuid.UUID `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ResourceDomain string    `json:"resource_domain"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by,omitempty"`
	UpdatedBy      string    `json:"updated_by,omitempty"`
}

// Permission is an atomic capability identified by (resource, action).
// Name is independently unique within tenant+domain.
type Permission struct {
	ID             uuid.UUID `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ResourceDomain string    `json:"resource_domain"`
	Name           string    `json:"name"`
	Resource       string    `json:"resource"`
	Action         string    `json:"action"`
	Description    string    `json:"description,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by,omitempty"`
	UpdatedBy      string    `json:"updated_by,omitempty"`
}

// String returns the canonical permission string "resource:action".
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// UserGrants is a user loaded together with its role set, each role's
// permission set, and its directly assigned permissions. Produced by a
// single eager fetch, never by lazy graph walking.
type UserGrants struct {
	User              User
	Roles             []Role
	RolePermissions   map[uuid.UUID][]Permission // keyed by role id
	DirectPermissions []Permission
}

// UserPermissions is the effective permission set for a user in scope:
// the deduplicated union of direct grants and role-derived grants, plus
// the names of every role the user holds. This is the value cached by
// the permission cache.
type UserPermissions struct {
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	TenantID       string    `json:"tenant_id"`
	ResourceDomain string    `json:"resource_domain"`
	Permissions    []string  `json:"permissions"`
	Roles          []string  `json:"roles"`
}

// HasPermission reports whether the effective set contains the given
// "resource:action" string.
func (up *UserPermissions) HasPermission(permission string) bool {
	for _, p := range up.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasRole reports whether the user holds the named role.
func (up *UserPermissions) HasRole(role string) bool {
	for _, r := range up.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CreateUserRequest carries the fields needed to create a user.
// Format validation (email syntax, password strength) happens at the
// transport layer before this reaches the service.
type CreateUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// UpdateUserRequest carries optional field updates; nil means unchanged.
type UpdateUserRequest struct {
	Email           *string `json:"email,omitempty"`
	FirstName       *string `json:"first_name,omitempty"`
	LastName        *string `json:"last_name,omitempty"`
	IsActive        *bool   `json:"is_active,omitempty"`
	IsEmailVerified *bool   `json:"is_email_verified,omitempty"`
}
