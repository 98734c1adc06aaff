package identity

import (
	"context"

	"github.com/google/uuid"
)

// Store is the grant store contract: durable storage for users, roles,
// permissions, and their join rows, with every lookup scoped by
// (tenant, domain). Implementations enforce scoping at the query
// boundary; it is never an optional filter.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	SaveUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id uuid.UUID, tenant, domain string) error
	GetUser(ctx context.Context, id uuid.UUID, tenant, domain string) (*User, error)
	GetUserByUsername(ctx context.Context, username, tenant, domain string) (*User, error)
	GetUserByEmail(ctx context.Context, email, tenant, domain string) (*User, error)
	ListUsers(ctx context.Context, tenant, domain string) ([]User, error)
	SearchUsers(ctx context.Context, tenant, domain, term string) ([]User, error)
	UsernameExists(ctx context.Context, username, tenant, domain string) (bool, error)
	EmailExists(ctx context.Context, email, tenant, domain string) (bool, error)

	// GetUserWithGrants eager-loads the user together with its role
	// set, each role's permission set, and its direct permission set.
	GetUserWithGrants(ctx context.Context, id uuid.UUID, tenant, domain string) (*UserGrants, error)

	// ListUserPermissions returns the deduplicated union of role-derived
	// and directly assigned permissions, restricted to active
	// permissions.
	ListUserPermissions(ctx context.Context, id uuid.UUID, tenant, domain string) ([]Permission, error)

	// Roles and permissions
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id uuid.UUID, tenant, domain string) (*Role, error)
	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, id uuid.UUID, tenant, domain string) (*Permission, error)
	SavePermission(ctx context.Context, perm *Permission) error

	// Grant graph mutations. All are idempotent at the set level:
	// adding an existing row or removing an absent row is a no-op.
	AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	AddUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error
	RemoveUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error
	AddRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
}
