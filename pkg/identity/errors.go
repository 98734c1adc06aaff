package identity

import "errors"

var (
	// ErrUserNotFound is returned when no user matches the id or
	// username within the requested tenant and domain.
	ErrUserNotFound = errors.New("user not found")

	// ErrRoleNotFound is returned when no role matches the id within
	// the requested tenant and domain.
	ErrRoleNotFound = errors.New("role not found")

	// ErrPermissionNotFound is returned when no permission matches the
	// id within the requested tenant and domain.
	ErrPermissionNotFound = errors.New("permission not found")

	// ErrAlreadyExists is returned on a uniqueness violation for
	// username, email, role name, or permission name within a
	// tenant+domain scope.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials is returned for every authentication
	// failure: unknown username, password mismatch, or inactive
	// account. The cases are intentionally indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
