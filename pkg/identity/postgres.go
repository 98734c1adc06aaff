package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const userColumns = `id, tenant_id, resource_domain, username, email, password_hash,
	first_name, last_name, is_active, is_email_verified, last_login_at,
	created_at, updated_at, created_by, updated_by`

const permissionColumns = `id, tenant_id, resource_domain, name, resource, action,
	description, is_active, created_at, updated_at, created_by, updated_by`

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed grant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateUser inserts a new user row.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, tenant_id, resource_domain, username, email, password_hash,
			first_name, last_name, is_active, is_email_verified, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.TenantID, user.ResourceDomain, user.Username, user.Email, user.PasswordHash,
		user.FirstName, user.LastName, user.IsActive, user.IsEmailVerified,
		user.CreatedAt, user.UpdatedAt, user.CreatedBy, user.UpdatedBy,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// SaveUser updates an existing user row.
func (s *PostgresStore) SaveUser(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET email = $1, first_name = $2, last_name = $3, is_active = $4,
			is_email_verified = $5, last_login_at = $6, password_hash = $7,
			updated_at = $8, updated_by = $9
		WHERE id = $10 AND tenant_id = $11 AND resource_domain = $12
	`
	res, err := s.db.ExecContext(ctx, query,
		user.Email, user.FirstName, user.LastName, user.IsActive,
		user.IsEmailVerified, user.LastLoginAt, user.PasswordHash,
		user.UpdatedAt, user.UpdatedBy,
		user.ID, user.TenantID, user.ResourceDomain,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user row; join rows cascade.
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID, tenant, domain string) error {
	query := `DELETE FROM users WHERE id = $1 AND tenant_id = $2 AND resource_domain = $3`
	res, err := s.db.ExecContext(ctx, query, id, tenant, domain)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUser retrieves a user by id within the tenant and domain.
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID, tenant, domain string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND tenant_id = $2 AND resource_domain = $3`
	return s.getUser(ctx, query, id, tenant, domain)
}

// GetUserByUsername retrieves a user by username within the tenant and domain.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username, tenant, domain string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND tenant_id = $2 AND resource_domain = $3`
	return s.getUser(ctx, query, username, tenant, domain)
}

// GetUserByEmail retrieves a user by email within the tenant and domain.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email, tenant, domain string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND tenant_id = $2 AND resource_domain = $3`
	return s.getUser(ctx, query, email, tenant, domain)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, args ...interface{}) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all users within the tenant and domain.
func (s *PostgresStore) ListUsers(ctx context.Context, tenant, domain string) ([]User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND resource_domain = $2
		ORDER BY username ASC
	`
	return s.listUsers(ctx, query, tenant, domain)
}

// SearchUsers matches the term case-insensitively against username,
// email, first name, and last name within the tenant and domain.
func (s *PostgresStore) SearchUsers(ctx context.Context, tenant, domain, term string) ([]User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND resource_domain = $2
		  AND (username ILIKE $3 OR email ILIKE $3 OR first_name ILIKE $3 OR last_name ILIKE $3)
		ORDER BY username ASC
	`
	return s.listUsers(ctx, query, tenant, domain, "%"+term+"%")
}

func (s *PostgresStore) listUsers(ctx context.Context, query string, args ...interface{}) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UsernameExists reports whether the username is taken within the scope.
func (s *PostgresStore) UsernameExists(ctx context.Context, username, tenant, domain string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 AND tenant_id = $2 AND resource_domain = $3)`,
		username, tenant, domain)
}

// EmailExists reports whether the email is taken within the scope.
func (s *PostgresStore) EmailExists(ctx context.Context, email, tenant, domain string) (bool, error) {
	return s.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND tenant_id = $2 AND resource_domain = $3)`,
		email, tenant, domain)
}

func (s *PostgresStore) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return exists, nil
}

// GetUserWithGrants loads the user and its full grant graph in a fixed
// number of queries regardless of how many roles the user holds.
func (s *PostgresStore) GetUserWithGrants(ctx context.Context, id uuid.UUID, tenant, domain string) (*UserGrants, error) {
	user, err := s.GetUser(ctx, id, tenant, domain)
	if err != nil {
		return nil, err
	}

	grants := &UserGrants{
		User:            *user,
		RolePermissions: make(map[uuid.UUID][]Permission),
	}

	// Role memberships.
	roleQuery := `
		SELECT r.id, r.tenant_id, r.resource_domain, r.name, r.description, r.is_active,
		       r.created_at, r.updated_at, r.created_by, r.updated_by
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND r.tenant_id = $2 AND r.resource_domain = $3
		ORDER BY r.name ASC
	`
	rows, err := s.db.QueryContext(ctx, roleQuery, id, tenant, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var roleIDs []uuid.UUID
	for rows.Next() {
		var role Role
		if err := rows.Scan(
			&role.ID, &role.TenantID, &role.ResourceDomain, &role.Name, &role.Description,
			&role.IsActive, &role.CreatedAt, &role.UpdatedAt, &role.CreatedBy, &role.UpdatedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		grants.Roles = append(grants.Roles, role)
		roleIDs = append(roleIDs, role.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Permissions reachable through those roles, one batched query.
	if len(roleIDs) > 0 {
		ids := make([]string, len(roleIDs))
		for i, rid := range roleIDs {
			ids[i] = rid.String()
		}
		permQuery := `
			SELECT rp.role_id, p.id, p.tenant_id, p.resource_domain, p.name, p.resource, p.action,
			       p.description, p.is_active, p.created_at, p.updated_at, p.created_by, p.updated_by
			FROM permissions p
			JOIN role_permissions rp ON rp.permission_id = p.id
			WHERE rp.role_id = ANY($1) AND p.tenant_id = $2 AND p.resource_domain = $3
		`
		permRows, err := s.db.QueryContext(ctx, permQuery, pq.Array(ids), tenant, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to get role permissions: %w", err)
		}
		defer permRows.Close()

		for permRows.Next() {
			var roleID uuid.UUID
			var perm Permission
			if err := permRows.Scan(
				&roleID, &perm.ID, &perm.TenantID, &perm.ResourceDomain, &perm.Name,
				&perm.Resource, &perm.Action, &perm.Description, &perm.IsActive,
				&perm.CreatedAt, &perm.UpdatedAt, &perm.CreatedBy, &perm.UpdatedBy,
			); err != nil {
				return nil, fmt.Errorf("failed to scan role permission: %w", err)
			}
			grants.RolePermissions[roleID] = append(grants.RolePermissions[roleID], perm)
		}
		if err := permRows.Err(); err != nil {
			return nil, err
		}
	}

	// Direct permission grants.
	directQuery := `
		SELECT ` + prefixedPermissionColumns("p") + `
		FROM permissions p
		JOIN user_permissions up ON up.permission_id = p.id
		WHERE up.user_id = $1 AND p.tenant_id = $2 AND p.resource_domain = $3
	`
	directRows, err := s.db.QueryContext(ctx, directQuery, id, tenant, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct permissions: %w", err)
	}
	defer directRows.Close()

	for directRows.Next() {
		perm, err := scanPermission(directRows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan direct permission: %w", err)
		}
		grants.DirectPermissions = append(grants.DirectPermissions, *perm)
	}
	return grants, directRows.Err()
}

// ListUserPermissions returns the active-only union of role-derived and
// direct permissions for the user.
func (s *PostgresStore) ListUserPermissions(ctx context.Context, id uuid.UUID, tenant, domain string) ([]Permission, error) {
	query := `
		SELECT DISTINCT ` + prefixedPermissionColumns("p") + `
		FROM permissions p
		WHERE p.is_active = TRUE
		  AND p.tenant_id = $2 AND p.resource_domain = $3
		  AND p.id IN (
			SELECT rp.permission_id FROM role_permissions rp
			JOIN user_roles ur ON ur.role_id = rp.role_id
			WHERE ur.user_id = $1
			UNION
			SELECT up.permission_id FROM user_permissions up WHERE up.user_id = $1
		  )
	`
	rows, err := s.db.QueryContext(ctx, query, id, tenant, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to list user permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *perm)
	}
	return perms, rows.Err()
}

// CreateRole inserts a new role row.
func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	query := `
		INSERT INTO roles (id, tenant_id, resource_domain, name, description, is_active,
			created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		role.ID, role.TenantID, role.ResourceDomain, role.Name, role.Description,
		role.IsActive, role.CreatedAt, role.UpdatedAt, role.CreatedBy, role.UpdatedBy,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by id within the tenant and domain.
func (s *PostgresStore) GetRole(ctx context.Context, id uuid.UUID, tenant, domain string) (*Role, error) {
	query := `
		SELECT id, tenant_id, resource_domain, name, description, is_active,
		       created_at, updated_at, created_by, updated_by
		FROM roles
		WHERE id = $1 AND tenant_id = $2 AND resource_domain = $3
	`
	var role Role
	err := s.db.QueryRowContext(ctx, query, id, tenant, domain).Scan(
		&role.ID, &role.TenantID, &role.ResourceDomain, &role.Name, &role.Description,
		&role.IsActive, &role.CreatedAt, &role.UpdatedAt, &role.CreatedBy, &role.UpdatedBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// CreatePermission inserts a new permission row.
func (s *PostgresStore) CreatePermission(ctx context.Context, perm *Permission) error {
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	now := time.Now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now

	query := `
		INSERT INTO permissions (id, tenant_id, resource_domain, name, resource, action,
			description, is_active, created_at, updated_at, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		perm.ID, perm.TenantID, perm.ResourceDomain, perm.Name, perm.Resource, perm.Action,
		perm.Description, perm.IsActive, perm.CreatedAt, perm.UpdatedAt, perm.CreatedBy, perm.UpdatedBy,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// GetPermission retrieves a permission by id within the tenant and domain.
func (s *PostgresStore) GetPermission(ctx context.Context, id uuid.UUID, tenant, domain string) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1 AND tenant_id = $2 AND resource_domain = $3`
	perm, err := scanPermission(s.db.QueryRowContext(ctx, query, id, tenant, domain))
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return perm, nil
}

// SavePermission updates an existing permission row.
func (s *PostgresStore) SavePermission(ctx context.Context, perm *Permission) error {
	perm.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE permissions
		SET name = $1, resource = $2, action = $3, description = $4, is_active = $5,
			updated_at = $6, updated_by = $7
		WHERE id = $8 AND tenant_id = $9 AND resource_domain = $10
	`
	res, err := s.db.ExecContext(ctx, query,
		perm.Name, perm.Resource, perm.Action, perm.Description, perm.IsActive,
		perm.UpdatedAt, perm.UpdatedBy, perm.ID, perm.TenantID, perm.ResourceDomain,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to save permission: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save permission: %w", err)
	}
	if rows == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// AddUserRole adds a user-role join row. Re-adding is a no-op.
func (s *PostgresStore) AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	return s.addJoin(ctx, "user_roles", "user_id", "role_id", userID, roleID)
}

// RemoveUserRole removes a user-role join row. Removing an absent row is a no-op.
func (s *PostgresStore) RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	return s.removeJoin(ctx, "user_roles", "user_id", "role_id", userID, roleID)
}

// AddUserPermission adds a direct user-permission join row.
func (s *PostgresStore) AddUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	return s.addJoin(ctx, "user_permissions", "user_id", "permission_id", userID, permissionID)
}

// RemoveUserPermission removes a direct user-permission join row.
func (s *PostgresStore) RemoveUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	return s.removeJoin(ctx, "user_permissions", "user_id", "permission_id", userID, permissionID)
}

// AddRolePermission adds a role-permission join row.
func (s *PostgresStore) AddRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	return s.addJoin(ctx, "role_permissions", "role_id", "permission_id", roleID, permissionID)
}

// RemoveRolePermission removes a role-permission join row.
func (s *PostgresStore) RemoveRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	return s.removeJoin(ctx, "role_permissions", "role_id", "permission_id", roleID, permissionID)
}

func (s *PostgresStore) addJoin(ctx context.Context, table, leftCol, rightCol string, left, right uuid.UUID) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		table, leftCol, rightCol,
	)
	if _, err := s.db.ExecContext(ctx, query, left, right); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func (s *PostgresStore) removeJoin(ctx context.Context, table, leftCol, rightCol string, left, right uuid.UUID) error {
	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s = $1 AND %s = $2`,
		table, leftCol, rightCol,
	)
	if _, err := s.db.ExecContext(ctx, query, left, right); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

func prefixedPermissionColumns(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.resource_domain, ` + alias + `.name, ` +
		alias + `.resource, ` + alias + `.action, ` + alias + `.description, ` + alias + `.is_active, ` +
		alias + `.created_at, ` + alias + `.updated_at, ` + alias + `.created_by, ` + alias + `.updated_by`
}

// scanUser scans a user from a database row.
func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*User, error) {
	var user User
	var lastLogin sql.NullTime
	err := scanner.Scan(
		&user.ID, &user.TenantID, &user.ResourceDomain, &user.Username, &user.Email,
		&user.PasswordHash, &user.FirstName, &user.LastName, &user.IsActive,
		&user.IsEmailVerified, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
		&user.CreatedBy, &user.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}

// scanPermission scans a permission from a database row.
func scanPermission(scanner interface {
	Scan(dest ...interface{}) error
}) (*Permission, error) {
	var perm Permission
	err := scanner.Scan(
		&perm.ID, &perm.TenantID, &perm.ResourceDomain, &perm.Name, &perm.Resource,
		&perm.Action, &perm.Description, &perm.IsActive, &perm.CreatedAt, &perm.UpdatedAt,
		&perm.CreatedBy, &perm.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &perm, nil
}
