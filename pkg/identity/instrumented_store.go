package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-auth/gatehouse/pkg/observability"
)

// InstrumentedStore wraps a Store and records an operation counter and a
// latency histogram per call. Domain errors (not-found, conflicts) count
// as errors like any other failure; the labels are for traffic shape,
// not error taxonomy.
type InstrumentedStore struct {
	next    Store
	metrics *observability.Metrics
}

// NewInstrumentedStore wraps next with store metrics.
func NewInstrumentedStore(next Store, metrics *observability.Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(op, status).Inc()
	s.metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStore) CreateUser(ctx context.Context, user *User) error {
	start := time.Now()
	err := s.next.CreateUser(ctx, user)
	s.observe("create_user", start, err)
	return err
}

func (s *InstrumentedStore) SaveUser(ctx context.Context, user *User) error {
	start := time.Now()
	err := s.next.SaveUser(ctx, user)
	s.observe("save_user", start, err)
	return err
}

func (s *InstrumentedStore) DeleteUser(ctx context.Context, id uuid.UUID, tenant, domain string) error {
	start := time.Now()
	err := s.next.DeleteUser(ctx, id, tenant, domain)
	s.observe("delete_user", start, err)
	return err
}

func (s *InstrumentedStore) GetUser(ctx context.Context, id uuid.UUID, tenant, domain string) (*User, error) {
	start := time.Now()
	user, err := s.next.GetUser(ctx, id, tenant, domain)
	s.observe("get_user", start, err)
	return user, err
}

func (s *InstrumentedStore) GetUserByUsername(ctx context.Context, username, tenant, domain string) (*User, error) {
	start := time.Now()
	user, err := s.next.GetUserByUsername(ctx, username, tenant, domain)
	s.observe("get_user_by_username", start, err)
	return user, err
}

func (s *InstrumentedStore) GetUserByEmail(ctx context.Context, email, tenant, domain string) (*User, error) {
	start := time.Now()
	user, err := s.next.GetUserByEmail(ctx, email, tenant, domain)
	s.observe("get_user_by_email", start, err)
	return user, err
}

func (s *InstrumentedStore) ListUsers(ctx context.Context, tenant, domain string) ([]User, error) {
	start := time.Now()
	users, err := s.next.ListUsers(ctx, tenant, domain)
	s.observe("list_users", start, err)
	return users, err
}

func (s *InstrumentedStore) SearchUsers(ctx context.Context, tenant, domain, term string) ([]User, error) {
	start := time.Now()
	users, err := s.next.SearchUsers(ctx, tenant, domain, term)
	s.observe("search_users", start, err)
	return users, err
}

func (s *InstrumentedStore) UsernameExists(ctx context.Context, username, tenant, domain string) (bool, error) {
	start := time.Now()
	exists, err := s.next.UsernameExists(ctx, username, tenant, domain)
	s.observe("username_exists", start, err)
	return exists, err
}

func (s *InstrumentedStore) EmailExists(ctx context.Context, email, tenant, domain string) (bool, error) {
	start := time.Now()
	exists, err := s.next.EmailExists(ctx, email, tenant, domain)
	s.observe("email_exists", start, err)
	return exists, err
}

func (s *InstrumentedStore) GetUserWithGrants(ctx context.Context, id uuid.UUID, tenant, domain string) (*UserGrants, error) {
	start := time.Now()
	grants, err := s.next.GetUserWithGrants(ctx, id, tenant, domain)
	s.observe("get_user_with_grants", start, err)
	return grants, err
}

func (s *InstrumentedStore) ListUserPermissions(ctx context.Context, id uuid.UUID, tenant, domain string) ([]Permission, error) {
	start := time.Now()
	perms, err := s.next.ListUserPermissions(ctx, id, tenant, domain)
	s.observe("list_user_permissions", start, err)
	return perms, err
}

func (s *InstrumentedStore) CreateRole(ctx context.Context, role *Role) error {
	start := time.Now()
	err := s.next.CreateRole(ctx, role)
	s.observe("create_role", start, err)
	return err
}

func (s *InstrumentedStore) GetRole(ctx context.Context, id uuid.UUID, tenant, domain string) (*Role, error) {
	start := time.Now()
	role, err := s.next.GetRole(ctx, id, tenant, domain)
	s.observe("get_role", start, err)
	return role, err
}

func (s *InstrumentedStore) CreatePermission(ctx context.Context, perm *Permission) error {
	start := time.Now()
	err := s.next.CreatePermission(ctx, perm)
	s.observe("create_permission", start, err)
	return err
}

func (s *InstrumentedStore) GetPermission(ctx context.Context, id uuid.UUID, tenant, domain string) (*Permission, error) {
	start := time.Now()
	perm, err := s.next.GetPermission(ctx, id, tenant, domain)
	s.observe("get_permission", start, err)
	return perm, err
}

func (s *InstrumentedStore) SavePermission(ctx context.Context, perm *Permission) error {
	start := time.Now()
	err := s.next.SavePermission(ctx, perm)
	s.observe("save_permission", start, err)
	return err
}

func (s *InstrumentedStore) AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	start := time.Now()
	err := s.next.AddUserRole(ctx, userID, roleID)
	s.observe("add_user_role", start, err)
	return err
}

func (s *InstrumentedStore) RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	start := time.Now()
	err := s.next.RemoveUserRole(ctx, userID, roleID)
	s.observe("remove_user_role", start, err)
	return err
}

func (s *InstrumentedStore) AddUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	start := time.Now()
	err := s.next.AddUserPermission(ctx, userID, permissionID)
	s.observe("add_user_permission", start, err)
	return err
}

func (s *InstrumentedStore) RemoveUserPermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	start := time.Now()
	err := s.next.RemoveUserPermission(ctx, userID, permissionID)
	s.observe("remove_user_permission", start, err)
	return err
}

func (s *InstrumentedStore) AddRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	start := time.Now()
	err := s.next.AddRolePermission(ctx, roleID, permissionID)
	s.observe("add_role_permission", start, err)
	return err
}

func (s *InstrumentedStore) RemoveRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	start := time.Now()
	err := s.next.RemoveRolePermission(ctx, roleID, permissionID)
	s.observe("remove_role_permission", start, err)
	return err
}
