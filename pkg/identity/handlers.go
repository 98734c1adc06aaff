package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gatehouse-auth/gatehouse/pkg/middleware"
	"github.com/gatehouse-auth/gatehouse/pkg/observability"
)

// Handlers provides HTTP handlers for identity operations. Every route
// requires the tenant and domain headers, enforced by
// middleware.TenantContext on the parent router.
type Handlers struct {
	service *Service
}

// NewHandlers creates new identity handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all identity routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// User management
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users/search", h.SearchUsers).Methods("GET")
	router.HandleFunc("/users/check-username", h.CheckUsername).Methods("GET")
	router.HandleFunc("/users/check-email", h.CheckEmail).Methods("GET")
	router.HandleFunc("/users/authenticate", h.Authenticate).Methods("POST")
	router.HandleFunc("/users/username/{username}", h.GetUserByUsername).Methods("GET")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.UpdateUser).Methods("PUT")
	router.HandleFunc("/users/{id}", h.DeleteUser).Methods("DELETE")
	router.HandleFunc("/users/{id}/activate", h.ActivateUser).Methods("POST")
	router.HandleFunc("/users/{id}/deactivate", h.DeactivateUser).Methods("POST")
	router.HandleFunc("/users/{id}/verify-email", h.VerifyEmail).Methods("POST")

	// Effective permissions and the cache protocol
	router.HandleFunc("/users/{id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/users/{id}/permissions/cache", h.CacheUserPermissions).Methods("POST")
	router.HandleFunc("/users/{id}/permissions/cache", h.EvictUserPermissions).Methods("DELETE")
	router.HandleFunc("/users/{id}/permissions/cache", h.CacheStatus).Methods("GET")
	router.HandleFunc("/users/{id}/has-permission", h.HasPermission).Methods("GET")
	router.HandleFunc("/users/{id}/has-role", h.HasRole).Methods("GET")

	// Grant assignments
	router.HandleFunc("/users/{id}/roles", h.GetUserRoles).Methods("GET")
	router.HandleFunc("/users/{id}/roles/{role_id}", h.AssignRole).Methods("POST")
	router.HandleFunc("/users/{id}/roles/{role_id}", h.RemoveRole).Methods("DELETE")
	router.HandleFunc("/users/{id}/permissions/{permission_id}", h.AssignPermission).Methods("POST")
	router.HandleFunc("/users/{id}/permissions/{permission_id}", h.RemovePermission).Methods("DELETE")

	// Role and permission management
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}/permissions/{permission_id}", h.AssignPermissionToRole).Methods("POST")
	router.HandleFunc("/roles/{id}/permissions/{permission_id}", h.RemovePermissionFromRole).Methods("DELETE")
	router.HandleFunc("/permissions", h.CreatePermission).Methods("POST")
	router.HandleFunc("/permissions/{id}", h.GetPermission).Methods("GET")
	router.HandleFunc("/permissions/{id}/activate", h.ActivatePermission).Methods("POST")
	router.HandleFunc("/permissions/{id}/deactivate", h.DeactivatePermission).Methods("POST")

	// Cache administration
	router.HandleFunc("/cache/tenant", h.EvictTenantCache).Methods("DELETE")
	router.HandleFunc("/cache/domain", h.EvictDomainCache).Methods("DELETE")
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrRoleNotFound),
		errors.Is(err, ErrPermissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// pathID parses the {id} route variable as a UUID.
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}

// CreateUser registers a new user in the request's scope
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, domain := middleware.Scope(r)

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "username, email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.service.CreateUser(ctx, tenant, domain, &req)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ListUsers returns every user in the scope
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	users, err := h.service.ListUsers(r.Context(), tenant, domain)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if users == nil {
		users = []User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// SearchUsers matches the q parameter against usernames, emails, and names
func (h *Handlers) SearchUsers(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	term := r.URL.Query().Get("q")
	if term == "" {
		http.Error(w, "q parameter is required", http.StatusBadRequest)
		return
	}

	users, err := h.service.SearchUsers(r.Context(), tenant, domain, term)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if users == nil {
		users = []User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// CheckUsername reports username availability within the scope
func (h *Handlers) CheckUsername(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username parameter is required", http.StatusBadRequest)
		return
	}

	available, err := h.service.UsernameAvailable(r.Context(), tenant, domain, username)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

// CheckEmail reports email availability within the scope
func (h *Handlers) CheckEmail(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "email parameter is required", http.StatusBadRequest)
		return
	}

	available, err := h.service.EmailAvailable(r.Context(), tenant, domain, email)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

// Authenticate verifies a username/password pair
func (h *Handlers) Authenticate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, domain := middleware.Scope(r)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.service.Authenticate(ctx, tenant, domain, req.Username, req.Password)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}

	if err := h.service.UpdateLastLogin(ctx, tenant, domain, user.ID); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to record login time")
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUser retrieves a user by id
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	user, err := h.service.GetUser(r.Context(), tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetUserByUsername retrieves a user by username
func (h *Handlers) GetUserByUsername(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	user, err := h.service.GetUserByUsername(r.Context(), tenant, domain, mux.Vars(r)["username"])
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser applies a partial profile update
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.service.UpdateUser(r.Context(), tenant, domain, id, &req)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser removes a user and its grants
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteUser(r.Context(), tenant, domain, id); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateUser marks a user active
func (h *Handlers) ActivateUser(w http.ResponseWriter, r *http.Request) {
	h.userAction(w, r, h.service.ActivateUser)
}

// DeactivateUser marks a user inactive
func (h *Handlers) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.userAction(w, r, h.service.DeactivateUser)
}

// VerifyEmail marks a user's email verified
func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	h.userAction(w, r, h.service.VerifyEmail)
}

func (h *Handlers) userAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenant, domain string, id uuid.UUID) error) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	if err := fn(r.Context(), tenant, domain, id); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUserPermissions returns the user's effective permission set,
// served through the cache
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	perms, err := h.service.CachedPermissions(r.Context(), tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// CacheUserPermissions recomputes and stores the user's effective set
func (h *Handlers) CacheUserPermissions(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	perms, err := h.service.CachePermissions(r.Context(), tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// EvictUserPermissions drops the user's cached entry
func (h *Handlers) EvictUserPermissions(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	h.service.EvictPermissions(r.Context(), tenant, domain, id)
	w.WriteHeader(http.StatusNoContent)
}

// CacheStatus reports whether an entry exists and its remaining TTL
func (h *Handlers) CacheStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	cached, err := h.service.IsCached(ctx, tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	ttl, err := h.service.CacheTTL(ctx, tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cached":      cached,
		"ttl_seconds": int64(ttl.Seconds()),
	})
}

// HasPermission checks one permission string against the effective set
func (h *Handlers) HasPermission(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	permission := r.URL.Query().Get("permission")
	if permission == "" {
		http.Error(w, "permission parameter is required", http.StatusBadRequest)
		return
	}

	has, err := h.service.HasPermission(r.Context(), tenant, domain, id, permission)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_permission": has})
}

// HasRole checks one role name against the user's held roles
func (h *Handlers) HasRole(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		http.Error(w, "role parameter is required", http.StatusBadRequest)
		return
	}

	has, err := h.service.HasRole(r.Context(), tenant, domain, id, role)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_role": has})
}

// GetUserRoles lists the names of the user's roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	roles, err := h.service.UserRoles(r.Context(), tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": id,
		"roles":   roles,
	})
}

// AssignRole grants a role to a user
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	h.grantAction(w, r, "role_id", h.service.AssignRole)
}

// RemoveRole revokes a role from a user
func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	h.grantAction(w, r, "role_id", h.service.RemoveRole)
}

// AssignPermission grants a direct permission to a user
func (h *Handlers) AssignPermission(w http.ResponseWriter, r *http.Request) {
	h.grantAction(w, r, "permission_id", h.service.AssignPermission)
}

// RemovePermission revokes a direct permission from a user
func (h *Handlers) RemovePermission(w http.ResponseWriter, r *http.Request) {
	h.grantAction(w, r, "permission_id", h.service.RemovePermission)
}

// AssignPermissionToRole adds a permission to a role
func (h *Handlers) AssignPermissionToRole(w http.ResponseWriter, r *http.Request) {
	h.grantAction(w, r, "permission_id", h.service.AssignPermissionToRole)
}

// RemovePermissionFromRole removes a permission from a role
func (h *Handlers) RemovePermissionFromRole(w http.ResponseWriter, r *http.Request) {
	h.grantAction(w, r, "permission_id", h.service.RemovePermissionFromRole)
}

func (h *Handlers) grantAction(w http.ResponseWriter, r *http.Request, grantVar string, fn func(ctx context.Context, tenant, domain string, left, right uuid.UUID) error) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid ID", http.StatusBadRequest)
		return
	}
	grantID, err := pathID(r, grantVar)
	if err != nil {
		http.Error(w, "Invalid "+grantVar, http.StatusBadRequest)
		return
	}

	if err := fn(r.Context(), tenant, domain, id, grantID); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateRole registers a new role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	var role Role
	if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if role.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateRole(r.Context(), tenant, domain, &role)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetRole retrieves a role by id
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid role ID", http.StatusBadRequest)
		return
	}

	role, err := h.service.GetRole(r.Context(), tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// CreatePermission registers a new permission
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	var perm Permission
	if err := json.NewDecoder(r.Body).Decode(&perm); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if perm.Name == "" || perm.Resource == "" || perm.Action == "" {
		http.Error(w, "name, resource and action are required", http.StatusBadRequest)
		return
	}

	created, err := h.service.CreatePermission(r.Context(), tenant, domain, &perm)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetPermission retrieves a permission by id
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid permission ID", http.StatusBadRequest)
		return
	}

	perm, err := h.service.GetPermission(r.Context(), tenant, domain, id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

// ActivatePermission marks a permission active
func (h *Handlers) ActivatePermission(w http.ResponseWriter, r *http.Request) {
	h.permissionActive(w, r, true)
}

// DeactivatePermission marks a permission inactive, removing it from
// every effective set on the next recomputation
func (h *Handlers) DeactivatePermission(w http.ResponseWriter, r *http.Request) {
	h.permissionActive(w, r, false)
}

func (h *Handlers) permissionActive(w http.ResponseWriter, r *http.Request, active bool) {
	tenant, domain := middleware.Scope(r)

	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid permission ID", http.StatusBadRequest)
		return
	}

	if err := h.service.SetPermissionActive(r.Context(), tenant, domain, id, active); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EvictTenantCache clears every cached entry for the request's tenant
func (h *Handlers) EvictTenantCache(w http.ResponseWriter, r *http.Request) {
	tenant, _ := middleware.Scope(r)
	h.service.EvictTenantPermissions(r.Context(), tenant)
	w.WriteHeader(http.StatusNoContent)
}

// EvictDomainCache clears every cached entry for the request's scope
func (h *Handlers) EvictDomainCache(w http.ResponseWriter, r *http.Request) {
	tenant, domain := middleware.Scope(r)
	h.service.EvictDomainPermissions(r.Context(), tenant, domain)
	w.WriteHeader(http.StatusNoContent)
}
