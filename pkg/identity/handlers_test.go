package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gatehouse-auth/gatehouse/pkg/middleware"
	"github.com/gatehouse-auth/gatehouse/pkg/observability"
)

// setupHandlerTest builds the full router over a fake store and no cache.
func setupHandlerTest(t *testing.T) (*mux.Router, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	service := NewService(store, nil, logger, observability.NewMetrics(prometheus.NewRegistry()))
	handlers := NewHandlers(service)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.TenantContext)
	handlers.RegisterRoutes(api)

	return router, store
}

// doRequest performs a scoped request and returns the recorder.
func doRequest(router *mux.Router, method, path, tenant, domain string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if tenant != "" {
		req.Header.Set(middleware.TenantHeader, tenant)
	}
	if domain != "" {
		req.Header.Set(middleware.DomainHeader, domain)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlers_MissingScopeHeaders(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rr := doRequest(router, "GET", "/api/v1/users", "", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without tenant header, got %d", rr.Code)
	}

	rr = doRequest(router, "GET", "/api/v1/users", "acme", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without domain header, got %d", rr.Code)
	}
}

func TestHandlers_CreateAndGetUser(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rr := doRequest(router, "POST", "/api/v1/users", "acme", "docs", CreateUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
		IsActive: true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var created User
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.Username != "alice" {
		t.Errorf("Username = %q, want alice", created.Username)
	}

	rr = doRequest(router, "GET", "/api/v1/users/"+created.ID.String(), "acme", "docs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	// The same user is invisible from another tenant.
	rr = doRequest(router, "GET", "/api/v1/users/"+created.ID.String(), "globex", "docs", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 across tenants, got %d", rr.Code)
	}
}

func TestHandlers_CreateUser_Validation(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rr := doRequest(router, "POST", "/api/v1/users", "acme", "docs", CreateUserRequest{
		Username: "alice",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing fields, got %d", rr.Code)
	}
}

func TestHandlers_CreateUser_Conflict(t *testing.T) {
	router, store := setupHandlerTest(t)
	seedUser(t, store, "acme", "docs", "alice", "password1", true)

	rr := doRequest(router, "POST", "/api/v1/users", "acme", "docs", CreateUserRequest{
		Username: "alice",
		Email:    "other@example.com",
		Password: "password2",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for duplicate username, got %d", rr.Code)
	}
}

func TestHandlers_Authenticate(t *testing.T) {
	router, store := setupHandlerTest(t)
	seedUser(t, store, "acme", "docs", "alice", "correct-horse", true)

	rr := doRequest(router, "POST", "/api/v1/users/authenticate", "acme", "docs", map[string]string{
		"username": "alice",
		"password": "correct-horse",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(router, "POST", "/api/v1/users/authenticate", "acme", "docs", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for wrong password, got %d", rr.Code)
	}
}

func TestHandlers_GetUserPermissions(t *testing.T) {
	router, store := setupHandlerTest(t)
	ctx := context.Background()

	user := seedUser(t, store, "acme", "docs", "alice", "password1", true)
	editor := seedRole(t, store, "acme", "docs", "EDITOR", true)
	write := seedPermission(t, store, "acme", "docs", "document", "write", true)
	store.AddUserRole(ctx, user.ID, editor.ID)
	store.AddRolePermission(ctx, editor.ID, write.ID)

	rr := doRequest(router, "GET", "/api/v1/users/"+user.ID.String()+"/permissions", "acme", "docs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var perms UserPermissions
	if err := json.NewDecoder(rr.Body).Decode(&perms); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !perms.HasPermission("document:write") {
		t.Errorf("Expected document:write, got %v", perms.Permissions)
	}
	if !perms.HasRole("EDITOR") {
		t.Errorf("Expected EDITOR, got %v", perms.Roles)
	}
}

func TestHandlers_AssignAndRemoveRole(t *testing.T) {
	router, store := setupHandlerTest(t)

	user := seedUser(t, store, "acme", "docs", "alice", "password1", true)
	editor := seedRole(t, store, "acme", "docs", "EDITOR", true)

	path := "/api/v1/users/" + user.ID.String() + "/roles/" + editor.ID.String()
	rr := doRequest(router, "POST", path, "acme", "docs", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(router, "GET", "/api/v1/users/"+user.ID.String()+"/roles", "acme", "docs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Roles) != 1 || resp.Roles[0] != "EDITOR" {
		t.Fatalf("Expected [EDITOR], got %v", resp.Roles)
	}

	rr = doRequest(router, "DELETE", path, "acme", "docs", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rr.Code)
	}
}

func TestHandlers_AssignRole_UnknownRole(t *testing.T) {
	router, store := setupHandlerTest(t)

	user := seedUser(t, store, "acme", "docs", "alice", "password1", true)

	rr := doRequest(router, "POST",
		"/api/v1/users/"+user.ID.String()+"/roles/00000000-0000-0000-0000-000000000001",
		"acme", "docs", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown role, got %d", rr.Code)
	}
}

func TestHandlers_HasPermission(t *testing.T) {
	router, store := setupHandlerTest(t)
	ctx := context.Background()

	user := seedUser(t, store, "acme", "docs", "alice", "password1", true)
	read := seedPermission(t, store, "acme", "docs", "document", "read", true)
	store.AddUserPermission(ctx, user.ID, read.ID)

	rr := doRequest(router, "GET",
		"/api/v1/users/"+user.ID.String()+"/has-permission?permission=document:read",
		"acme", "docs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp["has_permission"] {
		t.Error("Expected has_permission true")
	}
}

func TestHandlers_Availability(t *testing.T) {
	router, store := setupHandlerTest(t)
	seedUser(t, store, "acme", "docs", "alice", "password1", true)

	rr := doRequest(router, "GET", "/api/v1/users/check-username?username=alice", "acme", "docs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["available"] {
		t.Error("alice should be taken")
	}

	rr = doRequest(router, "GET", "/api/v1/users/check-username?username=carol", "acme", "docs", nil)
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp["available"] {
		t.Error("carol should be available")
	}
}

func TestHandlers_SearchUsers(t *testing.T) {
	router, store := setupHandlerTest(t)
	seedUser(t, store, "acme", "docs", "alice", "password1", true)
	seedUser(t, store, "acme", "docs", "bob", "password2", true)

	rr := doRequest(router, "GET", "/api/v1/users/search?q=ali", "acme", "docs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var users []User
	if err := json.NewDecoder(rr.Body).Decode(&users); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("Expected [alice], got %v", users)
	}

	rr = doRequest(router, "GET", "/api/v1/users/search", "acme", "docs", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without q, got %d", rr.Code)
	}
}

func TestHandlers_DeleteUser(t *testing.T) {
	router, store := setupHandlerTest(t)
	user := seedUser(t, store, "acme", "docs", "alice", "password1", true)

	rr := doRequest(router, "DELETE", "/api/v1/users/"+user.ID.String(), "acme", "docs", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rr.Code)
	}

	rr = doRequest(router, "DELETE", "/api/v1/users/"+user.ID.String(), "acme", "docs", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for second delete, got %d", rr.Code)
	}
}

func TestHandlers_InvalidUUID(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rr := doRequest(router, "GET", "/api/v1/users/not-a-uuid", "acme", "docs", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for invalid UUID, got %d", rr.Code)
	}
}

func TestHandlers_CreateRoleAndPermission(t *testing.T) {
	router, _ := setupHandlerTest(t)

	rr := doRequest(router, "POST", "/api/v1/roles", "acme", "docs", Role{Name: "EDITOR"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var role Role
	if err := json.NewDecoder(rr.Body).Decode(&role); err != nil {
		t.Fatalf("Failed to decode role: %v", err)
	}
	if role.TenantID != "acme" || role.ResourceDomain != "docs" {
		t.Errorf("Role scope not stamped from headers: %+v", role)
	}

	rr = doRequest(router, "POST", "/api/v1/permissions", "acme", "docs", Permission{
		Name: "document_write", Resource: "document", Action: "write", IsActive: true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(router, "POST", "/api/v1/permissions", "acme", "docs", Permission{Name: "incomplete"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing resource/action, got %d", rr.Code)
	}
}
