package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scopeEcho(t *testing.T) (http.Handler, *string, *string) {
	t.Helper()
	var tenant, domain string
	handler := TenantContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, domain = Scope(r)
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &tenant, &domain
}

func TestTenantContext(t *testing.T) {
	handler, tenant, domain := scopeEcho(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TenantHeader, "acme")
	req.Header.Set(DomainHeader, "docs")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if *tenant != "acme" || *domain != "docs" {
		t.Errorf("Scope = (%q, %q), want (acme, docs)", *tenant, *domain)
	}
}

func TestTenantContext_MissingHeaders(t *testing.T) {
	tests := []struct {
		name   string
		tenant string
		domain string
	}{
		{"no headers", "", ""},
		{"missing domain", "acme", ""},
		{"missing tenant", "", "docs"},
		{"tenant too long", strings.Repeat("a", 256), "docs"},
		{"domain too long", "acme", strings.Repeat("d", 256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, _ := scopeEcho(t)

			req := httptest.NewRequest("GET", "/", nil)
			if tt.tenant != "" {
				req.Header.Set(TenantHeader, tt.tenant)
			}
			if tt.domain != "" {
				req.Header.Set(DomainHeader, tt.domain)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestTenantContext_MaxLengthAccepted(t *testing.T) {
	handler, tenant, _ := scopeEcho(t)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TenantHeader, strings.Repeat("a", 255))
	req.Header.Set(DomainHeader, "docs")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 for 255-char tenant, got %d", rr.Code)
	}
	if len(*tenant) != 255 {
		t.Errorf("Tenant length = %d, want 255", len(*tenant))
	}
}

func TestScope_Unset(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	tenant, domain := Scope(req)
	if tenant != "" || domain != "" {
		t.Errorf("Scope on bare request = (%q, %q), want empty", tenant, domain)
	}
}
