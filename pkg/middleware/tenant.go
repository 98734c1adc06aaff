package middleware

import (
	"context"
	"net/http"
)

// Tenant and domain scope headers. Every identity endpoint requires
// both; requests without them are rejected before reaching a handler.
const (
	TenantHeader = "X-Tenant-ID"
	DomainHeader = "X-Resource-Domain"
)

// ScopeContextKey is the key type for scope context values
type ScopeContextKey string

const (
	// TenantKey is the context key for the tenant id
	TenantKey ScopeContextKey = "tenant_id"
	// DomainKey is the context key for the resource domain
	DomainKey ScopeContextKey = "resource_domain"
)

const maxScopeLen = 255

// TenantContext extracts the tenant id and resource domain from the
// request headers and adds them to the context. Requests missing either
// header, or carrying values outside 1-255 characters, are rejected
// with 400 before any handler runs.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := r.Header.Get(TenantHeader)
		if tenant == "" || len(tenant) > maxScopeLen {
			http.Error(w, TenantHeader+" header is required", http.StatusBadRequest)
			return
		}

		domain := r.Header.Get(DomainHeader)
		if domain == "" || len(domain) > maxScopeLen {
			http.Error(w, DomainHeader+" header is required", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), TenantKey, tenant)
		ctx = context.WithValue(ctx, DomainKey, domain)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenant retrieves the tenant id from the request context.
func GetTenant(r *http.Request) string {
	if tenant, ok := r.Context().Value(TenantKey).(string); ok {
		return tenant
	}
	return ""
}

// GetResourceDomain retrieves the resource domain from the request context.
func GetResourceDomain(r *http.Request) string {
	if domain, ok := r.Context().Value(DomainKey).(string); ok {
		return domain
	}
	return ""
}

// Scope returns the tenant and domain pair for the request.
func Scope(r *http.Request) (tenant, domain string) {
	return GetTenant(r), GetResourceDomain(r)
}
