// Package middleware provides HTTP middleware for tenant scoping and
// request instrumentation.
//
// TenantContext extracts the tenant and resource domain headers that
// scope every identity operation:
//
//	router.Use(middleware.TenantContext)
//	// Handlers read the scope via middleware.Scope(r)
//
// RequestID assigns each request a UUID, attaches a request-scoped
// logger to the context, and recovers panics:
//
//	router.Use(middleware.RequestID(logger))
package middleware
