// Package observability provides structured logging, Prometheus
// metrics, panic recovery, and health checks for the gatehouse
// service.
//
// Logging is JSON-structured via log/slog:
//
//	log := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	log.WithField("tenant_id", tenant).Info("user created")
//
// Metrics are registered against a prometheus.Registry and exposed by
// the health server:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.CacheHitsTotal.WithLabelValues("permissions").Inc()
//
// Health checks probe PostgreSQL and Redis:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	mux.HandleFunc("/health/ready", checker.Readiness)
package observability
