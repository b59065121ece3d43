// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing for the gateway.
//
// # Structured Logging
//
// Loggers are logrus-backed and emit one JSON object per line:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("route", "/api/payments").Info("request allowed")
//
// Request-scoped loggers travel on the context and pick up the request ID:
//
//	log := observability.FromContext(r.Context(), logger)
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordAuthzDecision("permissions", false, "AUTH_004")
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	router.HandleFunc("/health/live", checker.Liveness)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "gatehouse",
//	}, logger)
//	defer providers.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/httputil: access logging and request IDs
package observability
