// Package middleware provides the HTTP stages of the gateway pipeline:
// rate limiting, API key validation, identity propagation and
// authorization guards.
//
// # Pipeline
//
// Within one request the stages run strictly in order, each depending on
// the previous stage's side effects:
//
//	rate limit -> API key validation -> identity -> guards -> handler
//
// # Rate Limiting
//
//	limiter, err := middleware.NewRateLimiter(middleware.NewRedisCounter(client),
//		middleware.DefaultRateLimitConfig(), logger, metrics, auditor)
//	router.Use(limiter.Handler)
//
// Requests presenting x-api-key are counted under the key's hash (100 per
// 15 minutes); the rest under the client address (10 per 15 minutes), with
// IPv6 clients aggregated to their /64. Counter store outages follow the
// configured FailurePolicy: closed (503), open (pass) or local (in-process
// x/time/rate limiter with the same quota).
//
// # API Key Validation
//
//	keys := middleware.NewAPIKeyMiddleware(validator, auditor, logger)
//	router.Handle("/api/payments", keys.Handler(handler))
//
// # Authorization Guards
//
//	authz := middleware.NewAuthorizer(catalogRegistry, auditor, logger)
//	requireAdmin, err := authz.RequireRoles([]auth.Role{auth.RoleAdmin})
//	requirePay, err := authz.RequirePermissions([]auth.Permission{auth.PermissionPaymentsCreate})
//	requireOwner, err := authz.RequireOwner(middleware.PathOwner("owner"))
//
// Guards are built at wiring time; a nil requirement or an unknown role or
// permission is a *auth.ConfigurationError. Every decision writes one audit
// event. Denials answer 403 with codes AUTH_001 through AUTH_005.
//
// # Related Packages
//
//   - pkg/apikey: credential resolution
//   - pkg/policy: route table that builds guards
//   - pkg/audit: decision trail
package middleware
