// Package api assembles the gatehouse HTTP server.
//
// # Overview
//
// NewServer mounts every route of a policy.Table on a gorilla/mux router.
// Each table route runs its own chain:
//
//	RateLimiter -> IdentityMiddleware -> APIKey -> KeyPermissions -> Roles -> Permissions -> Owner -> handler
//
// Stages a route does not declare are skipped. The whole router is
// wrapped by the outer pipeline:
//
//	otelhttp -> RequestID -> ObserveResponses(AccessLog, RequestMetrics) -> Recovery -> router
//
// /health/live, /health/ready and /metrics are mounted outside the route
// table and are never guarded or rate limited.
//
// # Key Management
//
//	POST   /api/keys                 issue a key, body {"permissions": [...]}
//	GET    /api/keys/{hash}          key metadata
//	DELETE /api/keys/{hash}          deactivate
//	POST   /api/keys/{hash}/activate reactivate
//
// These routes take an x-api-key holding users:manage; the first such key
// comes from `gatehouse issue-key`. The raw key is returned once, by the
// issue call. Every other route addresses keys by their SHA-256 fingerprint.
//
// # Identity Headers
//
// X-Auth-Roles and X-Auth-Owner are honoured only when
// Options.TrustIdentityHeaders is set. Otherwise they are stripped and
// role, permission and owner guards see no identity.
//
// # Handlers
//
// Route table entries name their handler. Built-in names are the key
// management handlers, "identity" (echoes the caller's roles and derived
// permissions) and "echo" (echoes the matched route and path variables).
// Options.Handlers adds or replaces handlers by name.
package api
