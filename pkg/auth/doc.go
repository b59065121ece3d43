// Package auth provides the domain model shared by every gatehouse access-control stage.
//
// # Overview
//
// This package holds the permission catalog, API-key fingerprinting, the
// request identity types and the error taxonomy. It has no I/O of its own
// apart from reading and watching a catalog file.
//
// # Permission Catalog
//
// Permissions are resource:action tokens. Roles are case-insensitive names
// mapped to permission sets. SUPERUSER always holds the whole catalog.
//
//	catalog := auth.DefaultCatalog()
//	perms := catalog.PermissionsForRoles([]string{"payments", "REPORTS"})
//	perms.Has(auth.PermissionPaymentsCreate) // true
//
// A Catalog is immutable. Runtime changes build a new snapshot and install it
// with CatalogRegistry.Swap; readers call Current() and never lock:
//
//	registry := auth.NewCatalogRegistry(auth.DefaultCatalog())
//	watcher, _ := auth.NewCatalogWatcher("/etc/gatehouse/catalog.yaml", registry, nil)
//	go watcher.Run(ctx)
//
// # API Keys
//
// Keys look like sk_live_<64 hex chars> (32 random bytes). Only the SHA-256
// hex digest is ever stored or compared:
//
//	gen := auth.NewKeyGenerator(auth.DefaultKeyPrefix)
//	rawKey, hash, err := gen.Generate()
//	// rawKey: return to the caller once
//	// hash:   storage key
//
// # Request Identity
//
// AuthContext (roles + owner) is produced by the upstream authenticator.
// ResolvedAPIKey (hash + granted permissions) is produced by credential
// validation. Both travel in the request context, see pkg/contextkeys.
//
// # Errors
//
// Every denial maps to an ErrorResponse {error, message, code, timestamp}:
//
//	AUTH_001  missing auth context        403
//	AUTH_002  invalid auth context        403
//	AUTH_003  insufficient role           403
//	AUTH_004  insufficient permission     403
//	AUTH_005  owner mismatch              403
//	AUTHN_001 API key missing             401
//	AUTHN_002 invalid API key             401
//	AUTHN_003 API key disabled            401
//	KEY_001   malformed issuance request  400
//	KEY_002   API key not found           404
//	RATE_001  rate limit exceeded         429
//	STORE_001 store unavailable           500/503
//
// # Related Packages
//
//   - pkg/apikey: key issuance and resolution
//   - pkg/middleware: HTTP guards and rate limiting
//   - pkg/policy: route requirement tables
package auth
