// Package keystore persists API key grants and caches their validation
// results.
//
// # Permanent store
//
// A Store holds one auth.APIKeyRecord per key hash with no expiry. Two
// backends are provided:
//
//	store := keystore.NewRedisStore(client)        // apikey:store:<hash>
//	store := keystore.NewPostgresStore(db)         // api_keys table
//
// Records are created once and afterwards only their active flag changes.
//
// # Validation cache
//
// A Cache keeps short-lived projections of the store:
//
//	apikey:cache:valid:<hash>   -> {"permissions": [...]}   (TTL 900s)
//	apikey:cache:invalid:<hash> -> "1"                      (TTL 60s)
//
// Writing one side always deletes the other in the same MULTI block, so
// both entries never exist for the same hash. NewTieredCache puts an
// optional in-process LRU in front of the positive entries.
package keystore
