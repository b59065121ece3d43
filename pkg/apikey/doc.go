// Package apikey issues API keys and resolves presented keys to their
// permission grants.
//
// Manager owns the key lifecycle (issue, deactivate, activate). Validator
// runs the per-request resolution:
//
//	no key              -> auth.ErrAPIKeyMissing
//	malformed key       -> auth.ErrAPIKeyInvalid (no store or cache access)
//	negative cache hit  -> auth.ErrAPIKeyInvalid
//	positive cache hit  -> resolved
//	store: not found    -> negative entry, auth.ErrAPIKeyInvalid
//	store: inactive     -> negative entry, auth.ErrAPIKeyDisabled
//	store: active       -> positive entry, resolved
//	store: error        -> *auth.TransientStoreError
//
// Cache failures are logged and treated as misses. Store and cache calls
// run detached from client cancellation, bounded by Config.StoreTimeout.
package apikey
