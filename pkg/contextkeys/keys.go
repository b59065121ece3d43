// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithAuth(ctx, &auth.AuthContext{Roles: roles, Owner: owner})
//	value, present := contextkeys.Auth(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains the upstream identity, normally *auth.AuthContext.
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: authorization guards (pkg/middleware/authorize.go)
	// Type: any. A value of another type is a malformed context, not an absent one.
	AuthKey Key = "auth_context"

	// APIKeyKey contains *auth.ResolvedAPIKey
	// Set by: middleware.APIKeyMiddleware after successful credential resolution
	// Used by: handlers that need the key's granted permissions
	// Type: *auth.ResolvedAPIKey
	APIKeyKey Key = "api_key"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestIDMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithAuth adds the upstream identity to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// Auth returns the raw identity value and whether one was set
func Auth(ctx context.Context) (interface{}, bool) {
	v := ctx.Value(AuthKey)
	return v, v != nil
}

// WithAPIKey adds the resolved API key to the context
func WithAPIKey(ctx context.Context, key interface{}) context.Context {
	return context.WithValue(ctx, APIKeyKey, key)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
