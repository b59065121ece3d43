package auth

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
)

// ContextState classifies the identity found on a request.
type ContextState int

const (
	ContextAbsent ContextState = iota
	ContextInvalid
	ContextValid
)

func (s ContextState) String() string {
	switch s {
	case ContextAbsent:
		return "absent"
	case ContextInvalid:
		return "invalid"
	case ContextValid:
		return "valid"
	default:
		return "unknown"
	}
}

// WithAuthContext attaches an identity to ctx.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return contextkeys.WithAuth(ctx, ac)
}

// AuthContextFromContext returns the identity attached to ctx and its state.
// The returned pointer is non-nil only when the state is ContextValid.
func AuthContextFromContext(ctx context.Context) (*AuthContext, ContextState) {
	v, ok := contextkeys.Auth(ctx)
	if !ok {
		return nil, ContextAbsent
	}
	return ClassifyAuthContext(v)
}

// ClassifyAuthContext inspects an arbitrary identity value. Anything other
// than a structurally sound *AuthContext (or AuthContext) is invalid.
func ClassifyAuthContext(v interface{}) (*AuthContext, ContextState) {
	switch ac := v.(type) {
	case nil:
		return nil, ContextAbsent
	case *AuthContext:
		if ac == nil {
			return nil, ContextAbsent
		}
		if !ac.Valid() {
			return nil, ContextInvalid
		}
		return ac, ContextValid
	case AuthContext:
		if !ac.Valid() {
			return nil, ContextInvalid
		}
		return &ac, ContextValid
	default:
		return nil, ContextInvalid
	}
}

// WithResolvedAPIKey attaches a resolved key to ctx.
func WithResolvedAPIKey(ctx context.Context, key *ResolvedAPIKey) context.Context {
	return contextkeys.WithAPIKey(ctx, key)
}

// ResolvedAPIKeyFromContext returns the key attached by credential
// validation, or nil.
func ResolvedAPIKeyFromContext(ctx context.Context) *ResolvedAPIKey {
	key, _ := ctx.Value(contextkeys.APIKeyKey).(*ResolvedAPIKey)
	return key
}
