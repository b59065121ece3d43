package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// APIKeyHeader carries the raw API key
const APIKeyHeader = "x-api-key"

// KeyResolver resolves a presented raw key to its grant
type KeyResolver interface {
	Resolve(ctx context.Context, rawKey string) (*auth.ResolvedAPIKey, error)
}

// APIKeyMiddleware validates the presented API key and attaches the
// resolved grant to the request context.
type APIKeyMiddleware struct {
	resolver KeyResolver
	audit    audit.Logger
	logger   *observability.Logger
}

// NewAPIKeyMiddleware creates the credential validation stage
func NewAPIKeyMiddleware(resolver KeyResolver, auditor audit.Logger, logger *observability.Logger) *APIKeyMiddleware {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &APIKeyMiddleware{
		resolver: resolver,
		audit:    auditor,
		logger:   logger,
	}
}

// Handler wraps next with API key validation
func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get(APIKeyHeader)

		key, err := m.resolver.Resolve(r.Context(), rawKey)
		if err != nil {
			m.recordFailure(r, rawKey, err)
			httputil.WriteError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithResolvedAPIKey(r.Context(), key)))
	})
}

func (m *APIKeyMiddleware) recordFailure(r *http.Request, rawKey string, err error) {
	event := audit.NewEvent(r.Context(), r, audit.EventTypeAPIKeyValidate, audit.DecisionFailure)
	event.Message = err.Error()
	if rawKey != "" {
		event.KeyHash = auth.HashAPIKey(rawKey)
	}

	var authnErr *auth.AuthenticationError
	if errors.As(err, &authnErr) {
		event.Reason = string(authnErr.Code)
	} else {
		event.Reason = string(auth.CodeStoreUnavailable)
	}

	if auditErr := m.audit.Log(r.Context(), event); auditErr != nil {
		observability.FromContext(r.Context(), m.logger).WithError(auditErr).Warn("Failed to write audit event")
	}
}
