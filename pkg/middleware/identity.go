package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Headers set by the trusted upstream authenticator
const (
	RolesHeader = "X-Auth-Roles"
	OwnerHeader = "X-Auth-Owner"
)

// IdentityMiddleware attaches the upstream identity to the request context.
// With neither header present the context stays absent. A present but
// incomplete pair is attached as-is so guards classify it as invalid.
//
// When trustHeaders is false the identity headers are stripped and the
// context stays absent. Enable it only behind a proxy that sets them.
func IdentityMiddleware(trustHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !trustHeaders {
				r.Header.Del(RolesHeader)
				r.Header.Del(OwnerHeader)
				next.ServeHTTP(w, r)
				return
			}
			if ac, ok := IdentityFromHeaders(r.Header); ok {
				r = r.WithContext(auth.WithAuthContext(r.Context(), ac))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromHeaders parses the identity headers. ok is false when neither
// header is present.
func IdentityFromHeaders(h http.Header) (ac *auth.AuthContext, ok bool) {
	rawRoles, hasRoles := h[http.CanonicalHeaderKey(RolesHeader)]
	_, hasOwner := h[http.CanonicalHeaderKey(OwnerHeader)]
	if !hasRoles && !hasOwner {
		return nil, false
	}

	ac = &auth.AuthContext{Owner: strings.TrimSpace(h.Get(OwnerHeader))}
	if hasRoles {
		ac.Roles = make([]string, 0)
		for _, value := range rawRoles {
			for _, role := range strings.Split(value, ",") {
				if role = strings.TrimSpace(role); role != "" {
					ac.Roles = append(ac.Roles, role)
				}
			}
		}
	}
	return ac, true
}
