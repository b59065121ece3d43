package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Guard is an HTTP middleware produced by an Authorizer
type Guard func(http.Handler) http.Handler

// OwnerResolver extracts the owner of the resource a request targets
type OwnerResolver func(r *http.Request) string

// PathOwner resolves the resource owner from a gorilla/mux path variable
func PathOwner(param string) OwnerResolver {
	return func(r *http.Request) string {
		return mux.Vars(r)[param]
	}
}

// Authorizer builds role, permission and owner guards against the active
// catalog snapshot.
type Authorizer struct {
	catalog auth.CatalogProvider
	audit   audit.Logger
	logger  *observability.Logger
}

// NewAuthorizer creates an Authorizer. auditor and logger may be nil.
func NewAuthorizer(catalog auth.CatalogProvider, auditor audit.Logger, logger *observability.Logger) *Authorizer {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Authorizer{
		catalog: catalog,
		audit:   auditor,
		logger:  logger,
	}
}

// RequireRoles allows requests whose identity holds any of required
// (case-insensitive). An empty, non-nil slice only requires a valid identity.
func (a *Authorizer) RequireRoles(required []auth.Role) (Guard, error) {
	if required == nil {
		return nil, auth.NewConfigurationError("RequireRoles expects a []auth.Role of required roles, got nil")
	}

	catalog := a.catalog.Current()
	normalized := make([]auth.Role, 0, len(required))
	for _, role := range required {
		name := role.Normalize()
		if !catalog.HasRole(name) {
			return nil, auth.NewConfigurationError(fmt.Sprintf("RequireRoles: unknown role %q", role))
		}
		normalized = append(normalized, name)
	}

	return a.guard(audit.EventTypeAuthzRoleCheck, roleStrings(normalized), func(r *http.Request, ac *auth.AuthContext, state auth.ContextState, event *audit.Event) error {
		return CheckRoles(ac, state, normalized)
	}), nil
}

// RequirePermissions allows requests whose roles grant any of required
func (a *Authorizer) RequirePermissions(required []auth.Permission) (Guard, error) {
	if required == nil {
		return nil, auth.NewConfigurationError("RequirePermissions expects a []auth.Permission of required permissions, got nil")
	}
	if err := a.checkKnown("RequirePermissions", required); err != nil {
		return nil, err
	}
	perms := append([]auth.Permission(nil), required...)

	return a.guard(audit.EventTypeAuthzPermissionCheck, permissionStrings(perms), func(r *http.Request, ac *auth.AuthContext, state auth.ContextState, event *audit.Event) error {
		catalog := a.catalog.Current()
		if ac != nil {
			event.Permissions = permissionStrings(catalog.PermissionsForRoles(ac.Roles).Sorted())
		}
		return CheckPermissions(catalog, ac, state, perms)
	}), nil
}

// RequireOwner allows requests whose identity owns the targeted resource
func (a *Authorizer) RequireOwner(resolve OwnerResolver) (Guard, error) {
	if resolve == nil {
		return nil, auth.NewConfigurationError("RequireOwner expects an OwnerResolver, got nil")
	}

	return a.guard(audit.EventTypeAuthzOwnerCheck, nil, func(r *http.Request, ac *auth.AuthContext, state auth.ContextState, event *audit.Event) error {
		resourceOwner := resolve(r)
		event.ResourceOwner = resourceOwner
		return CheckOwner(ac, state, resourceOwner)
	}), nil
}

// RequireKeyPermissions allows requests whose resolved API key was granted
// any of required. It must run after APIKeyMiddleware.
func (a *Authorizer) RequireKeyPermissions(required []auth.Permission) (Guard, error) {
	if required == nil {
		return nil, auth.NewConfigurationError("RequireKeyPermissions expects a []auth.Permission of required permissions, got nil")
	}
	if err := a.checkKnown("RequireKeyPermissions", required); err != nil {
		return nil, err
	}
	perms := append([]auth.Permission(nil), required...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			event := audit.NewEvent(r.Context(), r, audit.EventTypeAuthzPermissionCheck, audit.DecisionAllow)
			event.Required = permissionStrings(perms)

			key := auth.ResolvedAPIKeyFromContext(r.Context())
			var err error
			if key == nil {
				err = auth.ErrAPIKeyMissing
			} else {
				event.KeyHash = key.Hash
				event.Permissions = permissionStrings(key.Permissions)
				err = CheckKeyPermissions(key, perms)
			}

			if !a.decide(w, r, event, err) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

// MustRequireRoles is RequireRoles for static wiring; it panics on error
func (a *Authorizer) MustRequireRoles(required []auth.Role) Guard {
	g, err := a.RequireRoles(required)
	if err != nil {
		panic(err)
	}
	return g
}

// MustRequirePermissions is RequirePermissions for static wiring; it panics on error
func (a *Authorizer) MustRequirePermissions(required []auth.Permission) Guard {
	g, err := a.RequirePermissions(required)
	if err != nil {
		panic(err)
	}
	return g
}

// MustRequireOwner is RequireOwner for static wiring; it panics on error
func (a *Authorizer) MustRequireOwner(resolve OwnerResolver) Guard {
	g, err := a.RequireOwner(resolve)
	if err != nil {
		panic(err)
	}
	return g
}

type decideFunc func(r *http.Request, ac *auth.AuthContext, state auth.ContextState, event *audit.Event) error

func (a *Authorizer) guard(eventType audit.EventType, required []string, decide decideFunc) Guard {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, state := auth.AuthContextFromContext(r.Context())

			event := audit.NewEvent(r.Context(), r, eventType, audit.DecisionAllow)
			event.Required = required
			if ac != nil {
				event.Roles = ac.Roles
				event.Owner = ac.Owner
			}

			if !a.decide(w, r, event, decide(r, ac, state, event)) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// decide audits the outcome and writes the denial. It reports whether the
// request may continue.
func (a *Authorizer) decide(w http.ResponseWriter, r *http.Request, event *audit.Event, err error) bool {
	if err != nil {
		event.Decision = audit.DecisionDeny
		event.Message = err.Error()
		event.Reason = denialCode(err)
	}

	if auditErr := a.audit.Log(r.Context(), event); auditErr != nil {
		observability.FromContext(r.Context(), a.logger).WithError(auditErr).Warn("Failed to write audit event")
	}

	if err != nil {
		httputil.WriteError(w, err)
		return false
	}
	return true
}

func (a *Authorizer) checkKnown(guard string, perms []auth.Permission) error {
	catalog := a.catalog.Current()
	for _, p := range perms {
		if !catalog.IsPermission(p) {
			return auth.NewConfigurationError(fmt.Sprintf("%s: unknown permission %q", guard, p))
		}
	}
	return nil
}

// checkContext rejects absent and malformed identities
func checkContext(state auth.ContextState) error {
	switch state {
	case auth.ContextValid:
		return nil
	case auth.ContextInvalid:
		return auth.ErrInvalidAuthContext
	default:
		return auth.ErrMissingAuthContext
	}
}

// CheckRoles is the role decision: allow iff required is empty or the
// identity's roles intersect required, ignoring case.
func CheckRoles(ac *auth.AuthContext, state auth.ContextState, required []auth.Role) error {
	if err := checkContext(state); err != nil {
		return err
	}
	if len(required) == 0 {
		return nil
	}

	held := make(map[auth.Role]struct{}, len(ac.Roles))
	for _, role := range ac.NormalizedRoles() {
		held[role] = struct{}{}
	}
	for _, role := range required {
		if _, ok := held[role.Normalize()]; ok {
			return nil
		}
	}
	return auth.ErrInsufficientRole
}

// CheckPermissions is the permission decision: allow iff required is empty
// or the permissions derived from the identity's roles intersect required.
func CheckPermissions(catalog *auth.Catalog, ac *auth.AuthContext, state auth.ContextState, required []auth.Permission) error {
	if err := checkContext(state); err != nil {
		return err
	}
	if len(required) == 0 {
		return nil
	}
	if catalog.PermissionsForRoles(ac.Roles).Intersects(required) {
		return nil
	}
	return auth.ErrInsufficientPermission
}

// CheckOwner is the owner decision: exact, case-sensitive equality.
func CheckOwner(ac *auth.AuthContext, state auth.ContextState, resourceOwner string) error {
	if err := checkContext(state); err != nil {
		return err
	}
	if ac.Owner != resourceOwner {
		return auth.ErrOwnerMismatch
	}
	return nil
}

// CheckKeyPermissions allows iff required is empty or key was granted any of
// required.
func CheckKeyPermissions(key *auth.ResolvedAPIKey, required []auth.Permission) error {
	if key == nil {
		return auth.ErrAPIKeyMissing
	}
	if len(required) == 0 {
		return nil
	}
	for _, p := range required {
		if key.HasPermission(p) {
			return nil
		}
	}
	return auth.ErrInsufficientPermission
}

func denialCode(err error) string {
	var authzErr *auth.AuthorizationError
	if errors.As(err, &authzErr) {
		return string(authzErr.Code)
	}
	var authnErr *auth.AuthenticationError
	if errors.As(err, &authnErr) {
		return string(authnErr.Code)
	}
	return string(auth.CodeInternal)
}

func roleStrings(roles []auth.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func permissionStrings(perms []auth.Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
