package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
)

func newTestAuthorizer() (*Authorizer, *recordingAudit) {
	rec := &recordingAudit{}
	return NewAuthorizer(auth.DefaultCatalog(), rec, nil), rec
}

func TestRequireRoles_Construction(t *testing.T) {
	authz, _ := newTestAuthorizer()

	t.Run("nil requirement", func(t *testing.T) {
		g, err := authz.RequireRoles(nil)
		assert.Nil(t, g)
		var cfgErr *auth.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Contains(t, err.Error(), "[]auth.Role")
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := authz.RequireRoles([]auth.Role{"JANITOR"})
		var cfgErr *auth.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Contains(t, err.Error(), "JANITOR")
	})

	t.Run("case-insensitive role names", func(t *testing.T) {
		_, err := authz.RequireRoles([]auth.Role{"admin", "Payments"})
		assert.NoError(t, err)
	})

	t.Run("must variant panics", func(t *testing.T) {
		assert.Panics(t, func() { authz.MustRequireRoles(nil) })
	})
}

func TestRequirePermissions_Construction(t *testing.T) {
	authz, _ := newTestAuthorizer()

	_, err := authz.RequirePermissions(nil)
	var cfgErr *auth.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "[]auth.Permission")

	_, err = authz.RequirePermissions([]auth.Permission{"payments:teleport"})
	require.True(t, errors.As(err, &cfgErr))

	assert.Panics(t, func() { authz.MustRequirePermissions(nil) })
	assert.Panics(t, func() { authz.MustRequireOwner(nil) })
}

func TestRequireRoles_AllowsMatchingRole(t *testing.T) {
	authz, events := newTestAuthorizer()
	next := &countingHandler{}
	handler := authz.MustRequireRoles([]auth.Role{auth.RoleAdmin, auth.RolePayments})(next)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/payments", nil),
		&auth.AuthContext{Roles: []string{"PAYMENTS"}, Owner: "payment-service"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, next.calls)
	assert.Empty(t, rec.Body.String())

	require.Len(t, events.Events(), 1)
	event := events.Events()[0]
	assert.Equal(t, audit.EventTypeAuthzRoleCheck, event.EventType)
	assert.Equal(t, audit.DecisionAllow, event.Decision)
	assert.Equal(t, []string{"ADMIN", "PAYMENTS"}, event.Required)
	assert.Equal(t, []string{"PAYMENTS"}, event.Roles)
	assert.Equal(t, "payment-service", event.Owner)
	assert.Equal(t, "/api/payments", event.Endpoint)
}

func TestRequireRoles_Decisions(t *testing.T) {
	tests := []struct {
		name     string
		identity interface{}
		required []auth.Role
		status   int
		code     auth.ErrorCode
	}{
		{"absent context", nil, []auth.Role{auth.RoleAdmin}, http.StatusForbidden, auth.CodeMissingAuthContext},
		{"absent context with empty requirement", nil, []auth.Role{}, http.StatusForbidden, auth.CodeMissingAuthContext},
		{"missing owner", &auth.AuthContext{Roles: []string{"ADMIN"}}, []auth.Role{auth.RoleAdmin}, http.StatusForbidden, auth.CodeInvalidAuthContext},
		{"missing roles", &auth.AuthContext{Owner: "svc"}, []auth.Role{}, http.StatusForbidden, auth.CodeInvalidAuthContext},
		{"wrong type", map[string]string{"roles": "ADMIN"}, []auth.Role{auth.RoleAdmin}, http.StatusForbidden, auth.CodeInvalidAuthContext},
		{"empty requirement", &auth.AuthContext{Roles: []string{}, Owner: "svc"}, []auth.Role{}, http.StatusOK, ""},
		{"lower-case held role", &auth.AuthContext{Roles: []string{"admin"}, Owner: "svc"}, []auth.Role{auth.RoleAdmin}, http.StatusOK, ""},
		{"no overlap", &auth.AuthContext{Roles: []string{"REPORTS"}, Owner: "svc"}, []auth.Role{auth.RoleAdmin, auth.RolePayments}, http.StatusForbidden, auth.CodeInsufficientRole},
		{"unknown held role", &auth.AuthContext{Roles: []string{"INTERN"}, Owner: "svc"}, []auth.Role{auth.RoleAdmin}, http.StatusForbidden, auth.CodeInsufficientRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authz, events := newTestAuthorizer()
			next := &countingHandler{}
			handler := authz.MustRequireRoles(tt.required)(next)

			req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
			if tt.identity != nil {
				req = withIdentity(req, tt.identity)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			require.Len(t, events.Events(), 1)
			if tt.status == http.StatusOK {
				assert.Equal(t, 1, next.calls)
				assert.Equal(t, audit.DecisionAllow, events.Events()[0].Decision)
				return
			}

			assert.Equal(t, 0, next.calls)
			payload := decodePayload(t, rec)
			assert.Equal(t, "forbidden", payload.Error)
			assert.Equal(t, tt.code, payload.Code)
			assert.Equal(t, audit.DecisionDeny, events.Events()[0].Decision)
			assert.Equal(t, string(tt.code), events.Events()[0].Reason)
		})
	}
}

func TestCheckRoles_OrderIndependent(t *testing.T) {
	ac := &auth.AuthContext{Roles: []string{"reports", "Payments"}, Owner: "svc"}

	assert.NoError(t, CheckRoles(ac, auth.ContextValid, []auth.Role{"ADMIN", "PAYMENTS"}))
	assert.NoError(t, CheckRoles(ac, auth.ContextValid, []auth.Role{"payments", "admin"}))
	assert.ErrorIs(t, CheckRoles(ac, auth.ContextValid, []auth.Role{"ADMIN"}), auth.ErrInsufficientRole)
}

func TestRequirePermissions_MissingContextPayload(t *testing.T) {
	authz, _ := newTestAuthorizer()
	next := &countingHandler{}
	handler := authz.MustRequirePermissions([]auth.Permission{auth.PermissionPaymentsCreate})(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/payments", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, next.calls)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 4)
	assert.Equal(t, "forbidden", body["error"])
	assert.Equal(t, "Authorization required", body["message"])
	assert.Equal(t, "AUTH_001", body["code"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestRequirePermissions_Decisions(t *testing.T) {
	authz, events := newTestAuthorizer()
	handler := authz.MustRequirePermissions([]auth.Permission{auth.PermissionPaymentsCreate})(&countingHandler{})

	t.Run("role grants permission", func(t *testing.T) {
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/", nil),
			&auth.AuthContext{Roles: []string{"payments"}, Owner: "svc"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("role lacks permission", func(t *testing.T) {
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/", nil),
			&auth.AuthContext{Roles: []string{"REPORTS"}, Owner: "svc"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, auth.CodeInsufficientPermission, decodePayload(t, rec).Code)

		last := events.Events()[len(events.Events())-1]
		assert.Equal(t, audit.EventTypeAuthzPermissionCheck, last.EventType)
		assert.Equal(t, []string{"payments:create"}, last.Required)
		assert.Equal(t, []string{"reports:export", "reports:view"}, last.Permissions)
	})

	t.Run("superuser", func(t *testing.T) {
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/", nil),
			&auth.AuthContext{Roles: []string{"superuser"}, Owner: "root"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequirePermissions_FollowsCatalogSwap(t *testing.T) {
	registry := auth.NewCatalogRegistry(auth.DefaultCatalog())
	authz := NewAuthorizer(registry, nil, nil)
	handler := authz.MustRequirePermissions([]auth.Permission{auth.PermissionReportsView})(&countingHandler{})

	req := func() *http.Request {
		return withIdentity(httptest.NewRequest(http.MethodGet, "/", nil),
			&auth.AuthContext{Roles: []string{"PAYMENTS"}, Owner: "svc"})
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	next, err := auth.NewCatalog(
		[]auth.Permission{auth.PermissionReportsView},
		map[auth.Role][]auth.Permission{auth.RolePayments: {auth.PermissionReportsView}},
		nil,
	)
	require.NoError(t, err)
	registry.Swap(next)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireOwner(t *testing.T) {
	authz, events := newTestAuthorizer()
	next := &countingHandler{}

	router := mux.NewRouter()
	router.Handle("/api/teams/{owner}/reports", authz.MustRequireOwner(PathOwner("owner"))(next))

	tests := []struct {
		name   string
		owner  string
		path   string
		status int
	}{
		{"exact match", "team-a", "/api/teams/team-a/reports", http.StatusOK},
		{"case differs", "Team-A", "/api/teams/team-a/reports", http.StatusForbidden},
		{"other owner", "team-b", "/api/teams/team-a/reports", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withIdentity(httptest.NewRequest(http.MethodGet, tt.path, nil),
				&auth.AuthContext{Roles: []string{}, Owner: tt.owner})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			last := events.Events()[len(events.Events())-1]
			assert.Equal(t, "team-a", last.ResourceOwner)
			assert.Equal(t, tt.owner, last.Owner)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, auth.CodeOwnerMismatch, decodePayload(t, rec).Code)
			}
		})
	}
	assert.Equal(t, 1, next.calls)

	t.Run("absent context", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/teams/team-a/reports", nil))
		assert.Equal(t, auth.CodeMissingAuthContext, decodePayload(t, rec).Code)
	})
}

func TestRequireKeyPermissions(t *testing.T) {
	authz, events := newTestAuthorizer()
	handler := func() http.Handler {
		g, err := authz.RequireKeyPermissions([]auth.Permission{auth.PermissionPaymentsRead})
		require.NoError(t, err)
		return g(&countingHandler{})
	}()

	t.Run("no resolved key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, auth.CodeMissingAPIKey, decodePayload(t, rec).Code)
	})

	t.Run("granted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithResolvedAPIKey(req.Context(), &auth.ResolvedAPIKey{
			Hash:        "abc",
			Permissions: []auth.Permission{auth.PermissionPaymentsRead},
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not granted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithResolvedAPIKey(req.Context(), &auth.ResolvedAPIKey{
			Hash:        "abc",
			Permissions: []auth.Permission{auth.PermissionPaymentsCreate},
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, auth.CodeInsufficientPermission, decodePayload(t, rec).Code)

		last := events.Events()[len(events.Events())-1]
		assert.Equal(t, "abc", last.KeyHash)
		assert.Equal(t, []string{"payments:create"}, last.Permissions)
	})

	_, err := authz.RequireKeyPermissions(nil)
	assert.Error(t, err)
}
