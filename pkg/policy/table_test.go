package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
)

func findRoute(t *testing.T, table *Table, name string) Route {
	t.Helper()
	for _, r := range table.Routes {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("route %s not found", name)
	return Route{}
}

func requireConfigError(t *testing.T, err error, contains string) {
	t.Helper()
	var cfgErr *auth.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
	assert.Contains(t, err.Error(), contains)
}

func TestDefault(t *testing.T) {
	table, err := Default(auth.DefaultCatalog())
	require.NoError(t, err)

	issue := findRoute(t, table, "keys.issue")
	assert.Equal(t, http.MethodPost, issue.Method)
	assert.Equal(t, "/api/keys", issue.Path)
	assert.True(t, issue.APIKey)
	assert.Equal(t, []auth.Permission{auth.PermissionUsersManage}, issue.KeyPermissions)
	assert.Nil(t, issue.Permissions)
	assert.Nil(t, issue.Roles)

	for _, name := range []string{"keys.get", "keys.deactivate", "keys.activate"} {
		route := findRoute(t, table, name)
		assert.True(t, route.APIKey, name)
		assert.Equal(t, []auth.Permission{auth.PermissionUsersManage}, route.KeyPermissions, name)
	}

	me := findRoute(t, table, "auth.me")
	assert.Equal(t, []auth.Role{"ADMIN", "SUPERUSER", "PAYMENTS", "REPORTS", "USER_MANAGEMENT"}, me.Roles)

	reports := findRoute(t, table, "reports.team")
	assert.Equal(t, "owner", reports.OwnerParam)

	payments := findRoute(t, table, "payments.create")
	assert.True(t, payments.APIKey)
	assert.Equal(t, []auth.Permission{auth.PermissionPaymentsCreate}, payments.KeyPermissions)

	assert.Contains(t, table.Handlers(), "keys.issue")
	assert.Contains(t, table.Handlers(), "echo")
}

func TestParse_Errors(t *testing.T) {
	catalog := auth.DefaultCatalog()

	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{
			name:     "scalar roles",
			yaml:     "routes:\n  - {method: GET, path: /x, handler: echo, roles: PAYMENTS}\n",
			contains: "roles must be a sequence of strings ([]string), got scalar",
		},
		{
			name:     "mapping permissions",
			yaml:     "routes:\n  - method: GET\n    path: /x\n    handler: echo\n    permissions: {payments: read}\n",
			contains: "permissions must be a sequence of strings ([]string), got mapping",
		},
		{
			name:     "unknown role",
			yaml:     "routes:\n  - {method: GET, path: /x, handler: echo, roles: [JANITOR]}\n",
			contains: `unknown role "JANITOR"`,
		},
		{
			name:     "unknown group",
			yaml:     "routes:\n  - {method: GET, path: /x, handler: echo, roles: [\"@NOBODY\"]}\n",
			contains: `unknown role group "NOBODY"`,
		},
		{
			name:     "unknown permission",
			yaml:     "routes:\n  - {method: GET, path: /x, handler: echo, permissions: [payments:teleport]}\n",
			contains: `unknown permission "payments:teleport"`,
		},
		{
			name:     "owner param not in path",
			yaml:     "routes:\n  - {method: GET, path: /x, handler: echo, roles: [], owner_param: owner}\n",
			contains: "owner_param",
		},
		{
			name:     "key permissions without api key",
			yaml:     "routes:\n  - {method: GET, path: /x, handler: echo, key_permissions: [payments:read]}\n",
			contains: "requires api_key",
		},
		{
			name:     "bad method",
			yaml:     "routes:\n  - {method: TRACE, path: /x, handler: echo}\n",
			contains: "unsupported method",
		},
		{
			name:     "missing handler",
			yaml:     "routes:\n  - {method: GET, path: /x}\n",
			contains: "handler is required",
		},
		{
			name:     "duplicate endpoint",
			yaml:     "routes:\n  - {name: a, method: GET, path: /x, handler: echo}\n  - {name: b, method: get, path: /x, handler: echo}\n",
			contains: "duplicate route GET /x",
		},
		{
			name:     "unknown field",
			yaml:     "routes:\n  - {method: GET, path: /x, handler: echo, permission: [payments:read]}\n",
			contains: "invalid route table YAML",
		},
		{
			name:     "empty table",
			yaml:     "",
			contains: "no routes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), catalog)
			requireConfigError(t, err, tt.contains)
		})
	}
}

func TestParse_PresenceSemantics(t *testing.T) {
	table, err := Parse([]byte(`
routes:
  - {name: open, method: GET, path: /open, handler: echo}
  - {name: any-identity, method: GET, path: /any, handler: echo, roles: []}
  - {name: nulls, method: GET, path: /nulls, handler: echo, roles: null}
  - {name: mixed-case, method: GET, path: /mixed, handler: echo, roles: [admin, Admin, reports]}
`), auth.DefaultCatalog())
	require.NoError(t, err)

	assert.Nil(t, findRoute(t, table, "open").Roles)
	assert.NotNil(t, findRoute(t, table, "any-identity").Roles)
	assert.Empty(t, findRoute(t, table, "any-identity").Roles)
	assert.Nil(t, findRoute(t, table, "nulls").Roles)
	assert.Equal(t, []auth.Role{"ADMIN", "REPORTS"}, findRoute(t, table, "mixed-case").Roles)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - {method: GET, path: /x, handler: echo, roles: [ADMIN]}\n"), 0o600))

	table, err := Load(path, auth.DefaultCatalog())
	require.NoError(t, err)
	require.Len(t, table.Routes, 1)
	assert.Equal(t, "GET /x", table.Routes[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), auth.DefaultCatalog())
	assert.Error(t, err)
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, rawKey string) (*auth.ResolvedAPIKey, error) {
	if rawKey != "sk_live_ok" {
		return nil, auth.ErrAPIKeyInvalid
	}
	return &auth.ResolvedAPIKey{Hash: "h", Permissions: []auth.Permission{auth.PermissionPaymentsRead}}, nil
}

func TestRoute_Chain(t *testing.T) {
	catalog := auth.DefaultCatalog()
	table, err := Default(catalog)
	require.NoError(t, err)

	stages := Stages{
		Authorizer: middleware.NewAuthorizer(catalog, nil, nil),
		APIKeys:    middleware.NewAPIKeyMiddleware(stubResolver{}, nil, nil),
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router := mux.NewRouter()
	for _, route := range table.Routes {
		chain, err := route.Chain(stages)
		require.NoError(t, err, route.Name)
		router.Handle(route.Path, middleware.IdentityMiddleware(true)(chain(ok))).Methods(route.Method)
	}

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		status  int
		code    string
	}{
		{"reports owner match", "GET", "/api/teams/team-a/reports", map[string]string{"X-Auth-Roles": "REPORTS", "X-Auth-Owner": "team-a"}, 200, ""},
		{"reports owner mismatch", "GET", "/api/teams/team-b/reports", map[string]string{"X-Auth-Roles": "REPORTS", "X-Auth-Owner": "team-a"}, 403, "AUTH_005"},
		{"reports wrong role", "GET", "/api/teams/team-a/reports", map[string]string{"X-Auth-Roles": "PAYMENTS", "X-Auth-Owner": "team-a"}, 403, "AUTH_003"},
		{"storage no context", "POST", "/api/storage/buckets/b1/files", nil, 403, "AUTH_001"},
		{"storage insufficient", "DELETE", "/api/storage/buckets/b1/files/f1", map[string]string{"X-Auth-Roles": "PAYMENTS", "X-Auth-Owner": "svc"}, 403, "AUTH_004"},
		{"payments key granted", "GET", "/api/payments", map[string]string{"x-api-key": "sk_live_ok"}, 200, ""},
		{"payments key lacks permission", "POST", "/api/payments", map[string]string{"x-api-key": "sk_live_ok"}, 403, "AUTH_004"},
		{"payments bad key", "GET", "/api/payments", map[string]string{"x-api-key": "sk_live_nope"}, 401, "AUTHN_002"},
		{"payments no key", "GET", "/api/payments", nil, 401, "AUTHN_001"},
		{"keys issue without users:manage", "POST", "/api/keys", map[string]string{"x-api-key": "sk_live_ok"}, 403, "AUTH_004"},
		{"keys issue with header identity", "POST", "/api/keys", map[string]string{"X-Auth-Roles": "SUPERUSER", "X-Auth-Owner": "svc"}, 401, "AUTHN_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				assert.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
			}
		})
	}
}

func TestRoute_ChainMissingStages(t *testing.T) {
	_, err := Route{Name: "x", APIKey: true}.Chain(Stages{})
	requireConfigError(t, err, "API key validation")

	_, err = Route{Name: "y", Roles: []auth.Role{}}.Chain(Stages{})
	requireConfigError(t, err, "authorizer")

	chain, err := Route{Name: "open"}.Chain(Stages{})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
