package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/apikey"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/keystore"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/policy"
)

type testServer struct {
	server   *Server
	manager  *apikey.Manager
	mr       *miniredis.Miniredis
	registry *prometheus.Registry
	adminKey string
}

func newTestServer(t *testing.T, mutate func(*Options, *middleware.RateLimitConfig)) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	catalog := auth.DefaultCatalog()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	keyCfg := apikey.Config{
		Store:   keystore.NewRedisStore(client),
		Cache:   keystore.NewRedisCache(client, keystore.DefaultCacheTTLs()),
		Catalog: catalog,
		Metrics: metrics,
	}
	manager := apikey.NewManager(keyCfg)

	table, err := policy.Default(catalog)
	require.NoError(t, err)

	rlCfg := middleware.DefaultRateLimitConfig()
	rlCfg.IPLimit = 1000
	rlCfg.APIKeyLimit = 1000

	opts := Options{
		Keys:     manager,
		Resolver: apikey.NewValidator(keyCfg),
		Catalog:  catalog,
		Table:    table,
		Metrics:  metrics,
		Registry: registry,
		Health:   observability.NewHealthChecker(nil, client, "test"),

		TrustIdentityHeaders: true,
	}
	if mutate != nil {
		mutate(&opts, &rlCfg)
	}

	if opts.RateLimiter == nil {
		limiter, err := middleware.NewRateLimiter(middleware.NewRedisCounter(client), rlCfg, nil, metrics, nil)
		require.NoError(t, err)
		opts.RateLimiter = limiter
	}

	server, err := NewServer(opts)
	require.NoError(t, err)

	bootstrap, err := manager.Issue(context.Background(), []string{string(auth.PermissionUsersManage)})
	require.NoError(t, err)

	return &testServer{server: server, manager: manager, mr: mr, registry: registry, adminKey: bootstrap.APIKey}
}

func (ts *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

// admin carries the users:manage key the key management routes require
func (ts *testServer) admin() map[string]string {
	return map[string]string{middleware.APIKeyHeader: ts.adminKey}
}

func staff() map[string]string {
	return map[string]string{
		middleware.RolesHeader: "USER_MANAGEMENT",
		middleware.OwnerHeader: "platform-team",
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) auth.ErrorResponse {
	t.Helper()
	var resp auth.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func issueKey(t *testing.T, ts *testServer, perms ...string) apikey.IssuedKey {
	t.Helper()
	rec := ts.do(http.MethodPost, "/api/keys", map[string]interface{}{"permissions": perms}, ts.admin())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var issued apikey.IssuedKey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	return issued
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	catalog := auth.DefaultCatalog()
	table, err := policy.Default(catalog)
	require.NoError(t, err)
	manager := apikey.NewManager(apikey.Config{})
	validator := apikey.NewValidator(apikey.Config{})

	tests := []struct {
		name string
		opts Options
	}{
		{"missing keys", Options{Resolver: validator, Catalog: catalog, Table: table}},
		{"missing resolver", Options{Keys: manager, Catalog: catalog, Table: table}},
		{"missing catalog", Options{Keys: manager, Resolver: validator, Table: table}},
		{"missing table", Options{Keys: manager, Resolver: validator, Catalog: catalog}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServer(tt.opts)
			var cfgErr *auth.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestNewServer_UnknownHandler(t *testing.T) {
	catalog := auth.DefaultCatalog()
	table, err := policy.Parse([]byte(`
routes:
  - name: billing
    method: GET
    path: /api/billing
    handler: billing.summary
    permissions: [payments:read]
`), catalog)
	require.NoError(t, err)

	_, err = NewServer(Options{
		Keys:     apikey.NewManager(apikey.Config{}),
		Resolver: apikey.NewValidator(apikey.Config{}),
		Catalog:  catalog,
		Table:    table,
	})
	var cfgErr *auth.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), `unknown handler "billing.summary"`)
}

func TestServer_CustomHandler(t *testing.T) {
	ts := newTestServer(t, func(opts *Options, _ *middleware.RateLimitConfig) {
		opts.Handlers = map[string]http.Handler{
			HandlerEcho: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httputil.WriteSuccess(w, map[string]string{"served": "custom"})
			}),
		}
	})

	rec := ts.do(http.MethodGet, "/api/storage/buckets/b1/files", nil, map[string]string{
		middleware.RolesHeader: "PAYMENTS",
		middleware.OwnerHeader: "payment-service",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"served":"custom"}`, rec.Body.String())
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.do(http.MethodGet, "/api/auth/me", nil, nil)

	rec = ts.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gatehouse_http_requests_total{method="GET",route="/api/auth/me",status="403"} 1`)
}

func TestServer_ReadinessFailsWithoutRedis(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.mr.Close()

	rec := ts.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/health/live", nil, nil)
	assert.NotEmpty(t, rec.Header().Get(httputil.RequestIDHeader))

	rec = ts.do(http.MethodGet, "/health/live", nil, map[string]string{httputil.RequestIDHeader: "trace-me"})
	assert.Equal(t, "trace-me", rec.Header().Get(httputil.RequestIDHeader))
}

func TestServer_UnmatchedRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/metrics", nil, nil)
	assert.Contains(t, rec.Body.String(), `route="unmatched"`)
}

func TestServer_RouteNameUsesTemplate(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/keys/abc", nil)
	assert.Equal(t, "/api/keys/{hash}", ts.server.routeName(req))
}

func TestServer_RouterNamesTableRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, name := range []string{"keys.issue", "keys.get", "auth.me", "payments.create"} {
		assert.NotNil(t, ts.server.Router().Get(name), name)
	}
	assert.Nil(t, ts.server.Router().Get("billing.summary"))
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(_ *Options, cfg *middleware.RateLimitConfig) {
		cfg.IPLimit = 2
	})

	for i := 0; i < 2; i++ {
		rec := ts.do(http.MethodGet, "/api/auth/me", nil, staff())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("RateLimit-Limit"))
	}

	rec := ts.do(http.MethodGet, "/api/auth/me", nil, staff())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, auth.CodeRateLimited, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// health probes are never limited
	rec = ts.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimitFailClosed(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.mr.Close()

	rec := ts.do(http.MethodGet, "/api/auth/me", nil, staff())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, auth.CodeStoreUnavailable, decodeError(t, rec).Code)
}

func TestServer_PanicRecovered(t *testing.T) {
	ts := newTestServer(t, func(opts *Options, _ *middleware.RateLimitConfig) {
		opts.Handlers = map[string]http.Handler{
			HandlerIdentity: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic("boom")
			}),
		}
	})

	rec := ts.do(http.MethodGet, "/api/auth/me", nil, staff())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, auth.CodeInternal, decodeError(t, rec).Code)
	assert.False(t, strings.Contains(rec.Body.String(), "boom"))
}

func TestServer_IdentityHeadersUntrusted(t *testing.T) {
	ts := newTestServer(t, func(opts *Options, _ *middleware.RateLimitConfig) {
		opts.TrustIdentityHeaders = false
	})
	forged := map[string]string{
		middleware.RolesHeader: "SUPERUSER",
		middleware.OwnerHeader: "anyone",
	}

	rec := ts.do(http.MethodGet, "/api/auth/me", nil, forged)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, auth.CodeMissingAuthContext, decodeError(t, rec).Code)

	rec = ts.do(http.MethodPost, "/api/keys", `{"permissions": ["payments:delete"]}`, forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, auth.CodeMissingAPIKey, decodeError(t, rec).Code)

	// key routes do not depend on the identity headers
	rec = ts.do(http.MethodPost, "/api/keys", `{"permissions": ["payments:read"]}`, ts.admin())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
