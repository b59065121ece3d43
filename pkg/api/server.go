package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/apikey"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/policy"
)

// KeyService issues keys and manages their activation state
type KeyService interface {
	Issue(ctx context.Context, permissions []string) (*apikey.IssuedKey, error)
	Get(ctx context.Context, hash string) (*auth.APIKeyRecord, error)
	Deactivate(ctx context.Context, hash string) (*auth.APIKeyRecord, error)
	Activate(ctx context.Context, hash string) (*auth.APIKeyRecord, error)
}

// Options wires a Server. Keys, Resolver, Catalog and Table are required.
type Options struct {
	Keys        KeyService
	Resolver    middleware.KeyResolver
	Catalog     auth.CatalogProvider
	Table       *policy.Table
	RateLimiter *middleware.RateLimiter

	// TrustIdentityHeaders accepts X-Auth-Roles / X-Auth-Owner from the
	// caller. Off, they are stripped and role guards see no identity.
	TrustIdentityHeaders bool

	Audit    audit.Logger
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker

	// Handlers adds or replaces route handlers by name
	Handlers map[string]http.Handler
}

// Server is the gateway HTTP handler
type Server struct {
	router   *mux.Router
	handler  http.Handler
	keys     KeyService
	catalog  auth.CatalogProvider
	logger   *observability.Logger
	handlers map[string]http.Handler
}

// NewServer builds the router and every route's guard chain. Any wiring
// mistake in the route table is returned here.
func NewServer(opts Options) (*Server, error) {
	if opts.Keys == nil {
		return nil, auth.NewConfigurationError("api server requires a key service")
	}
	if opts.Resolver == nil {
		return nil, auth.NewConfigurationError("api server requires a key resolver")
	}
	if opts.Catalog == nil {
		return nil, auth.NewConfigurationError("api server requires a catalog")
	}
	if opts.Table == nil {
		return nil, auth.NewConfigurationError("api server requires a route table")
	}
	if opts.Audit == nil {
		opts.Audit = audit.NopLogger{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	if opts.Health == nil {
		opts.Health = observability.NewHealthChecker(nil, nil, "")
	}

	s := &Server{
		router:  mux.NewRouter(),
		keys:    opts.Keys,
		catalog: opts.Catalog,
		logger:  opts.Logger,
	}
	s.handlers = s.builtinHandlers()
	for name, h := range opts.Handlers {
		s.handlers[name] = h
	}

	s.router.HandleFunc("/health/live", opts.Health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", opts.Health.Readiness).Methods(http.MethodGet)
	if opts.Registry != nil {
		s.router.Handle("/metrics", observability.Handler(opts.Registry)).Methods(http.MethodGet)
	}

	if err := s.setupRoutes(opts); err != nil {
		return nil, err
	}

	s.handler = otelhttp.NewHandler(
		httputil.Chain(
			httputil.RequestIDMiddleware(opts.Logger),
			httputil.ObserveResponses(s.routeName,
				httputil.AccessLog(opts.Logger),
				httputil.RequestMetrics(opts.Metrics),
			),
			httputil.RecoveryMiddleware(opts.Logger),
		)(s.router),
		"gatehouse",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + s.routeName(r)
		}),
	)

	return s, nil
}

// setupRoutes mounts the route table. Every table route runs the rate
// limiter, then identity propagation, then its own guard chain.
func (s *Server) setupRoutes(opts Options) error {
	stages := policy.Stages{
		Authorizer: middleware.NewAuthorizer(opts.Catalog, opts.Audit, opts.Logger),
		APIKeys:    middleware.NewAPIKeyMiddleware(opts.Resolver, opts.Audit, opts.Logger),
	}

	var common []func(http.Handler) http.Handler
	if opts.RateLimiter != nil {
		common = append(common, opts.RateLimiter.Handler)
	}
	common = append(common, middleware.IdentityMiddleware(opts.TrustIdentityHeaders))

	for _, route := range opts.Table.Routes {
		handler, ok := s.handlers[route.Handler]
		if !ok {
			return auth.NewConfigurationError(fmt.Sprintf("route %s: unknown handler %q", route.Name, route.Handler))
		}

		guards, err := route.Chain(stages)
		if err != nil {
			return fmt.Errorf("route %s: %w", route.Name, err)
		}

		chain := httputil.Chain(append(common, guards)...)
		s.router.Handle(route.Path, chain(handler)).
			Methods(route.Method).
			Name(route.Name)
	}

	s.logger.WithField("routes", len(opts.Table.Routes)).Debug("Route table mounted")
	return nil
}

// routeName returns the matched path template, keeping metric label
// cardinality bounded.
func (s *Server) routeName(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
