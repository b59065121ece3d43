package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/apikey"
	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/policy"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const usage = `Usage: gatehouse [command] [flags]

Commands:
  serve       run the gateway (default)
  issue-key   issue an API key and print it once
  version     print the version

Configuration is read from GATEHOUSE_* environment variables.
`

func main() {
	command, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "serve":
		err = runServe(args)
	case "issue-key":
		err = runIssueKey(args)
	case "version":
		fmt.Println(version)
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	deps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if cfg.Policy.CatalogWatch {
		watcher, err := auth.NewCatalogWatcher(cfg.Policy.CatalogFile, deps.catalog, func(c *auth.Catalog, err error) {
			metrics.RecordCatalogReload(err)
			if err != nil {
				logger.WithError(err).Error("Catalog reload rejected, keeping previous catalog")
				return
			}
			logger.WithField("roles", len(c.Roles())).Info("Catalog reloaded")
		})
		if err != nil {
			deps.close(context.Background())
			return err
		}
		async.Go(ctx, logger, "catalog-watcher", watcher.Run)
	}

	table, err := loadRoutes(cfg.Policy, deps.catalog.Current())
	if err != nil {
		deps.close(context.Background())
		return err
	}

	auditor, err := openAudit(cfg.Audit, logger, metrics)
	if err != nil {
		deps.close(context.Background())
		return err
	}

	limiter, err := middleware.NewRateLimiter(middleware.NewRedisCounter(deps.redis), cfg.RateLimit, logger, metrics, auditor)
	if err != nil {
		deps.close(context.Background())
		return err
	}
	limiter.StartCleanup(ctx)

	keyCfg := deps.keyConfig(cfg, logger, metrics, auditor)
	server, err := api.NewServer(api.Options{
		Keys:        apikey.NewManager(keyCfg),
		Resolver:    apikey.NewValidator(keyCfg),
		Catalog:     deps.catalog,
		Table:       table,
		RateLimiter: limiter,
		Audit:       auditor,
		Logger:      logger,
		Metrics:     metrics,
		Registry:    registry,
		Health:      observability.NewHealthChecker(deps.db, deps.redis, version),

		TrustIdentityHeaders: cfg.Server.TrustIdentityHeaders,
	})
	if err != nil {
		deps.close(context.Background())
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("opentelemetry", providers.Shutdown)
	shutdown.Register("audit", func(context.Context) error { return auditor.Close() })
	shutdown.Register("stores", func(ctx context.Context) error { return deps.close(ctx) })

	async.Go(ctx, logger, "http-server", func(context.Context) error {
		logger.WithFields(map[string]interface{}{
			"addr":      httpServer.Addr,
			"version":   version,
			"backend":   cfg.KeyStore.Backend,
			"policy":    string(cfg.RateLimit.FailurePolicy),
			"routes":    len(table.Routes),
			"metrics":   cfg.Observability.MetricsEnabled,
			"otel":      cfg.Observability.OTelEnabled,
			"audit_dir": cfg.Audit.Dir,
			"identity":  cfg.Server.TrustIdentityHeaders,
		}).Info("Starting gatehouse")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	return shutdown.Wait(ctx)
}

func runIssueKey(args []string) error {
	fs := flag.NewFlagSet("issue-key", flag.ExitOnError)
	permissions := fs.String("permissions", "", "Comma-separated permissions to grant, e.g. users:manage")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var requested []string
	for _, p := range strings.Split(*permissions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			requested = append(requested, p)
		}
	}
	if len(requested) == 0 {
		return errors.New("-permissions is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	ctx := context.Background()
	deps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(ctx)

	auditor := audit.NewLogLogger(logger, nil)
	issued, err := apikey.NewManager(deps.keyConfig(cfg, logger, nil, auditor)).Issue(ctx, requested)
	if err != nil {
		return err
	}

	fmt.Println(issued.APIKey)
	logger.WithFields(map[string]interface{}{
		"key_hash":    auth.HashAPIKey(issued.APIKey),
		"permissions": issued.Permissions,
	}).Info("API key issued; it will not be shown again")
	return nil
}

func loadRoutes(cfg config.PolicyConfig, catalog *auth.Catalog) (*policy.Table, error) {
	if cfg.RoutesFile == "" {
		return policy.Default(catalog)
	}
	return policy.Load(cfg.RoutesFile, catalog)
}

func openAudit(cfg config.AuditConfig, logger *observability.Logger, metrics *observability.Metrics) (audit.Logger, error) {
	logSink := audit.NewLogLogger(logger, metrics)
	if cfg.Dir == "" {
		return logSink, nil
	}

	fileSink, err := audit.NewFileLogger(audit.FileLoggerConfig{
		BasePath: cfg.Dir,
		MaxSize:  cfg.MaxSize,
		MaxFiles: cfg.MaxFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return audit.NewMultiLogger(logSink, fileSink), nil
}
