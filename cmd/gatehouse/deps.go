package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/apikey"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/keystore"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// dependencies are the shared stores every command needs
type dependencies struct {
	redis   *redis.Client
	db      *sql.DB
	store   keystore.Store
	cache   keystore.Cache
	catalog *auth.CatalogRegistry
}

func openDependencies(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*dependencies, error) {
	catalog := auth.DefaultCatalog()
	if cfg.Policy.CatalogFile != "" {
		loaded, err := auth.LoadCatalogFile(cfg.Policy.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
		logger.WithField("file", cfg.Policy.CatalogFile).Info("Loaded role catalog")
	}

	client, err := keystore.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	deps := &dependencies{
		redis:   client,
		catalog: auth.NewCatalogRegistry(catalog),
	}

	switch cfg.KeyStore.Backend {
	case config.BackendPostgres:
		db, err := keystore.OpenPostgres(ctx, cfg.KeyStore.Postgres)
		if err != nil {
			deps.close(ctx)
			return nil, err
		}
		deps.db = db

		pg := keystore.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			deps.close(ctx)
			return nil, err
		}
		deps.store = pg
	case config.BackendRedis:
		deps.store = keystore.NewRedisStore(client)
	default:
		deps.close(ctx)
		return nil, fmt.Errorf("unknown key store backend %q", cfg.KeyStore.Backend)
	}

	deps.cache = keystore.NewTieredCache(
		keystore.NewRedisCache(client, cfg.KeyStore.CacheTTLs()),
		cfg.KeyStore.LocalCacheSize,
		cfg.KeyStore.LocalCacheTTL,
	)

	logger.WithFields(map[string]interface{}{
		"backend":          cfg.KeyStore.Backend,
		"local_cache_size": cfg.KeyStore.LocalCacheSize,
	}).Info("Key store ready")

	return deps, nil
}

func (d *dependencies) keyConfig(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, auditor audit.Logger) apikey.Config {
	return apikey.Config{
		Store:        d.store,
		Cache:        d.cache,
		Catalog:      d.catalog,
		KeyPrefix:    cfg.KeyStore.KeyPrefix,
		StoreTimeout: cfg.KeyStore.StoreTimeout,
		Logger:       logger,
		Metrics:      metrics,
		Audit:        auditor,
	}
}

func (d *dependencies) close(context.Context) error {
	var errs []error
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
