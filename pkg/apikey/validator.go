package apikey

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/keystore"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Validation results, used as metric labels and span attributes.
const (
	ResultMissing   = "missing"
	ResultMalformed = "malformed"
	ResultInvalid   = "invalid"
	ResultDisabled  = "disabled"
	ResultValid     = "valid"
	ResultError     = "error"
)

// Validator resolves presented keys to their grants.
type Validator struct {
	cfg       Config
	generator *auth.KeyGenerator
	flight    singleflight.Group
}

// NewValidator creates a validator.
func NewValidator(cfg Config) *Validator {
	cfg.applyDefaults()
	return &Validator{
		cfg:       cfg,
		generator: auth.NewKeyGenerator(cfg.KeyPrefix),
	}
}

// Resolve maps a raw key to its resolved grant. Errors are one of the
// auth.ErrAPIKey* sentinels or a *auth.TransientStoreError.
func (v *Validator) Resolve(ctx context.Context, rawKey string) (*auth.ResolvedAPIKey, error) {
	ctx, span := observability.Tracer().Start(ctx, "apikey.Resolve")
	defer span.End()

	resolved, result, err := v.resolve(ctx, rawKey)

	span.SetAttributes(attribute.String("apikey.result", result))
	if result == ResultError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential store unavailable")
	}
	v.cfg.Metrics.RecordAPIKeyValidation(result)

	return resolved, err
}

func (v *Validator) resolve(ctx context.Context, rawKey string) (*auth.ResolvedAPIKey, string, error) {
	if rawKey == "" {
		return nil, ResultMissing, auth.ErrAPIKeyMissing
	}
	if err := v.generator.ValidateFormat(rawKey); err != nil {
		return nil, ResultMalformed, auth.ErrAPIKeyInvalid
	}

	hash := auth.HashAPIKey(rawKey)

	if v.cfg.Cache != nil {
		entry, err := v.lookupCache(ctx, hash)
		if err != nil {
			v.cfg.Logger.WithError(err).WithField("key_hash", audit.ShortHash(hash)).Warn("API key cache lookup failed")
		} else {
			switch entry.State {
			case keystore.CacheInvalid:
				v.cfg.Metrics.RecordCacheLookup(entry.Tier, true)
				return nil, ResultInvalid, auth.ErrAPIKeyInvalid
			case keystore.CacheValid:
				v.cfg.Metrics.RecordCacheLookup(entry.Tier, true)
				return &auth.ResolvedAPIKey{Hash: hash, Permissions: entry.Permissions}, ResultValid, nil
			default:
				v.cfg.Metrics.RecordCacheLookup(entry.Tier, false)
			}
		}
	}

	// Concurrent misses for the same hash share one store read and one
	// cache write.
	out, err, _ := v.flight.Do(hash, func() (interface{}, error) {
		return v.loadFromStore(ctx, hash)
	})
	if err != nil {
		return nil, ResultError, err
	}

	res := out.(storeOutcome)
	return res.resolved, res.result, res.err
}

type storeOutcome struct {
	resolved *auth.ResolvedAPIKey
	result   string
	err      error
}

func (v *Validator) lookupCache(ctx context.Context, hash string) (keystore.CacheEntry, error) {
	sctx, cancel := storeContext(ctx, v.cfg.StoreTimeout)
	defer cancel()
	return v.cfg.Cache.Lookup(sctx, hash)
}

// loadFromStore reads the permanent record and populates the cache. Only a
// store failure is returned as an error; authentication outcomes travel in
// storeOutcome.
func (v *Validator) loadFromStore(ctx context.Context, hash string) (storeOutcome, error) {
	sctx, cancel := storeContext(ctx, v.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	record, err := v.cfg.Store.Get(sctx, hash)
	if err != nil && !errors.Is(err, auth.ErrKeyNotFound) {
		v.cfg.Metrics.RecordStoreOperation("keystore", "get", time.Since(start), err)
		v.cfg.Logger.WithError(err).WithField("key_hash", audit.ShortHash(hash)).Error("API key store read failed")
		return storeOutcome{}, &auth.TransientStoreError{Op: "get", Err: err}
	}
	v.cfg.Metrics.RecordStoreOperation("keystore", "get", time.Since(start), nil)

	switch {
	case err != nil:
		v.setInvalid(sctx, hash)
		return storeOutcome{result: ResultInvalid, err: auth.ErrAPIKeyInvalid}, nil
	case !record.IsActive:
		v.setInvalid(sctx, hash)
		return storeOutcome{result: ResultDisabled, err: auth.ErrAPIKeyDisabled}, nil
	}

	if v.cfg.Cache != nil {
		if err := v.cfg.Cache.SetValid(sctx, hash, record.Permissions); err != nil {
			v.cfg.Logger.WithError(err).WithField("key_hash", audit.ShortHash(hash)).Warn("API key positive cache write failed")
		}
	}
	return storeOutcome{
		resolved: &auth.ResolvedAPIKey{Hash: hash, Permissions: record.Permissions},
		result:   ResultValid,
	}, nil
}

func (v *Validator) setInvalid(ctx context.Context, hash string) {
	if v.cfg.Cache == nil {
		return
	}
	if err := v.cfg.Cache.SetInvalid(ctx, hash); err != nil {
		v.cfg.Logger.WithError(err).WithField("key_hash", audit.ShortHash(hash)).Warn("API key negative cache write failed")
	}
}
