package keystore

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// ErrKeyExists is returned by Store.Create when a record already exists for
// the hash.
var ErrKeyExists = errors.New("api key already exists")

// Store is the permanent credential store, keyed by key hash.
type Store interface {
	// Get returns the record for hash or auth.ErrKeyNotFound.
	Get(ctx context.Context, hash string) (*auth.APIKeyRecord, error)
	// Create writes a new record. It never overwrites an existing one.
	Create(ctx context.Context, hash string, record *auth.APIKeyRecord) error
	// SetActive flips the active flag and returns the updated record.
	SetActive(ctx context.Context, hash string, active bool) (*auth.APIKeyRecord, error)
}

// CacheState is the outcome of a cache lookup.
type CacheState int

const (
	CacheMiss CacheState = iota
	CacheValid
	CacheInvalid
)

func (s CacheState) String() string {
	switch s {
	case CacheValid:
		return "valid"
	case CacheInvalid:
		return "invalid"
	default:
		return "miss"
	}
}

// CacheEntry is a cache lookup result. Permissions is set only for
// CacheValid. Tier names the layer that answered.
type CacheEntry struct {
	State       CacheState
	Permissions []auth.Permission
	Tier        string
}

// Cache stores positive and negative validation results.
type Cache interface {
	// Lookup checks the negative entry first, then the positive one.
	Lookup(ctx context.Context, hash string) (CacheEntry, error)
	// SetValid stores a positive entry and removes any negative one.
	SetValid(ctx context.Context, hash string, permissions []auth.Permission) error
	// SetInvalid stores a negative entry and removes any positive one.
	SetInvalid(ctx context.Context, hash string) error
	// Invalidate removes both entries.
	Invalidate(ctx context.Context, hash string) error
}

// CacheTTLs configures entry lifetimes.
type CacheTTLs struct {
	Valid   time.Duration
	Invalid time.Duration
}

// DefaultCacheTTLs returns 900s for positive and 60s for negative entries.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Valid:   900 * time.Second,
		Invalid: 60 * time.Second,
	}
}

const (
	storeKeyPrefix   = "apikey:store:"
	validKeyPrefix   = "apikey:cache:valid:"
	invalidKeyPrefix = "apikey:cache:invalid:"
	invalidSentinel  = "1"
)

// StoreKey returns the Redis key of a permanent record.
func StoreKey(hash string) string { return storeKeyPrefix + hash }

// ValidCacheKey returns the Redis key of a positive cache entry.
func ValidCacheKey(hash string) string { return validKeyPrefix + hash }

// InvalidCacheKey returns the Redis key of a negative cache entry.
func InvalidCacheKey(hash string) string { return invalidKeyPrefix + hash }
