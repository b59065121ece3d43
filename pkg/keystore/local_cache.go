package keystore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// TierLocal names the in-process tier in CacheEntry.Tier.
const TierLocal = "local"

// TieredCache fronts a shared Cache with an in-process LRU of positive
// entries. Negative results are never held locally, and any write for a
// hash drops its local entry first.
//
// A deactivation on another instance is seen here only after the local TTL
// expires, so keep that TTL well below the shared positive TTL.
type TieredCache struct {
	local  *expirable.LRU[string, []auth.Permission]
	remote Cache
}

// NewTieredCache wraps remote. A size <= 0 returns remote unchanged.
func NewTieredCache(remote Cache, size int, ttl time.Duration) Cache {
	if size <= 0 {
		return remote
	}
	return &TieredCache{
		local:  expirable.NewLRU[string, []auth.Permission](size, nil, ttl),
		remote: remote,
	}
}

// Lookup implements Cache.
func (c *TieredCache) Lookup(ctx context.Context, hash string) (CacheEntry, error) {
	if perms, ok := c.local.Get(hash); ok {
		return CacheEntry{State: CacheValid, Permissions: perms, Tier: TierLocal}, nil
	}

	entry, err := c.remote.Lookup(ctx, hash)
	if err != nil {
		return entry, err
	}
	if entry.State == CacheValid {
		c.local.Add(hash, entry.Permissions)
	}
	return entry, nil
}

// SetValid implements Cache.
func (c *TieredCache) SetValid(ctx context.Context, hash string, permissions []auth.Permission) error {
	c.local.Add(hash, permissions)
	return c.remote.SetValid(ctx, hash, permissions)
}

// SetInvalid implements Cache.
func (c *TieredCache) SetInvalid(ctx context.Context, hash string) error {
	c.local.Remove(hash)
	return c.remote.SetInvalid(ctx, hash)
}

// Invalidate implements Cache.
func (c *TieredCache) Invalidate(ctx context.Context, hash string) error {
	c.local.Remove(hash)
	return c.remote.Invalidate(ctx, hash)
}

// Len returns the number of local entries.
func (c *TieredCache) Len() int {
	return c.local.Len()
}
