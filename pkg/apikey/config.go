package apikey

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/keystore"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultStoreTimeout bounds every store and cache call.
const DefaultStoreTimeout = 2 * time.Second

// Config wires a Manager or Validator.
type Config struct {
	Store        keystore.Store
	Cache        keystore.Cache
	Catalog      auth.CatalogProvider
	KeyPrefix    string
	StoreTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Audit   audit.Logger
}

func (c *Config) applyDefaults() {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.Catalog == nil {
		c.Catalog = auth.DefaultCatalog()
	}
	if c.Logger == nil {
		c.Logger = observability.NewNopLogger()
	}
	if c.Audit == nil {
		c.Audit = audit.NopLogger{}
	}
}

// storeContext detaches ctx from client cancellation so cache population is
// never abandoned halfway, and bounds the call.
func storeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
