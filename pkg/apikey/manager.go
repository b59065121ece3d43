package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/keystore"
)

const maxIssueAttempts = 3

// IssuedKey is returned exactly once per key.
type IssuedKey struct {
	APIKey      string            `json:"apiKey"`
	Permissions []auth.Permission `json:"permissions"`
}

// Manager issues keys and changes their activation state.
type Manager struct {
	cfg       Config
	generator *auth.KeyGenerator
	now       func() time.Time
}

// NewManager creates a key manager.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:       cfg,
		generator: auth.NewKeyGenerator(cfg.KeyPrefix),
		now:       time.Now,
	}
}

// ValidatePermissions checks that requested is a non-empty list of catalog
// permissions and returns it without duplicates, in request order.
func (m *Manager) ValidatePermissions(requested []string) ([]auth.Permission, error) {
	if len(requested) == 0 {
		return nil, &auth.ValidationError{Field: "permissions", Message: "must be a non-empty array of permissions"}
	}

	catalog := m.cfg.Catalog.Current()
	seen := make(map[auth.Permission]struct{}, len(requested))
	granted := make([]auth.Permission, 0, len(requested))
	for _, token := range requested {
		p := auth.Permission(token)
		if !catalog.IsPermission(p) {
			return nil, &auth.ValidationError{Field: "permissions", Message: fmt.Sprintf("invalid permission %q", token)}
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		granted = append(granted, p)
	}
	return granted, nil
}

// Issue creates an active key granting the requested permissions. The raw
// key is only ever returned here.
func (m *Manager) Issue(ctx context.Context, requested []string) (*IssuedKey, error) {
	granted, err := m.ValidatePermissions(requested)
	if err != nil {
		return nil, err
	}

	record := &auth.APIKeyRecord{
		Permissions: granted,
		IsActive:    true,
		CreatedAt:   m.now().UTC(),
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		rawKey, hash, err := m.generator.Generate()
		if err != nil {
			return nil, err
		}

		err = m.withStore(ctx, "create", func(sctx context.Context) error {
			return m.cfg.Store.Create(sctx, hash, record)
		})
		if errors.Is(err, keystore.ErrKeyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		m.cfg.Metrics.RecordKeyIssued()
		m.auditKey(ctx, audit.EventTypeAPIKeyIssue, hash, granted)
		m.cfg.Logger.WithFields(map[string]interface{}{
			"key_prefix":  m.generator.DisplayPrefix(rawKey),
			"key_hash":    audit.ShortHash(hash),
			"permissions": granted,
		}).Info("API key issued")

		return &IssuedKey{APIKey: rawKey, Permissions: granted}, nil
	}

	return nil, &auth.TransientStoreError{Op: "create", Err: keystore.ErrKeyExists}
}

// Get returns the record for a key hash.
func (m *Manager) Get(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}

	var record *auth.APIKeyRecord
	err := m.withStore(ctx, "get", func(sctx context.Context) error {
		var err error
		record, err = m.cfg.Store.Get(sctx, hash)
		return err
	})
	return record, err
}

// Deactivate disables a key. Its shared cache entries are dropped so the
// next validation reads the store and answers "disabled".
func (m *Manager) Deactivate(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	record, err := m.setActive(ctx, hash, false)
	if err != nil {
		return nil, err
	}

	m.bestEffortCache(ctx, "invalidate", func(sctx context.Context) error {
		return m.cfg.Cache.Invalidate(sctx, hash)
	})
	m.auditKey(ctx, audit.EventTypeAPIKeyDeactivate, hash, record.Permissions)
	return record, nil
}

// Activate re-enables a key and clears its cache entries.
func (m *Manager) Activate(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	record, err := m.setActive(ctx, hash, true)
	if err != nil {
		return nil, err
	}

	m.bestEffortCache(ctx, "invalidate", func(sctx context.Context) error {
		return m.cfg.Cache.Invalidate(sctx, hash)
	})
	m.auditKey(ctx, audit.EventTypeAPIKeyActivate, hash, record.Permissions)
	return record, nil
}

func (m *Manager) setActive(ctx context.Context, hash string, active bool) (*auth.APIKeyRecord, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}

	var record *auth.APIKeyRecord
	err := m.withStore(ctx, "set_active", func(sctx context.Context) error {
		var err error
		record, err = m.cfg.Store.SetActive(sctx, hash, active)
		return err
	})
	return record, err
}

// withStore runs fn on a detached, bounded context and classifies errors:
// not-found and collisions pass through, everything else is transient.
func (m *Manager) withStore(ctx context.Context, op string, fn func(context.Context) error) error {
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(sctx)
	switch {
	case err == nil, errors.Is(err, auth.ErrKeyNotFound), errors.Is(err, keystore.ErrKeyExists):
		m.cfg.Metrics.RecordStoreOperation("keystore", op, time.Since(start), nil)
		return err
	default:
		m.cfg.Metrics.RecordStoreOperation("keystore", op, time.Since(start), err)
		return &auth.TransientStoreError{Op: op, Err: err}
	}
}

func (m *Manager) bestEffortCache(ctx context.Context, op string, fn func(context.Context) error) {
	if m.cfg.Cache == nil {
		return
	}
	sctx, cancel := storeContext(ctx, m.cfg.StoreTimeout)
	defer cancel()

	if err := fn(sctx); err != nil {
		m.cfg.Logger.WithError(err).WithField("operation", op).Warn("API key cache update failed")
	}
}

func (m *Manager) auditKey(ctx context.Context, eventType audit.EventType, hash string, perms []auth.Permission) {
	event := audit.NewEvent(ctx, nil, eventType, audit.DecisionSuccess)
	event.KeyHash = hash
	event.Permissions = permissionStrings(perms)
	if err := m.cfg.Audit.Log(ctx, event); err != nil {
		m.cfg.Logger.WithError(err).Warn("Failed to write audit event")
	}
}

func validateHash(hash string) error {
	if !auth.IsKeyHash(hash) {
		return &auth.ValidationError{Field: "hash", Message: "must be a lowercase hex SHA-256 digest"}
	}
	return nil
}

func permissionStrings(perms []auth.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}
