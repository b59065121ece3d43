package apikey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/keystore"
)

// countingStore counts Get calls on a wrapped store.
type countingStore struct {
	keystore.Store
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, hash)
}

// failingStore fails every call.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (*auth.APIKeyRecord, error) {
	return nil, errStoreDown
}

func (failingStore) Create(context.Context, string, *auth.APIKeyRecord) error {
	return errStoreDown
}

func (failingStore) SetActive(context.Context, string, bool) (*auth.APIKeyRecord, error) {
	return nil, errStoreDown
}

// blockingStore holds Get until released.
type blockingStore struct {
	keystore.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	gets    atomic.Int32
}

func (s *blockingStore) Get(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	s.gets.Add(1)
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Get(ctx, hash)
}

type fixture struct {
	mr        *miniredis.Miniredis
	client    *redis.Client
	store     *countingStore
	cache     *keystore.RedisCache
	manager   *Manager
	validator *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	store := &countingStore{Store: keystore.NewRedisStore(client)}
	cache := keystore.NewRedisCache(client, keystore.DefaultCacheTTLs())
	cfg := Config{Store: store, Cache: cache}

	return &fixture{
		mr:        mr,
		client:    client,
		store:     store,
		cache:     cache,
		manager:   NewManager(cfg),
		validator: NewValidator(cfg),
	}
}
