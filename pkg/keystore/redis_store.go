package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

const maxWatchRetries = 3

// RedisStore keeps records as JSON under apikey:store:<hash> with no TTL.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	data, err := s.client.Get(ctx, StoreKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrKeyNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var record auth.APIKeyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api key record: %w", err)
	}
	return &record, nil
}

// Create implements Store using SETNX so a hash collision never overwrites.
func (s *RedisStore) Create(ctx context.Context, hash string, record *auth.APIKeyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal api key record: %w", err)
	}

	created, err := s.client.SetNX(ctx, StoreKey(hash), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	if !created {
		return ErrKeyExists
	}
	return nil
}

// SetActive implements Store with an optimistic WATCH/MULTI transaction.
func (s *RedisStore) SetActive(ctx context.Context, hash string, active bool) (*auth.APIKeyRecord, error) {
	key := StoreKey(hash)
	var updated *auth.APIKeyRecord

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return auth.ErrKeyNotFound
		} else if err != nil {
			return err
		}

		var record auth.APIKeyRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal api key record: %w", err)
		}
		record.IsActive = active

		out, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal api key record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = &record
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, auth.ErrKeyNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("redis update failed: %w", err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("redis update failed: %w", redis.TxFailedErr)
}
