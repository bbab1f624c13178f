// Package cache provides the badger-backed read-side query cache.
// The core only deletes from it; the API layer populates it.
package cache

import (
	"context"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
)

// keyPrefix namespaces cache entries inside the shared badger store
const keyPrefix = "cache:"

// deleteBatchSize bounds deletions per transaction to stay under badger's
// transaction size limit.
const deleteBatchSize = 1000

// Service implements interfaces.CacheService over Badger
type Service struct {
	db     *badger.DB
	logger arbor.ILogger
}

// NewService creates a new cache service
func NewService(db *badger.DB, logger arbor.ILogger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// Set stores a value under key with an optional TTL (ttl <= 0 means no expiry)
func (s *Service) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the cached value, or found=false on miss
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	return value, true, nil
}

// Delete removes a single key; deleting an absent key is not an error
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

// DeletePattern removes every key with the given prefix and returns the
// number of keys removed.
func (s *Service) DeletePattern(ctx context.Context, prefix string) (int, error) {
	fullPrefix := []byte(keyPrefix + prefix)

	// Collect first, then delete in bounded batches
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache prefix %s: %w", prefix, err)
	}

	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range keys[start:end] {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete cache keys: %w", err)
		}
		deleted += end - start
	}

	return deleted, nil
}

// InvalidateProperties drops the list-query entries and the aggregate
// statistics key after a batch upsert.
func (s *Service) InvalidateProperties(ctx context.Context) error {
	count, err := s.DeletePattern(ctx, interfaces.CacheKeyPropertyListPrefix)
	if err != nil {
		return err
	}

	if err := s.Delete(ctx, interfaces.CacheKeyPropertyStats); err != nil {
		return err
	}

	s.logger.Debug().
		Int("list_keys", count).
		Msg("Property caches invalidated")

	return nil
}

// Ensure Service implements CacheService interface
var _ interfaces.CacheService = (*Service)(nil)
