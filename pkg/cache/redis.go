package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStorage.
const DefaultRedisPrefix = "pdsw"

// RedisStorage is a Storage persisted in Redis.
//
// Key layout:
//
//	<prefix>:caches                  sorted set of store names, scored by creation sequence
//	<prefix>:seq                     sequence counter shared by names and entry keys
//	<prefix>:cache:{<name>}:entries  hash of request URL -> JSON Entry
//	<prefix>:cache:{<name>}:order    sorted set of request URLs, scored by insertion sequence
//
// The fixed suffixes keep the keys of two stores apart whatever the names
// contain. The braces put both keys of a store in one cluster hash slot.
type RedisStorage struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(redisClient *redis.Client, prefix string) *RedisStorage {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStorage) namesKey() string {
	return s.prefix + ":caches"
}

func (s *RedisStorage) seqKey() string {
	return s.prefix + ":seq"
}

func (s *RedisStorage) entriesKey(name string) string {
	return s.prefix + ":cache:{" + name + "}:entries"
}

func (s *RedisStorage) orderKey(name string) string {
	return s.prefix + ":cache:{" + name + "}:order"
}

// Open returns the named store, creating it if absent.
func (s *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if name == "" {
		CacheErrors.WithLabelValues(layerRedis, "open").Inc()
		return nil, fmt.Errorf("cache name cannot be empty")
	}

	exists, err := s.Has(ctx, name)
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "open").Inc()
		return nil, err
	}

	if !exists {
		seq, err := s.redis.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			CacheErrors.WithLabelValues(layerRedis, "open").Inc()
			return nil, fmt.Errorf("redis incr: %w", err)
		}
		// NX keeps the original position if another opener won the race.
		if err := s.redis.ZAddNX(ctx, s.namesKey(), redis.Z{Score: float64(seq), Member: name}).Err(); err != nil {
			CacheErrors.WithLabelValues(layerRedis, "open").Inc()
			return nil, fmt.Errorf("redis zadd: %w", err)
		}
	}

	return &RedisStore{storage: s, name: name}, nil
}

// Has reports whether the named store exists.
func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	err := s.redis.ZScore(ctx, s.namesKey(), name).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return true, nil
}

// Delete removes the named store and all its entries in one transaction.
func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.entriesKey(name), s.orderKey(name))
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "delete").Inc()
		return false, fmt.Errorf("redis delete cache %q: %w", name, err)
	}

	if removed.Val() == 0 {
		return false, nil
	}
	StoresDeleted.WithLabelValues(layerRedis).Inc()
	return true, nil
}

// Keys returns the store names in creation order.
func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.redis.ZRange(ctx, s.namesKey(), 0, -1).Result()
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "keys").Inc()
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return names, nil
}

// Match searches every store in creation order with one pipelined round trip.
func (s *RedisStorage) Match(ctx context.Context, req *http.Request) (*Entry, error) {
	key, err := RequestKey(req)
	if errors.Is(err, ErrMethodNotCacheable) {
		CacheMisses.WithLabelValues(layerRedis).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		CacheMisses.WithLabelValues(layerRedis).Inc()
		return nil, ErrCacheMiss
	}

	results := make([]*redis.StringCmd, len(names))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			results[i] = pipe.HGet(ctx, s.entriesKey(name), key)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		CacheErrors.WithLabelValues(layerRedis, "match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	for _, cmd := range results {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			CacheErrors.WithLabelValues(layerRedis, "match").Inc()
			return nil, fmt.Errorf("redis hget: %w", err)
		}
		entry, err := decodeEntry(data)
		if err != nil {
			CacheErrors.WithLabelValues(layerRedis, "match").Inc()
			return nil, err
		}
		CacheHits.WithLabelValues(layerRedis).Inc()
		return entry, nil
	}

	CacheMisses.WithLabelValues(layerRedis).Inc()
	return nil, ErrCacheMiss
}

// RedisStore is a single named cache in Redis.
type RedisStore struct {
	storage *RedisStorage
	name    string
}

// Name returns the store name.
func (r *RedisStore) Name() string {
	return r.name
}

// Match returns the entry stored for req.
func (r *RedisStore) Match(ctx context.Context, req *http.Request) (*Entry, error) {
	key, err := RequestKey(req)
	if errors.Is(err, ErrMethodNotCacheable) {
		CacheMisses.WithLabelValues(layerRedis).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	data, err := r.storage.redis.HGet(ctx, r.storage.entriesKey(r.name), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(layerRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues(layerRedis, "match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "match").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues(layerRedis).Inc()
	return entry, nil
}

// Put stores one entry.
func (r *RedisStore) Put(ctx context.Context, entry *Entry) error {
	return r.PutAll(ctx, []*Entry{entry})
}

// PutAll stores every entry in a single MULTI/EXEC transaction.
func (r *RedisStore) PutAll(ctx context.Context, entries []*Entry) error {
	if err := validateBatch(entries); err != nil {
		CacheErrors.WithLabelValues(layerRedis, "put").Inc()
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	payloads := make([][]byte, len(entries))
	for i, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			CacheErrors.WithLabelValues(layerRedis, "put").Inc()
			return fmt.Errorf("marshal cache entry: %w", err)
		}
		payloads[i] = data
	}

	// Reserve a contiguous block of sequence numbers for insertion order.
	last, err := r.storage.redis.IncrBy(ctx, r.storage.seqKey(), int64(len(entries))).Result()
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "put").Inc()
		return fmt.Errorf("redis incrby: %w", err)
	}
	first := last - int64(len(entries)) + 1

	entriesKey := r.storage.entriesKey(r.name)
	orderKey := r.storage.orderKey(r.name)
	_, err = r.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, entry := range entries {
			pipe.HSet(ctx, entriesKey, entry.URL, payloads[i])
			pipe.ZAddNX(ctx, orderKey, redis.Z{Score: float64(first + int64(i)), Member: entry.URL})
		}
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "put").Inc()
		return fmt.Errorf("redis put: %w", err)
	}

	EntriesWritten.WithLabelValues(layerRedis).Add(float64(len(entries)))
	return nil
}

// Delete removes the entry stored for req.
func (r *RedisStore) Delete(ctx context.Context, req *http.Request) (bool, error) {
	key, err := RequestKey(req)
	if errors.Is(err, ErrMethodNotCacheable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var removed *redis.IntCmd
	_, err = r.storage.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, r.storage.entriesKey(r.name), key)
		pipe.ZRem(ctx, r.storage.orderKey(r.name), key)
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return removed.Val() > 0, nil
}

// Keys returns the stored request URLs in insertion order.
func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.storage.redis.ZRange(ctx, r.storage.orderKey(r.name), 0, -1).Result()
	if err != nil {
		CacheErrors.WithLabelValues(layerRedis, "keys").Inc()
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return keys, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
