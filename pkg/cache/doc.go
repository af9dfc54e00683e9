// Package cache provides named response caches for the offline agent, with
// in-memory and Redis backends.
//
// The model follows the browser Cache Storage API:
//
// - Storage is the set of named caches for one origin (the "caches" object)
// - Store is a single named cache mapping request URLs to captured responses
// - Only GET requests are stored or matched; the URL fragment is ignored
// - Storage.Match searches every store, oldest first
// - 206 Partial Content responses are never stored
// - There is no expiry: an entry lives until its store is deleted
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create storage and open the current cache
//	storage := cache.NewRedisStorage(redisClient, cache.DefaultRedisPrefix)
//	store, err := storage.Open(ctx, "path-defender-cache-v1")
//
//	// Pre-cache assets as one all-or-nothing batch
//	err = cache.AddAll(ctx, store, networkClient, runner, urls)
//
//	// Look a request up across every store
//	entry, err := storage.Match(ctx, req)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// go to the network
//	}
//	resp := entry.Response(req)
//
// # Metrics
//
// Both backends export Prometheus metrics labelled by layer ("memory" or "redis"):
//
//   - pdsw_cache_hits_total{layer} - Lookups answered from a store
//   - pdsw_cache_misses_total{layer} - Lookups that found nothing
//   - pdsw_cache_errors_total{layer,operation} - Backend operation errors
//   - pdsw_cache_entries_written_total{layer} - Entries written by put/add-all
//   - pdsw_cache_stores_deleted_total{layer} - Named stores deleted
package cache
