package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	layerMemory = "memory"
	layerRedis  = "redis"
)

var (
	// CacheHits tracks lookups answered from a store
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsw_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"}, // "memory", "redis"
	)

	// CacheMisses tracks lookups that found nothing
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsw_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks backend operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsw_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"layer", "operation"}, // "open", "match", "put", "delete", "keys"
	)

	// EntriesWritten tracks entries stored by put and add-all
	EntriesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsw_cache_entries_written_total",
			Help: "Total number of cache entries written",
		},
		[]string{"layer"},
	)

	// StoresDeleted tracks deleted named stores
	StoresDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsw_cache_stores_deleted_total",
			Help: "Total number of named cache stores deleted",
		},
		[]string{"layer"},
	)
)
