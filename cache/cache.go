// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

/*
Package cache provides the bounded-TTL cache used by the config
resolver. It never stores bucket state -- buckets are always read from
the store gateway inside the same transaction that consumes them -- it
only caches the resolved, read-mostly limit configuration that the
acquire engine looks up on every call.

Features:
  - Multiple cache backends (memory, Redis)
  - TTL-based expiration using the TTL passed to Set (the config
    resolver passes TTLs of a few seconds so a config edit is never
    stale for long; the cache itself does not cap them)
  - LRU eviction policy

Example:

	import "github.com/sage-x-project/sage-ratelimit/cache"

	c := cache.NewMemoryCache(cache.DefaultCacheConfig())
	c.Set(ctx, "ns/entity1/api", resolvedConfig, 2*time.Second)
	if v, found := c.Get(ctx, "ns/entity1/api"); found {
	    cfg := v.(*resolver.Record)
	}
*/
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for caching implementations.
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from cache
	Clear(ctx context.Context) error

	// Stats returns cache statistics
	Stats() CacheStats

	// Close closes the cache
	Close() error
}

// CacheConfig holds cache configuration.
type CacheConfig struct {
	// MaxSize is the maximum number of entries
	MaxSize int

	// DefaultTTL is the default time-to-live. The resolver never passes
	// a TTL larger than its own cache-TTL setting, which is itself
	// bounded at 2 seconds.
	DefaultTTL time.Duration

	// EvictionPolicy determines how entries are evicted
	EvictionPolicy EvictionPolicy

	// EnableMetrics enables cache metrics collection
	EnableMetrics bool
}

// EvictionPolicy determines how cache entries are evicted.
type EvictionPolicy string

const (
	// EvictionPolicyLRU evicts least recently used entries
	EvictionPolicyLRU EvictionPolicy = "lru"

	// EvictionPolicyLFU evicts least frequently used entries
	EvictionPolicyLFU EvictionPolicy = "lfu"

	// EvictionPolicyFIFO evicts oldest entries first
	EvictionPolicyFIFO EvictionPolicy = "fifo"

	// EvictionPolicyTTL evicts based on TTL only
	EvictionPolicyTTL EvictionPolicy = "ttl"
)

// CacheStats holds cache statistics.
type CacheStats struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Deletes       int64
	Evictions     int64
	Size          int
	MaxSize       int
	HitRate       float64
	MemoryUsageKB int64
}

// DefaultCacheConfig returns the default cache configuration: a small
// LRU cache sized for the number of distinct (entity, resource) pairs
// a single process is expected to see concurrently.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:        10000,
		DefaultTTL:     2 * time.Second,
		EvictionPolicy: EvictionPolicyLRU,
		EnableMetrics:  true,
	}
}
