// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"context"
	"time"

	"github.com/sage-x-project/sage-ratelimit/cache"
)

// entityTTL bounds how long a resolved entity record is trusted before
// the next acquire re-reads it from the store.
const entityTTL = 5 * time.Second

// entityCacheStore is the small, bounded, TTL-expiring cache of entity
// records shared by every scoped namespace view of one Limiter root.
// Keys are already namespace-prefixed by the caller. It is a thin,
// typed wrapper over cache.Cache -- the same LRU memory cache backing
// Limiter's config cache -- narrowed to Entity values.
type entityCacheStore struct {
	c cache.Cache
}

func newEntityCacheStore() *entityCacheStore {
	return &entityCacheStore{
		c: cache.NewMemoryCache(cache.CacheConfig{MaxSize: 10000, DefaultTTL: entityTTL, EvictionPolicy: cache.EvictionPolicyLRU}),
	}
}

func (c *entityCacheStore) Get(key string) (Entity, bool) {
	v, ok := c.c.Get(context.Background(), key)
	if !ok {
		return Entity{}, false
	}
	e, ok := v.(Entity)
	return e, ok
}

func (c *entityCacheStore) Set(key string, e Entity) {
	_ = c.c.Set(context.Background(), key, e, entityTTL)
}

func (c *entityCacheStore) Delete(key string) {
	_ = c.c.Delete(context.Background(), key)
}

// namespaceTTL bounds how long a name->id lookup is trusted. Namespace
// registrations are rare and effectively permanent, so this is large;
// the bound exists so a renamed/deleted namespace is not cached forever.
const namespaceTTL = 10 * time.Minute

// namespaceCacheStore is the tiny LRU name->id lookup the namespace
// scoper uses, per spec's bounded-cache invariant: like entityCacheStore,
// it wraps cache.Cache rather than growing an unbounded map.
type namespaceCacheStore struct {
	c cache.Cache
}

func newNamespaceCacheStore() *namespaceCacheStore {
	return &namespaceCacheStore{
		c: cache.NewMemoryCache(cache.CacheConfig{MaxSize: 1000, DefaultTTL: namespaceTTL, EvictionPolicy: cache.EvictionPolicyLRU}),
	}
}

func (c *namespaceCacheStore) Get(name string) (string, bool) {
	v, ok := c.c.Get(context.Background(), name)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

func (c *namespaceCacheStore) Set(name, id string) {
	_ = c.c.Set(context.Background(), name, id, namespaceTTL)
}
