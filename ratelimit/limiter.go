// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

/*
Package ratelimit implements a distributed, multi-limit, hierarchical
token-bucket rate limiter whose authoritative state lives in a remote
transactional key-value store. Callers acquire leases against one or
more named limits on an (entity, resource) pair, optionally reconcile
the consumed amount after the fact, and never hold local state across
a suspension point -- all coordination happens in the store via
conditional writes and multi-item transactions.

Example:

	gw := store.NewMemoryGateway()
	lim, err := ratelimit.New(gw)
	if err != nil { ... }

	lease, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
	if err != nil {
	    var exceeded *ratelimit.RateLimitExceededError
	    if errors.As(err, &exceeded) {
	        // back off for exceeded.RetryAfterSeconds
	    }
	}
	defer lease.Adjust(ctx, map[string]int64{"tpm": actualTokensUsed})
*/
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sage-x-project/sage-ratelimit/cache"
	"github.com/sage-x-project/sage-ratelimit/internal/idgen"
	"github.com/sage-x-project/sage-ratelimit/internal/keyspace"
	"github.com/sage-x-project/sage-ratelimit/internal/resolver"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
	"github.com/sage-x-project/sage-ratelimit/internal/validate"
	"github.com/sage-x-project/sage-ratelimit/pkg/errors"
)

// Config holds the tunables of the acquire engine and its caches. All
// fields have sane defaults via DefaultConfig.
type Config struct {
	// ConfigCacheTTL bounds how long a resolved config is trusted.
	// Clamped to 2s regardless of what is configured here.
	ConfigCacheTTL time.Duration

	// AcquireDeadline bounds the sum of retries and I/O for one Acquire
	// call. Exceeding it surfaces a transport error.
	AcquireDeadline time.Duration

	// ConflictRetryMaxAttempts bounds how many times Acquire restarts
	// from the batch-read step after a transaction conflict.
	ConflictRetryMaxAttempts int

	// ConflictRetryBudget bounds the total wall time spent retrying
	// conflicts within one Acquire call.
	ConflictRetryBudget time.Duration

	// MaxLimitsPerAcquire rejects an acquire touching more limits than
	// this up front, before any store I/O.
	MaxLimitsPerAcquire int
}

// DefaultConfig returns sensible defaults: a 2s config cache, a 5s
// acquire deadline, 3 conflict-retry attempts capped at 250ms total,
// and a 50-limit ceiling per acquire.
func DefaultConfig() Config {
	return Config{
		ConfigCacheTTL:           2 * time.Second,
		AcquireDeadline:          5 * time.Second,
		ConflictRetryMaxAttempts: 3,
		ConflictRetryBudget:      250 * time.Millisecond,
		MaxLimitsPerAcquire:      50,
	}
}

// Limiter is the library's public entry point, scoped to one
// namespace. The value returned by New is scoped to the reserved
// "default" namespace. Every field below except ns/nsName/resolver is
// shared (by reference) across every scoped view derived from the
// same root, so a Namespace call is cheap and its caches stay warm.
type Limiter struct {
	gw          store.Gateway
	cfg         Config
	entityCache *entityCacheStore
	nsCache     *namespaceCacheStore
	configCache cache.Cache

	ns       string // namespace-id; keys are prefixed with this
	nsName   string
	resolver *resolver.Resolver
}

// Option configures New.
type Option func(*Config)

// WithConfig overrides the full tunable set.
func WithConfig(cfg Config) Option { return func(c *Config) { *c = cfg } }

// New creates a Limiter scoped to the reserved "default" namespace,
// registering it idempotently on first use.
func New(gw store.Gateway, opts ...Option) (*Limiter, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &Limiter{
		gw:          gw,
		cfg:         cfg,
		entityCache: newEntityCacheStore(),
		nsCache:     newNamespaceCacheStore(),
		configCache: cache.NewMemoryCache(cache.CacheConfig{MaxSize: 10000, DefaultTTL: cfg.ConfigCacheTTL, EvictionPolicy: cache.EvictionPolicyLRU}),
		ns:          keyspace.DefaultNamespace,
		nsName:      keyspace.DefaultNamespace,
	}
	l.resolver = resolver.New(gw, keyspace.DefaultNamespace, l.configCache, cfg.ConfigCacheTTL)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireDeadline)
	defer cancel()
	if err := registerNamespace(ctx, gw, keyspace.DefaultNamespace, keyspace.DefaultNamespace); err != nil {
		return nil, fmt.Errorf("ratelimit: register default namespace: %w", err)
	}
	l.nsCache.Set(keyspace.DefaultNamespace, keyspace.DefaultNamespace)

	return l, nil
}

// registerNamespace writes the name->id and id-presence lookup items,
// tolerating a concurrent registration of the same name.
func registerNamespace(ctx context.Context, gw store.Gateway, name, id string) error {
	cond := &store.Condition{Expression: "attribute_not_exists(PK)"}
	err := gw.PutItem(ctx, keyspace.PKNamespace(), keyspace.SKNamespace(name), store.Item{"id": id}, cond)
	if err != nil && err != store.ErrConflict {
		return err
	}
	err = gw.PutItem(ctx, keyspace.PKNamespace(), keyspace.SKNsid(id), store.Item{"name": name}, nil)
	if err != nil {
		return err
	}
	return nil
}

// Namespace returns a scoped view of the limiter for the given human
// namespace name, registering it on first use. The caches, store
// client, and tunables are shared with the receiver; only the
// namespace id and the config resolver differ.
func (l *Limiter) Namespace(ctx context.Context, name string) (*Limiter, error) {
	if name == keyspace.DefaultNamespace {
		return l.scopedTo(keyspace.DefaultNamespace, name), nil
	}
	if !validate.NamespaceName(name) {
		return nil, fmt.Errorf("ratelimit: %w: namespace %q", errors.ErrInvalidName, name)
	}
	if keyspace.ReservedNamespace(name) {
		return nil, fmt.Errorf("ratelimit: %w: namespace %q is reserved", errors.ErrInvalidName, name)
	}

	if id, ok := l.nsCache.Get(name); ok {
		return l.scopedTo(id, name), nil
	}

	item, err := l.gw.GetItem(ctx, keyspace.PKNamespace(), keyspace.SKNamespace(name))
	if err == store.ErrNotFound {
		id, genErr := idgen.NamespaceID()
		if genErr != nil {
			return nil, fmt.Errorf("ratelimit: generate namespace id: %w", genErr)
		}
		if regErr := registerNamespace(ctx, l.gw, name, id); regErr != nil {
			return nil, fmt.Errorf("ratelimit: register namespace: %w", regErr)
		}
		l.nsCache.Set(name, id)
		return l.scopedTo(id, name), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ratelimit: resolve namespace: %w", err)
	}

	id, _ := item["id"].(string)
	l.nsCache.Set(name, id)
	return l.scopedTo(id, name), nil
}

func (l *Limiter) scopedTo(id, name string) *Limiter {
	scoped := *l
	scoped.ns = id
	scoped.nsName = name
	scoped.resolver = resolver.New(l.gw, id, l.configCache, l.cfg.ConfigCacheTTL)
	return &scoped
}

// Healthy reports whether the backing store is reachable within
// timeout. It never raises; an unreachable store simply reports false.
// This is the library's is_available health check -- distinct from
// IsAvailable, which checks a specific entity's buckets.
func (l *Limiter) Healthy(ctx context.Context, timeout time.Duration) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return l.gw.Ping(ctx) == nil
}

// SetSystemDefaults configures this namespace's system-wide fallback
// limits and on_unavailable policy.
func (l *Limiter) SetSystemDefaults(ctx context.Context, limits []Limit, onUnavailable OnUnavailable) error {
	return l.resolver.SetSystemDefaults(ctx, resolver.Record{Limits: limits, OnUnavailable: onUnavailable})
}

// GetSystemDefaults returns this namespace's system-wide fallback.
func (l *Limiter) GetSystemDefaults(ctx context.Context) ([]Limit, OnUnavailable, error) {
	rec, err := l.resolver.GetSystemDefaults(ctx)
	return rec.Limits, rec.OnUnavailable, err
}

// SetResourceDefaults configures the fallback limits used by every
// entity accessing resource, absent a more specific override.
func (l *Limiter) SetResourceDefaults(ctx context.Context, resource string, limits []Limit, onUnavailable OnUnavailable) error {
	return l.resolver.SetResourceDefaults(ctx, resource, resolver.Record{Limits: limits, OnUnavailable: onUnavailable})
}

// GetResourceDefaults returns the per-resource fallback limits.
func (l *Limiter) GetResourceDefaults(ctx context.Context, resource string) ([]Limit, OnUnavailable, error) {
	rec, err := l.resolver.GetResourceDefaults(ctx, resource)
	return rec.Limits, rec.OnUnavailable, err
}

// SetLimits configures the most specific override: limits for one
// entity on one resource.
func (l *Limiter) SetLimits(ctx context.Context, entityID, resource string, limits []Limit, onUnavailable OnUnavailable) error {
	return l.resolver.SetEntityResourceLimits(ctx, entityID, resource, resolver.Record{Limits: limits, OnUnavailable: onUnavailable})
}

// GetLimits returns the entity-resource override, if any is set.
func (l *Limiter) GetLimits(ctx context.Context, entityID, resource string) ([]Limit, OnUnavailable, error) {
	rec, err := l.resolver.GetEntityResourceLimits(ctx, entityID, resource)
	return rec.Limits, rec.OnUnavailable, err
}
