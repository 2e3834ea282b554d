// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

/*
Package resolver resolves the effective limit shapes and on_unavailable
policy for an (entity, resource) pair from the three-level config
hierarchy: per-entity-per-resource, per-resource, system. Results are
held in a small, short-TTL cache; concurrent misses for the same key
are deduplicated with singleflight so a cache stampede issues exactly
one store read.
*/
package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sage-x-project/sage-ratelimit/internal/keyspace"
	"github.com/sage-x-project/sage-ratelimit/internal/limitspec"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
	"github.com/sage-x-project/sage-ratelimit/pkg/errors"
)

// Cache is the subset of cache.Cache the resolver needs, kept narrow so
// this package does not have to import the cache package's eviction
// policy machinery.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Record is one stored config: a set of limits plus an optional
// on_unavailable policy. An empty Limits slice or empty OnUnavailable
// means "not set at this scope" -- resolution falls through to the next.
type Record struct {
	Limits        []limitspec.Limit
	OnUnavailable limitspec.OnUnavailable
}

// Resolved is the outcome of resolving one (entity, resource) pair.
type Resolved struct {
	Limits        []limitspec.Limit
	OnUnavailable limitspec.OnUnavailable
}

// maxCacheTTL bounds the resolver's cache TTL regardless of what a
// caller configures, per the spec's "<=2s" requirement.
const maxCacheTTL = 2 * time.Second

// Resolver resolves effective config for one namespace's entities.
type Resolver struct {
	gw       store.Gateway
	ns       string
	cache    Cache
	cacheTTL time.Duration
	sf       singleflight.Group
}

// New creates a Resolver scoped to one namespace-id, sharing the given
// store gateway and cache with any sibling resolver.
func New(gw store.Gateway, ns string, c Cache, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 || cacheTTL > maxCacheTTL {
		cacheTTL = maxCacheTTL
	}
	return &Resolver{gw: gw, ns: ns, cache: c, cacheTTL: cacheTTL}
}

// Resolve computes the effective limits and on_unavailable policy for
// (entityID, resource). When explicit is non-empty and useStored is
// false, explicit wins outright and no store read occurs.
//
// A read failure on any one of the three scopes never aborts
// resolution outright: it is treated the same as that scope being
// absent, so limits or policy resolvable from a lower-priority scope
// still apply. Only when every scope is both errored-or-absent and no
// explicit fallback exists does Resolve report ErrLimitsUnavailable,
// with the triggering store error (if any) wrapped alongside it so
// callers can still tell a genuine transport failure apart from
// "nothing configured anywhere".
func (r *Resolver) Resolve(ctx context.Context, entityID, resource string, explicit []limitspec.Limit, useStored bool) (Resolved, error) {
	if len(explicit) > 0 && !useStored {
		return Resolved{Limits: explicit, OnUnavailable: limitspec.DefaultOnUnavailable}, nil
	}

	entityCfg, entityErr := r.entityResourceConfig(ctx, entityID, resource)
	resourceCfg, resourceErr := r.resourceConfig(ctx, resource)
	systemCfg, systemErr := r.systemConfig(ctx)

	limits := firstNonEmptyLimits(entityCfg, resourceCfg, systemCfg)
	policy := firstSetPolicy(entityCfg, resourceCfg, systemCfg)

	if len(limits) > 0 {
		return Resolved{Limits: limits, OnUnavailable: policy}, nil
	}
	if len(explicit) > 0 {
		return Resolved{Limits: explicit, OnUnavailable: policy}, nil
	}
	if scopeErr := firstErr(entityErr, resourceErr, systemErr); scopeErr != nil {
		return Resolved{OnUnavailable: policy}, fmt.Errorf("%w: %w", errors.ErrLimitsUnavailable, scopeErr)
	}
	return Resolved{OnUnavailable: policy}, errors.ErrLimitsUnavailable
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmptyLimits(recs ...*Record) []limitspec.Limit {
	for _, rec := range recs {
		if rec != nil && len(rec.Limits) > 0 {
			return rec.Limits
		}
	}
	return nil
}

func firstSetPolicy(recs ...*Record) limitspec.OnUnavailable {
	for _, rec := range recs {
		if rec != nil && rec.OnUnavailable != "" {
			return rec.OnUnavailable
		}
	}
	return limitspec.DefaultOnUnavailable
}

// --- entity-resource config ---

func (r *Resolver) entityResourceCacheKey(entityID, resource string) string {
	return fmt.Sprintf("%s/entity/%s/%s", r.ns, entityID, resource)
}

func (r *Resolver) entityResourceConfig(ctx context.Context, entityID, resource string) (*Record, error) {
	key := r.entityResourceCacheKey(entityID, resource)
	return r.cachedRead(ctx, key, func() (*Record, error) {
		item, err := r.gw.GetItem(ctx, keyspace.PKEntity(r.ns, entityID), keyspace.SKConfig(resource))
		return recordFromItem(item, err)
	})
}

// InvalidateEntityResource evicts the cache entry set_limits just wrote,
// best-effort (per the spec, cross-process invalidation relies on TTL).
func (r *Resolver) InvalidateEntityResource(ctx context.Context, entityID, resource string) {
	_ = r.cache.Delete(ctx, r.entityResourceCacheKey(entityID, resource))
}

func (r *Resolver) SetEntityResourceLimits(ctx context.Context, entityID, resource string, rec Record) error {
	item := recordToItem(rec)
	if err := r.gw.PutItem(ctx, keyspace.PKEntity(r.ns, entityID), keyspace.SKConfig(resource), item, nil); err != nil {
		return fmt.Errorf("resolver: set entity limits: %w", err)
	}
	r.InvalidateEntityResource(ctx, entityID, resource)
	return nil
}

func (r *Resolver) GetEntityResourceLimits(ctx context.Context, entityID, resource string) (Record, error) {
	rec, err := r.entityResourceConfig(ctx, entityID, resource)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{}, nil
	}
	return *rec, nil
}

// --- resource config ---

func (r *Resolver) resourceCacheKey(resource string) string {
	return fmt.Sprintf("%s/resource/%s", r.ns, resource)
}

func (r *Resolver) resourceConfig(ctx context.Context, resource string) (*Record, error) {
	key := r.resourceCacheKey(resource)
	return r.cachedRead(ctx, key, func() (*Record, error) {
		item, err := r.gw.GetItem(ctx, keyspace.PKResource(r.ns, resource), keyspace.SKResources())
		return recordFromItem(item, err)
	})
}

func (r *Resolver) SetResourceDefaults(ctx context.Context, resource string, rec Record) error {
	item := recordToItem(rec)
	if err := r.gw.PutItem(ctx, keyspace.PKResource(r.ns, resource), keyspace.SKResources(), item, nil); err != nil {
		return fmt.Errorf("resolver: set resource defaults: %w", err)
	}
	_ = r.cache.Delete(ctx, r.resourceCacheKey(resource))
	return nil
}

func (r *Resolver) GetResourceDefaults(ctx context.Context, resource string) (Record, error) {
	rec, err := r.resourceConfig(ctx, resource)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{}, nil
	}
	return *rec, nil
}

// --- system config ---

func (r *Resolver) systemCacheKey() string { return r.ns + "/system" }

func (r *Resolver) systemConfig(ctx context.Context) (*Record, error) {
	key := r.systemCacheKey()
	return r.cachedRead(ctx, key, func() (*Record, error) {
		item, err := r.gw.GetItem(ctx, keyspace.PKSystem(r.ns), keyspace.SKResources())
		return recordFromItem(item, err)
	})
}

func (r *Resolver) SetSystemDefaults(ctx context.Context, rec Record) error {
	item := recordToItem(rec)
	if err := r.gw.PutItem(ctx, keyspace.PKSystem(r.ns), keyspace.SKResources(), item, nil); err != nil {
		return fmt.Errorf("resolver: set system defaults: %w", err)
	}
	_ = r.cache.Delete(ctx, r.systemCacheKey())
	return nil
}

func (r *Resolver) GetSystemDefaults(ctx context.Context) (Record, error) {
	rec, err := r.systemConfig(ctx)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{}, nil
	}
	return *rec, nil
}

// cachedRead serves key from cache, falling through to fetch on miss.
// fetch's own not-found case is folded into a nil *Record, nil error so
// an absent config record is never treated as a resolver failure.
func (r *Resolver) cachedRead(ctx context.Context, key string, fetch func() (*Record, error)) (*Record, error) {
	if v, ok := r.cache.Get(ctx, key); ok {
		rec, _ := v.(*Record)
		return rec, nil
	}

	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		rec, err := fetch()
		if err != nil {
			return nil, err
		}
		_ = r.cache.Set(ctx, key, rec, r.cacheTTL)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*Record)
	return rec, nil
}

func recordFromItem(item store.Item, err error) (*Record, error) {
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolver: read config: %w", err)
	}

	byName := map[string]*limitspec.Limit{}
	get := func(name string) *limitspec.Limit {
		if l, ok := byName[name]; ok {
			return l
		}
		l := &limitspec.Limit{Name: name}
		byName[name] = l
		return l
	}

	for attr, v := range item {
		name, field, ok := keyspace.ParseLimitAttr(attr)
		if !ok {
			continue
		}
		l := get(name)
		n := toInt64(v)
		switch field {
		case "cp":
			l.Capacity = n
		case "br":
			l.Burst = n
		case "ra":
			l.RefillAmount = n
		case "rp":
			l.RefillPeriod = msToDuration(n)
		}
	}

	rec := &Record{}
	for _, l := range byName {
		rec.Limits = append(rec.Limits, *l)
	}
	if s, ok := item["on_unavailable"].(string); ok {
		rec.OnUnavailable = limitspec.OnUnavailable(s)
	}
	return rec, nil
}

func recordToItem(rec Record) store.Item {
	item := store.Item{}
	for _, l := range rec.Limits {
		item[keyspace.LimitAttr(l.Name, "cp")] = l.Capacity
		item[keyspace.LimitAttr(l.Name, "br")] = l.Burst
		item[keyspace.LimitAttr(l.Name, "ra")] = l.RefillAmount
		item[keyspace.LimitAttr(l.Name, "rp")] = l.RefillPeriod.Milliseconds()
	}
	if rec.OnUnavailable != "" {
		item["on_unavailable"] = string(rec.OnUnavailable)
	}
	return item
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
