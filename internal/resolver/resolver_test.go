// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sage-x-project/sage-ratelimit/cache"
	"github.com/sage-x-project/sage-ratelimit/internal/limitspec"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
	pkgerrors "github.com/sage-x-project/sage-ratelimit/pkg/errors"
)

func newTestResolver() (*Resolver, *store.MemoryGateway) {
	gw := store.NewMemoryGateway()
	c := cache.NewMemoryCache(cache.DefaultCacheConfig())
	return New(gw, "ns1", c, 2*time.Second), gw
}

func TestResolve_ExplicitWithoutUseStored_NoStoreRead(t *testing.T) {
	r, _ := newTestResolver()
	explicit := []limitspec.Limit{limitspec.PerMinute("rpm", 5)}

	got, err := r.Resolve(context.Background(), "e1", "api", explicit, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got.Limits) != 1 || got.Limits[0].Name != "rpm" {
		t.Fatalf("Limits = %+v, want explicit rpm", got.Limits)
	}
}

func TestResolve_FallsThroughEntityThenResourceThenSystem(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	if err := r.SetSystemDefaults(ctx, Record{Limits: []limitspec.Limit{limitspec.PerMinute("rpm", 5)}}); err != nil {
		t.Fatalf("SetSystemDefaults() error = %v", err)
	}

	got, err := r.Resolve(ctx, "e1", "api", nil, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got.Limits) != 1 || got.Limits[0].Capacity != 5 {
		t.Fatalf("Limits = %+v, want system rpm=5", got.Limits)
	}

	if err := r.SetResourceDefaults(ctx, "api", Record{Limits: []limitspec.Limit{limitspec.PerMinute("rpm", 20)}}); err != nil {
		t.Fatalf("SetResourceDefaults() error = %v", err)
	}
	got, err = r.Resolve(ctx, "e1", "api", nil, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Limits[0].Capacity != 20 {
		t.Fatalf("Capacity = %d, want 20 (resource overrides system)", got.Limits[0].Capacity)
	}

	if err := r.SetEntityResourceLimits(ctx, "e1", "api", Record{Limits: []limitspec.Limit{limitspec.PerMinute("rpm", 100)}}); err != nil {
		t.Fatalf("SetEntityResourceLimits() error = %v", err)
	}
	got, err = r.Resolve(ctx, "e1", "api", nil, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Limits[0].Capacity != 100 {
		t.Fatalf("Capacity = %d, want 100 (entity overrides resource)", got.Limits[0].Capacity)
	}
}

func TestResolve_OnUnavailableMergesFromSystem(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	if err := r.SetSystemDefaults(ctx, Record{OnUnavailable: limitspec.Allow}); err != nil {
		t.Fatalf("SetSystemDefaults() error = %v", err)
	}
	if err := r.SetResourceDefaults(ctx, "api", Record{Limits: []limitspec.Limit{limitspec.PerMinute("rpm", 5)}}); err != nil {
		t.Fatalf("SetResourceDefaults() error = %v", err)
	}

	got, err := r.Resolve(ctx, "e1", "api", nil, false)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.OnUnavailable != limitspec.Allow {
		t.Errorf("OnUnavailable = %v, want allow (merged from system)", got.OnUnavailable)
	}
}

func TestResolve_AllAbsentNoExplicit_LimitsUnavailable(t *testing.T) {
	r, _ := newTestResolver()

	_, err := r.Resolve(context.Background(), "e1", "api", nil, false)
	if !errors.Is(err, pkgerrors.ErrLimitsUnavailable) {
		t.Fatalf("err = %v, want ErrLimitsUnavailable", err)
	}
}

func TestResolve_AllAbsentWithExplicitFallback(t *testing.T) {
	r, _ := newTestResolver()
	explicit := []limitspec.Limit{limitspec.PerMinute("rpm", 5)}

	got, err := r.Resolve(context.Background(), "e1", "api", explicit, true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got.Limits) != 1 {
		t.Fatalf("Limits = %+v, want fallback to explicit", got.Limits)
	}
}

func TestResolve_CacheServesSecondLookupWithoutStoreRead(t *testing.T) {
	r, gw := newTestResolver()
	ctx := context.Background()

	if err := r.SetSystemDefaults(ctx, Record{Limits: []limitspec.Limit{limitspec.PerMinute("rpm", 5)}}); err != nil {
		t.Fatalf("SetSystemDefaults() error = %v", err)
	}
	if _, err := r.Resolve(ctx, "e1", "api", nil, false); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}

	// Mutate the store directly, bypassing invalidation; the cached
	// value should still be served until TTL expiry.
	_ = gw.PutItem(ctx, "ns1/SYSTEM#", "#CONFIG", store.Item{"l_rpm_cp": int64(999), "l_rpm_br": int64(999), "l_rpm_ra": int64(999), "l_rpm_rp": int64(60000)}, nil)

	got, err := r.Resolve(ctx, "e1", "api", nil, false)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if got.Limits[0].Capacity != 5 {
		t.Errorf("Capacity = %d, want 5 (stale cache should still be served)", got.Limits[0].Capacity)
	}
}
