// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/sage-x-project/sage-ratelimit/internal/keyspace"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
	pkgerrors "github.com/sage-x-project/sage-ratelimit/pkg/errors"
)

// faultyConfigGateway wraps a store.Gateway and fails every config-scope
// read (entity-resource and resource-default items) while still serving
// entity-meta and, optionally, system-default reads -- used to simulate
// a store that is down for some scopes of config resolution but not
// others, without having to fake a whole transport outage.
type faultyConfigGateway struct {
	store.Gateway
	ns          string
	allowSystem bool
}

func (g *faultyConfigGateway) GetItem(ctx context.Context, pk, sk string) (store.Item, error) {
	if sk == keyspace.SKMeta() {
		return g.Gateway.GetItem(ctx, pk, sk)
	}
	if g.allowSystem && pk == keyspace.PKSystem(g.ns) {
		return g.Gateway.GetItem(ctx, pk, sk)
	}
	return nil, fmt.Errorf("faultyConfigGateway: simulated outage: %w", store.ErrUnavailable)
}

func approxEqual(t *testing.T, got, want, tolerance float64) {
	t.Helper()
	if math.Abs(got-want) > tolerance {
		t.Fatalf("got %.4f, want %.4f +/- %.4f", got, want, tolerance)
	}
}

func TestAcquire_BasicConsumeThenExceeded(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	if err := lim.SetSystemDefaults(ctx, []Limit{PerMinute("rpm", 5)}, Deny); err != nil {
		t.Fatalf("SetSystemDefaults: %v", err)
	}

	for i := 0; i < 5; i++ {
		lease, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if lease.Consumed()["rpm"] != 1 {
			t.Fatalf("acquire %d: expected consumed=1, got %v", i, lease.Consumed())
		}
	}

	_, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
	var exceeded *RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RateLimitExceededError on 6th acquire, got %v", err)
	}
	if len(exceeded.Violations) != 1 || exceeded.Violations[0].LimitName != "rpm" {
		t.Fatalf("unexpected violations: %+v", exceeded.Violations)
	}
	approxEqual(t, exceeded.RetryAfterSeconds, 12.0, 0.1)
	if exceeded.RetryAfterHeader() != "12" {
		t.Fatalf("expected retry-after header 12, got %q", exceeded.RetryAfterHeader())
	}
}

func TestAcquire_MultiLimitPartialExceeded(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	limits := []Limit{PerMinute("rpm", 2), PerMinute("tpm", 1000)}
	if err := lim.SetSystemDefaults(ctx, limits, Deny); err != nil {
		t.Fatalf("SetSystemDefaults: %v", err)
	}

	if _, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1, "tpm": 100}); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1, "tpm": 100}); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	_, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1, "tpm": 100})
	var exceeded *RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if len(exceeded.Violations) != 1 || exceeded.Violations[0].LimitName != "rpm" {
		t.Fatalf("expected only rpm to violate, got %+v", exceeded.Violations)
	}
}

func TestAcquire_MultiLimitFailureMutatesNothing(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	limits := []Limit{PerMinute("rpm", 1), PerMinute("tpm", 1000)}
	if err := lim.SetSystemDefaults(ctx, limits, Deny); err != nil {
		t.Fatalf("SetSystemDefaults: %v", err)
	}

	// rpm capacity is 1; requesting 2 at once must fail and must not
	// touch the tpm bucket at all.
	_, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 2, "tpm": 500})
	var exceeded *RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}

	tpmAvailable, err := lim.Available(ctx, "user-1", "api", "tpm")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if tpmAvailable != 1000 {
		t.Fatalf("tpm bucket should be untouched by the failed transaction, got available=%d", tpmAvailable)
	}
}

func TestAcquire_CascadeBlockedByParent(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	if _, err := lim.CreateEntity(ctx, "team-1", CreateEntityOptions{}); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := lim.CreateEntity(ctx, "user-2", CreateEntityOptions{ParentID: "team-1", Cascade: true}); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := lim.SetLimits(ctx, "team-1", "api", []Limit{PerMinute("rpm", 2)}, Deny); err != nil {
		t.Fatalf("set parent limits: %v", err)
	}
	if err := lim.SetLimits(ctx, "user-2", "api", []Limit{PerMinute("rpm", 10)}, Deny); err != nil {
		t.Fatalf("set child limits: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := lim.Acquire(ctx, "user-2", "api", map[string]int64{"rpm": 1}); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	_, err := lim.Acquire(ctx, "user-2", "api", map[string]int64{"rpm": 1})
	var exceeded *RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RateLimitExceededError from exhausted parent bucket, got %v", err)
	}
	if len(exceeded.Violations) != 1 || exceeded.Violations[0].Side != SideParent || exceeded.Violations[0].EntityID != "team-1" {
		t.Fatalf("expected a single parent-side violation, got %+v", exceeded.Violations)
	}

	childAvailable, err := lim.Available(ctx, "user-2", "api", "rpm")
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if childAvailable != 8 {
		t.Fatalf("child's own bucket should still reflect 2 consumed (10-2=8), got %d", childAvailable)
	}
}

func TestAcquire_ConcurrentSameBucketExactlyOneSucceeds(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	if err := lim.SetSystemDefaults(ctx, []Limit{PerMinute("rpm", 1)}, Deny); err != nil {
		t.Fatalf("SetSystemDefaults: %v", err)
	}
	if _, err := lim.CreateEntity(ctx, "user-1", CreateEntityOptions{}); err != nil {
		t.Fatalf("create entity: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one of %d concurrent acquires to succeed against a 1-capacity bucket, got %d", n, count)
	}
}

func TestAcquire_NamespaceIsolation(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	acme, err := lim.Namespace(ctx, "acme")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}

	if err := lim.SetSystemDefaults(ctx, []Limit{PerMinute("rpm", 1)}, Deny); err != nil {
		t.Fatalf("SetSystemDefaults(default): %v", err)
	}
	if err := acme.SetSystemDefaults(ctx, []Limit{PerMinute("rpm", 1)}, Deny); err != nil {
		t.Fatalf("SetSystemDefaults(acme): %v", err)
	}

	if _, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1}); err != nil {
		t.Fatalf("default namespace acquire: %v", err)
	}
	// The same entity id in a different namespace must have its own,
	// still-full bucket.
	if _, err := acme.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1}); err != nil {
		t.Fatalf("acme namespace acquire should not see default namespace's consumption: %v", err)
	}

	var exceeded *RateLimitExceededError
	_, err = lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected default namespace's bucket to now be exhausted, got %v", err)
	}
}

func TestAcquire_OnUnavailableAllowBypassesWithEmptyLease(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	if err := lim.SetSystemDefaults(ctx, nil, Allow); err != nil {
		t.Fatalf("SetSystemDefaults: %v", err)
	}

	lease, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
	if err != nil {
		t.Fatalf("expected on_unavailable=allow to bypass, got %v", err)
	}
	if len(lease.Consumed()) != 0 {
		t.Fatalf("expected an empty lease, got consumed=%v", lease.Consumed())
	}
}

func TestAcquire_OnUnavailableDenyFailsByDefault(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	_, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
	if err == nil {
		t.Fatalf("expected LimitsUnavailable error, got nil")
	}
}

func TestAcquire_StoreUnavailableDuringResolveFallsOpenToExplicitLimits(t *testing.T) {
	ctx := context.Background()
	ns := "default"

	// The system scope must be writable up front (SetSystemDefaults
	// uses PutItem, which faultyConfigGateway never blocks), then reads
	// of the entity and resource scopes are cut off for the Acquire
	// call itself, leaving only the system scope's allow policy
	// resolvable.
	inner := store.NewMemoryGateway()
	lim, err := New(inner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := lim.SetSystemDefaults(ctx, nil, Allow); err != nil {
		t.Fatalf("SetSystemDefaults: %v", err)
	}
	if _, err := lim.CreateEntity(ctx, "user-1", CreateEntityOptions{}); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	lim, err = New(&faultyConfigGateway{Gateway: inner, ns: ns, allowSystem: true})
	if err != nil {
		t.Fatalf("New (faulty): %v", err)
	}

	lease, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1},
		WithExplicitLimits(PerMinute("rpm", 1)), WithUseStoredLimits())
	if err != nil {
		t.Fatalf("expected fallback to explicit limits on a resolve-time store outage, got %v", err)
	}
	if lease.Consumed()["rpm"] != 1 {
		t.Fatalf("expected explicit limits to actually be consumed against, got %v", lease.Consumed())
	}
}

func TestAcquire_StoreUnavailableDuringResolveFailsClosedWithoutExplicitLimits(t *testing.T) {
	ctx := context.Background()
	ns := "default"

	inner := store.NewMemoryGateway()
	lim, err := New(inner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := lim.CreateEntity(ctx, "user-1", CreateEntityOptions{}); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	lim, err = New(&faultyConfigGateway{Gateway: inner, ns: ns})
	if err != nil {
		t.Fatalf("New (faulty): %v", err)
	}

	_, err = lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1})
	if err == nil {
		t.Fatalf("expected a store outage with no explicit fallback and the default deny policy to fail")
	}
	if !errors.Is(err, pkgerrors.ErrLimitsUnavailable) {
		t.Fatalf("expected ErrLimitsUnavailable, got %v", err)
	}
}

func TestAcquire_ExplicitLimitsBypassConfig(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	lease, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1}, WithExplicitLimits(PerMinute("rpm", 1)))
	if err != nil {
		t.Fatalf("acquire with explicit limits: %v", err)
	}
	if lease.Consumed()["rpm"] != 1 {
		t.Fatalf("unexpected consumed: %v", lease.Consumed())
	}

	_, err = lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1}, WithExplicitLimits(PerMinute("rpm", 1)))
	var exceeded *RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected exhausted explicit-limit bucket, got %v", err)
	}
}

func TestAcquire_RequireEntityRejectsUnknown(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	_, err := lim.Acquire(ctx, "ghost", "api", map[string]int64{"rpm": 1}, WithRequireEntity(), WithExplicitLimits(PerMinute("rpm", 1)))
	if err == nil {
		t.Fatalf("expected an error for an unknown entity with RequireEntity set")
	}
}

func TestTimeUntilAvailable_MatchesViolationRetryAfter(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	if err := lim.SetSystemDefaults(ctx, []Limit{PerMinute("rpm", 5)}, Deny); err != nil {
		t.Fatalf("SetSystemDefaults: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := lim.Acquire(ctx, "user-1", "api", map[string]int64{"rpm": 1}); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	d, err := lim.TimeUntilAvailable(ctx, "user-1", "api", "rpm", 1)
	if err != nil {
		t.Fatalf("TimeUntilAvailable: %v", err)
	}
	approxEqual(t, d.Seconds(), 12.0, 0.1)

	ok, err := lim.IsAvailable(ctx, "user-1", "api", map[string]int64{"rpm": 1})
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if ok {
		t.Fatalf("expected IsAvailable to report false against an exhausted bucket")
	}
}

func TestAcquire_RejectsOversizedLimitSet(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()
	lim.cfg.MaxLimitsPerAcquire = 2

	amounts := map[string]int64{"a": 1, "b": 1, "c": 1}
	_, err := lim.Acquire(ctx, "user-1", "api", amounts)
	if err == nil {
		t.Fatalf("expected an error for a limit set exceeding MaxLimitsPerAcquire")
	}
}
