// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sage-x-project/sage-ratelimit/core/resilience"
	"github.com/sage-x-project/sage-ratelimit/internal/bucket"
	"github.com/sage-x-project/sage-ratelimit/internal/keyspace"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
	pkgerrors "github.com/sage-x-project/sage-ratelimit/pkg/errors"
)

// AcquireOptions configures one Acquire call.
type AcquireOptions struct {
	// RequireEntity rejects the call with ErrEntityNotFound instead of
	// auto-creating a bare entity record when entityID is unseen.
	RequireEntity bool

	// ExplicitLimits bypasses the configured limit shapes entirely --
	// no store read or cache lookup occurs for config resolution --
	// unless UseStoredLimits is also set, in which case they instead
	// serve only as the fallback if stored config can't be resolved.
	ExplicitLimits []Limit

	// UseStoredLimits forces config resolution against the store even
	// when ExplicitLimits is non-empty, so ExplicitLimits is used only
	// as a fallback (store config absent, or the store unreachable and
	// the effective on_unavailable policy is allow) rather than always
	// winning outright.
	UseStoredLimits bool
}

// AcquireOption configures an Acquire call.
type AcquireOption func(*AcquireOptions)

// WithRequireEntity rejects Acquire for an unknown entity instead of
// auto-creating it.
func WithRequireEntity() AcquireOption {
	return func(o *AcquireOptions) { o.RequireEntity = true }
}

// WithExplicitLimits supplies the limit shapes directly, skipping
// config resolution entirely unless WithUseStoredLimits is also given.
func WithExplicitLimits(limits ...Limit) AcquireOption {
	return func(o *AcquireOptions) { o.ExplicitLimits = limits }
}

// WithUseStoredLimits resolves config against the store even when
// ExplicitLimits is set, demoting ExplicitLimits to a fallback used
// only if the store has no config or is unreachable.
func WithUseStoredLimits() AcquireOption {
	return func(o *AcquireOptions) { o.UseStoredLimits = true }
}

// touchedBucket is one bucket key Acquire will read, try-consume, and
// (on success) write back in the same transaction.
type touchedBucket struct {
	PK, SK    string
	Side      Side
	EntityID  string
	LimitName string
	Shape     Limit
	Amount    int64
}

// Acquire tries to consume amounts (limit name -> whole tokens) from
// entityID's buckets for resource in one all-or-nothing transaction.
// A cascading entity (Cascade=true with a parent) also consumes any
// matching limit names from its parent's buckets in the same
// transaction. On success it returns a Lease for later reconciliation
// via Adjust; on insufficient tokens anywhere in the touched set it
// returns a *RateLimitExceededError and mutates nothing.
func (l *Limiter) Acquire(ctx context.Context, entityID, resource string, amounts map[string]int64, opts ...AcquireOption) (*Lease, error) {
	var o AcquireOptions
	for _, opt := range opts {
		opt(&o)
	}
	if len(amounts) == 0 {
		return nil, fmt.Errorf("ratelimit: acquire: amounts must not be empty")
	}
	if len(amounts) > l.cfg.MaxLimitsPerAcquire {
		return nil, fmt.Errorf("ratelimit: acquire: %d limits exceeds the %d-limit ceiling", len(amounts), l.cfg.MaxLimitsPerAcquire)
	}

	var lease *Lease
	timeoutCfg := &resilience.TimeoutConfig{Duration: l.cfg.AcquireDeadline}
	runErr := resilience.WithTimeout(ctx, timeoutCfg, func(ctx context.Context) error {
		l2, err := l.acquireWithinDeadline(ctx, entityID, resource, amounts, o)
		if err != nil {
			return err
		}
		lease = l2
		return nil
	})
	if errors.Is(runErr, resilience.ErrTimeout) {
		return nil, fmt.Errorf("ratelimit: acquire: %w", pkgerrors.ErrTransport)
	}
	if runErr != nil {
		return nil, runErr
	}
	return lease, nil
}

// acquireWithinDeadline is the ten-step read-check-write body of
// Acquire, run inside the resilience.WithTimeout bound that enforces
// AcquireDeadline end to end.
func (l *Limiter) acquireWithinDeadline(ctx context.Context, entityID, resource string, amounts map[string]int64, o AcquireOptions) (*Lease, error) {
	entity, err := l.resolveOrCreateEntity(ctx, entityID, o.RequireEntity)
	if err != nil {
		return nil, err
	}
	cascade := entity.Cascade && entity.ParentID != ""

	useStored := o.UseStoredLimits || len(o.ExplicitLimits) == 0
	resolved, err := l.resolver.Resolve(ctx, entityID, resource, o.ExplicitLimits, useStored)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrLimitsUnavailable) {
			return nil, fmt.Errorf("ratelimit: acquire: resolve limits: %w", err)
		}
		// Resolve already folds an unresolvable explicit fallback into
		// this branch, so by now there genuinely is nothing to consume
		// against: apply the effective on_unavailable policy.
		if resolved.OnUnavailable != Allow {
			return nil, err
		}
		return emptyLease(l, entityID, entity.ParentID, cascade, resource), nil
	}

	shapeByName := limitsByName(resolved.Limits)

	var parentShapeByName map[string]Limit
	if cascade {
		parentResolved, perr := l.resolver.Resolve(ctx, entity.ParentID, resource, nil, true)
		if perr != nil && !errors.Is(perr, pkgerrors.ErrLimitsUnavailable) {
			return nil, fmt.Errorf("ratelimit: acquire: resolve parent limits: %w", perr)
		}
		parentShapeByName = limitsByName(parentResolved.Limits)
	}

	items := make([]touchedBucket, 0, len(amounts)*2)
	for name, amount := range amounts {
		shape, ok := shapeByName[name]
		if !ok {
			return nil, fmt.Errorf("ratelimit: acquire: %w: limit %q has no configured shape for resource %q", pkgerrors.ErrLimitsUnavailable, name, resource)
		}
		items = append(items, touchedBucket{
			PK: keyspace.PKEntity(l.ns, entityID), SK: keyspace.SKBucket(resource, name),
			Side: SideSelf, EntityID: entityID, LimitName: name, Shape: shape, Amount: amount,
		})
		if cascade {
			if pshape, ok := parentShapeByName[name]; ok {
				items = append(items, touchedBucket{
					PK: keyspace.PKEntity(l.ns, entity.ParentID), SK: keyspace.SKBucket(resource, name),
					Side: SideParent, EntityID: entity.ParentID, LimitName: name, Shape: pshape, Amount: amount,
				})
			}
		}
	}
	if len(items) > store.MaxBatchItems {
		return nil, fmt.Errorf("ratelimit: acquire: %d touched buckets exceeds the %d-item transaction ceiling", len(items), store.MaxBatchItems)
	}

	retryCfg := &resilience.RetryConfig{
		MaxAttempts: l.cfg.ConflictRetryMaxAttempts,
		Backoff:     resilience.ConstantBackoff(l.cfg.ConflictRetryBudget / time.Duration(l.cfg.ConflictRetryMaxAttempts)),
		ShouldRetry: func(err error) bool { return errors.Is(err, store.ErrConflict) },
	}

	var lease *Lease
	runErr := resilience.Retry(ctx, retryCfg, func(ctx context.Context) error {
		l2, err := l.tryAcquireOnce(ctx, entityID, entity.ParentID, cascade, resource, items)
		if err != nil {
			return err
		}
		lease = l2
		return nil
	})

	if runErr != nil {
		var exceeded *RateLimitExceededError
		if errors.As(runErr, &exceeded) {
			return nil, exceeded
		}
		// store.ErrUnavailable marks a gateway-side transport failure
		// (its own retry budget exhausted, or its breaker is open). It is
		// not retried here, so resilience.Retry returns it wrapped as a
		// non-retryable error; exhausted conflict retries come back as
		// ErrMaxAttemptsExceeded, which does not wrap the last ErrConflict.
		if errors.Is(runErr, store.ErrUnavailable) {
			return nil, fmt.Errorf("ratelimit: acquire: %w", pkgerrors.ErrTransport)
		}
		if errors.Is(runErr, store.ErrConflict) || errors.Is(runErr, resilience.ErrMaxAttemptsExceeded) {
			return nil, fmt.Errorf("ratelimit: acquire: %w", pkgerrors.ErrConflictExhausted)
		}
		return nil, fmt.Errorf("ratelimit: acquire: %w", pkgerrors.ErrTransport)
	}
	return lease, nil
}

// tryAcquireOnce is one attempt of the read-check-write cycle: batch
// read current snapshots, try-consume every touched bucket in memory,
// and, only if every one succeeds, commit a single conditional
// transaction. It never partially applies -- a single violation aborts
// before any write is attempted.
func (l *Limiter) tryAcquireOnce(ctx context.Context, entityID, parentID string, cascade bool, resource string, items []touchedBucket) (*Lease, error) {
	nowMs := time.Now().UnixMilli()

	keys := make([]store.Key, len(items))
	for i, it := range items {
		keys[i] = store.Key{PK: it.PK, SK: it.SK}
	}
	snapshots, err := l.gw.BatchGetItems(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("batch read: %w", err)
	}

	var violations []Violation
	ops := make([]store.WriteOp, 0, len(items))
	consumed := make(map[string]int64, len(items))
	refs := make(map[string][]bucketRef, len(items))

	for _, it := range items {
		key := store.Key{PK: it.PK, SK: it.SK}

		var state bucket.State
		var seenMs int64
		existed := false
		if item, ok := snapshots[key]; ok {
			state, _ = bucketStateFromItem(item)
			seenMs = state.LastRefillMs
			existed = true
		} else {
			state = freshState(it.Shape, nowMs)
		}

		result := bucket.TryConsume(state, it.Amount, nowMs)
		if !result.Success {
			violations = append(violations, Violation{
				EntityID:          it.EntityID,
				LimitName:         it.LimitName,
				Resource:          resource,
				Available:         result.AvailableTokens,
				RetryAfterSeconds: result.RetryAfterSecond,
				Side:              it.Side,
			})
			continue
		}

		cond := &store.Condition{
			Expression: "attribute_not_exists(PK) OR last_refill_ms = :seen_ms",
			Values:     map[string]interface{}{":seen_ms": seenMs},
		}
		if !existed {
			cond.Expression = "attribute_not_exists(PK)"
		}
		ops = append(ops, store.WriteOp{Kind: store.OpPut, Key: key, Item: bucketStateToItem(result.State), Condition: cond})
		consumed[it.LimitName] += it.Amount
		refs[it.LimitName] = append(refs[it.LimitName], bucketRef{
			Side: it.Side, EntityID: it.EntityID, PK: it.PK, SK: it.SK, Shape: it.Shape,
		})
	}

	if len(violations) > 0 {
		return nil, &RateLimitExceededError{Violations: violations, RetryAfterSeconds: maxRetryAfter(violations)}
	}

	if err := l.gw.TransactWrite(ctx, ops); err != nil {
		return nil, err
	}

	return &Lease{
		lim: l, entityID: entityID, parentID: parentID, cascade: cascade, resource: resource,
		refs: refs, consumed: consumed,
	}, nil
}

// Available returns the whole tokens currently available for
// (entityID, resource, limitName), without consuming anything. An
// entity or limit with no bucket yet reports its shape's full
// capacity.
func (l *Limiter) Available(ctx context.Context, entityID, resource, limitName string) (int64, error) {
	_, state, err := l.readBucketOrFresh(ctx, entityID, resource, limitName)
	if err != nil {
		return 0, err
	}
	return bucket.Available(state, time.Now().UnixMilli()), nil
}

// TimeUntilAvailable returns how long until amount whole tokens would
// be obtainable from (entityID, resource, limitName), without
// consuming anything. Zero means amount is available right now.
func (l *Limiter) TimeUntilAvailable(ctx context.Context, entityID, resource, limitName string, amount int64) (time.Duration, error) {
	_, state, err := l.readBucketOrFresh(ctx, entityID, resource, limitName)
	if err != nil {
		return 0, err
	}
	nowMs := time.Now().UnixMilli()
	result := bucket.TryConsume(state, amount, nowMs)
	if result.Success {
		return 0, nil
	}
	return time.Duration(result.RetryAfterSecond * float64(time.Second)), nil
}

// IsAvailable reports whether every limit in amounts currently has
// enough tokens for (entityID, resource), without consuming anything.
func (l *Limiter) IsAvailable(ctx context.Context, entityID, resource string, amounts map[string]int64) (bool, error) {
	nowMs := time.Now().UnixMilli()
	for name, amount := range amounts {
		_, state, err := l.readBucketOrFresh(ctx, entityID, resource, name)
		if err != nil {
			return false, err
		}
		if !bucket.TryConsume(state, amount, nowMs).Success {
			return false, nil
		}
	}
	return true, nil
}

func (l *Limiter) readBucketOrFresh(ctx context.Context, entityID, resource, limitName string) (Limit, bucket.State, error) {
	resolved, err := l.resolver.Resolve(ctx, entityID, resource, nil, true)
	if err != nil {
		return Limit{}, bucket.State{}, fmt.Errorf("ratelimit: resolve limits: %w", err)
	}
	shape, ok := limitsByName(resolved.Limits)[limitName]
	if !ok {
		return Limit{}, bucket.State{}, fmt.Errorf("ratelimit: %w: limit %q has no configured shape for resource %q", pkgerrors.ErrLimitsUnavailable, limitName, resource)
	}

	item, err := l.gw.GetItem(ctx, keyspace.PKEntity(l.ns, entityID), keyspace.SKBucket(resource, limitName))
	nowMs := time.Now().UnixMilli()
	if errors.Is(err, store.ErrNotFound) {
		return shape, freshState(shape, nowMs), nil
	}
	if err != nil {
		return Limit{}, bucket.State{}, fmt.Errorf("ratelimit: read bucket: %w", err)
	}
	state, _ := bucketStateFromItem(item)
	return shape, state, nil
}

// resolveOrCreateEntity fetches entityID's record, auto-creating a
// bare entity on first sight unless requireEntity is set. A race
// between two auto-creates is resolved by re-reading after losing a
// create to ErrEntityExists.
func (l *Limiter) resolveOrCreateEntity(ctx context.Context, entityID string, requireEntity bool) (Entity, error) {
	entity, err := l.GetEntity(ctx, entityID)
	if err == nil {
		return entity, nil
	}
	if !errors.Is(err, pkgerrors.ErrEntityNotFound) {
		return Entity{}, fmt.Errorf("ratelimit: acquire: resolve entity: %w", err)
	}
	if requireEntity {
		return Entity{}, err
	}

	created, cerr := l.CreateEntity(ctx, entityID, CreateEntityOptions{})
	if cerr == nil {
		return created, nil
	}
	if errors.Is(cerr, pkgerrors.ErrEntityExists) {
		return l.GetEntity(ctx, entityID)
	}
	return Entity{}, fmt.Errorf("ratelimit: acquire: auto-create entity: %w", cerr)
}

func emptyLease(l *Limiter, entityID, parentID string, cascade bool, resource string) *Lease {
	return &Lease{
		lim: l, entityID: entityID, parentID: parentID, cascade: cascade, resource: resource,
		refs: map[string][]bucketRef{}, consumed: map[string]int64{},
	}
}

func limitsByName(limits []Limit) map[string]Limit {
	m := make(map[string]Limit, len(limits))
	for _, l := range limits {
		m[l.Name] = l
	}
	return m
}

func maxRetryAfter(vs []Violation) float64 {
	var max float64
	for _, v := range vs {
		if v.RetryAfterSeconds > max {
			max = v.RetryAfterSeconds
		}
	}
	return max
}
