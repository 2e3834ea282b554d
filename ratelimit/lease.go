// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/sage-ratelimit/internal/bucket"
	"github.com/sage-x-project/sage-ratelimit/internal/keyspace"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
)

// bucketRef identifies one bucket touched by an acquire or adjust: the
// owning entity, which side of a cascade it belongs to, and the limit
// shape used to materialize it if it didn't already exist.
type bucketRef struct {
	Side     Side
	EntityID string
	PK, SK   string
	Shape    Limit
}

// Lease is returned by Acquire. It holds the running net consumption
// for the acquire's buckets and exposes Adjust for post-hoc
// reconciliation. There is no explicit release: buckets refill on
// their own, so adjust is the only correction primitive.
type Lease struct {
	mu       sync.Mutex
	lim      *Limiter
	entityID string
	parentID string
	cascade  bool
	resource string
	refs     map[string][]bucketRef // limit name -> refs touched so far
	consumed map[string]int64
	closed   bool // set by Do once its scope has exited
}

// Resource returns the resource this lease was acquired against.
func (ls *Lease) Resource() string { return ls.resource }

// Consumed returns a snapshot of the net amount consumed per limit
// name over the lease's lifetime, including the initial acquire and
// every subsequent Adjust.
func (ls *Lease) Consumed() map[string]int64 {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	out := make(map[string]int64, len(ls.consumed))
	for k, v := range ls.consumed {
		out[k] = v
	}
	return out
}

// Adjust applies a signed correction to one or more limits via
// force-consume: it never fails on capacity, and may drive a bucket
// negative. Adjusting a limit name that was not part of the original
// acquire is permitted if its shape can be resolved from the entity's
// effective config; an existing bucket without a resolvable shape is
// not enough, and the Adjust fails.
func (ls *Lease) Adjust(ctx context.Context, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.closed {
		return fmt.Errorf("ratelimit: adjust: lease scope already closed")
	}

	nowMs := time.Now().UnixMilli()

	var ops []store.WriteOp
	applied := make(map[string]int64, len(deltas))

	for name, delta := range deltas {
		refs, err := ls.refsForLimit(ctx, name)
		if err != nil {
			return err
		}

		for _, ref := range refs {
			existing, err := ls.lim.gw.GetItem(ctx, ref.PK, ref.SK)
			var state bucket.State
			if err == store.ErrNotFound {
				state = freshState(ref.Shape, nowMs)
			} else if err != nil {
				return fmt.Errorf("ratelimit: adjust: read bucket: %w", err)
			} else {
				state, _ = bucketStateFromItem(existing)
			}

			next := bucket.ForceConsume(state, delta, nowMs)
			ops = append(ops, store.WriteOp{
				Kind: store.OpPut,
				Key:  store.Key{PK: ref.PK, SK: ref.SK},
				Item: bucketStateToItem(next),
			})
		}
		applied[name] = delta
	}

	if err := ls.lim.gw.TransactWrite(ctx, ops); err != nil {
		return fmt.Errorf("ratelimit: adjust: commit: %w", err)
	}

	for name, delta := range applied {
		ls.consumed[name] += delta
	}
	return nil
}

// close marks the lease's scope as exited: every Adjust after this
// point fails instead of silently writing past the end of a Do block.
func (ls *Lease) close() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.closed = true
}

// refsForLimit returns the previously-touched refs for a limit name,
// resolving a fresh set from the entity's effective config when the
// name was not part of the original acquire.
func (ls *Lease) refsForLimit(ctx context.Context, name string) ([]bucketRef, error) {
	if refs, ok := ls.refs[name]; ok {
		return refs, nil
	}

	resolved, err := ls.lim.resolver.Resolve(ctx, ls.entityID, ls.resource, nil, true)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: adjust: limit %q not in original acquire and not resolvable: %w", name, err)
	}

	var refs []bucketRef
	for _, shape := range resolved.Limits {
		if shape.Name != name {
			continue
		}
		refs = append(refs, bucketRef{
			Side:     SideSelf,
			EntityID: ls.entityID,
			PK:       keyspace.PKEntity(ls.lim.ns, ls.entityID),
			SK:       keyspace.SKBucket(ls.resource, name),
			Shape:    shape,
		})
	}

	if ls.cascade && ls.parentID != "" {
		parentResolved, err := ls.lim.resolver.Resolve(ctx, ls.parentID, ls.resource, nil, true)
		if err == nil {
			for _, shape := range parentResolved.Limits {
				if shape.Name != name {
					continue
				}
				refs = append(refs, bucketRef{
					Side:     SideParent,
					EntityID: ls.parentID,
					PK:       keyspace.PKEntity(ls.lim.ns, ls.parentID),
					SK:       keyspace.SKBucket(ls.resource, name),
					Shape:    shape,
				})
			}
		}
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("ratelimit: adjust: limit %q not in original acquire and its shape could not be resolved", name)
	}

	ls.refs[name] = refs
	return refs, nil
}
