// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"context"
	"fmt"
)

// AcquireArgs bundles the parameters of one Acquire call for use with
// Do, which otherwise would need its own long parameter list.
type AcquireArgs struct {
	EntityID string
	Resource string
	Amounts  map[string]int64
	Opts     []AcquireOption
}

// Do acquires a lease for args and runs fn against it as a scoped
// block: fn is expected to call lease.Adjust with the post-hoc
// reconciliation amount (the canonical pattern being an LLM call whose
// true token count is only known after it returns) before returning.
// Do guarantees the lease's scope closes on every exit from fn,
// including a panic, which it recovers and reports as an error instead
// of letting it unwind past an open lease. It adds no new semantics
// over Acquire/Adjust.
func Do(ctx context.Context, limiter *Limiter, args AcquireArgs, fn func(*Lease) error) (err error) {
	lease, aerr := limiter.Acquire(ctx, args.EntityID, args.Resource, args.Amounts, args.Opts...)
	if aerr != nil {
		return aerr
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ratelimit: do: recovered panic: %v", r)
		}
		lease.close()
	}()

	return fn(lease)
}
