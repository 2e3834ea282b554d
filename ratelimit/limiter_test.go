// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/sage-x-project/sage-ratelimit/internal/store"
	pkgerrors "github.com/sage-x-project/sage-ratelimit/pkg/errors"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	lim, err := New(store.NewMemoryGateway())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return lim
}

func TestNew_RegistersDefaultNamespace(t *testing.T) {
	lim := newTestLimiter(t)
	if lim.nsName != "default" || lim.ns != "default" {
		t.Fatalf("expected default namespace, got ns=%q nsName=%q", lim.ns, lim.nsName)
	}
}

func TestNamespace_ScopesIndependently(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	acme, err := lim.Namespace(ctx, "acme")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}
	if acme.ns == lim.ns {
		t.Fatalf("scoped namespace should get its own id, got %q == %q", acme.ns, lim.ns)
	}

	if err := lim.SetSystemDefaults(ctx, []Limit{PerMinute("rpm", 5)}, Deny); err != nil {
		t.Fatalf("SetSystemDefaults(default): %v", err)
	}
	if err := acme.SetSystemDefaults(ctx, []Limit{PerMinute("rpm", 50)}, Deny); err != nil {
		t.Fatalf("SetSystemDefaults(acme): %v", err)
	}

	defLimits, _, err := lim.GetSystemDefaults(ctx)
	if err != nil {
		t.Fatalf("GetSystemDefaults(default): %v", err)
	}
	acmeLimits, _, err := acme.GetSystemDefaults(ctx)
	if err != nil {
		t.Fatalf("GetSystemDefaults(acme): %v", err)
	}

	if len(defLimits) != 1 || defLimits[0].Capacity != 5 {
		t.Fatalf("default namespace limits leaked or wrong: %+v", defLimits)
	}
	if len(acmeLimits) != 1 || acmeLimits[0].Capacity != 50 {
		t.Fatalf("acme namespace limits leaked or wrong: %+v", acmeLimits)
	}
}

func TestNamespace_SameNameReturnsSameScope(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	a, err := lim.Namespace(ctx, "acme")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}
	b, err := lim.Namespace(ctx, "acme")
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}
	if a.ns != b.ns {
		t.Fatalf("expected same scoped id for repeated Namespace(\"acme\"), got %q and %q", a.ns, b.ns)
	}
}

func TestNamespace_RejectsReservedNames(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	if _, err := lim.Namespace(ctx, "_internal"); !errors.Is(err, pkgerrors.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName for reserved namespace, got %v", err)
	}
}

func TestNamespace_RejectsInvalidNames(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()

	if _, err := lim.Namespace(ctx, "has a space"); !errors.Is(err, pkgerrors.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName for malformed namespace name, got %v", err)
	}
}

func TestHealthy_ReportsStoreReachability(t *testing.T) {
	lim := newTestLimiter(t)
	if !lim.Healthy(context.Background(), 0) {
		t.Fatalf("expected memory-backed store to be reachable")
	}
}
