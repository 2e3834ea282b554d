// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"time"

	"github.com/sage-x-project/sage-ratelimit/internal/limitspec"
)

// Limit is an immutable named limit shape: a capacity, a burst ceiling,
// and a refill rate expressed as an amount per period. Construct one
// with PerSecond/PerMinute/PerHour/PerDay, or build the struct directly
// for a custom shape.
type Limit = limitspec.Limit

// OnUnavailable controls acquire behavior when no limits can be
// resolved and the caller passed none explicitly.
type OnUnavailable = limitspec.OnUnavailable

const (
	// Deny fails the acquire with LimitsUnavailable. Default.
	Deny = limitspec.Deny

	// Allow bypasses the acquire instead of failing the caller.
	Allow = limitspec.Allow
)

// PerSecond, PerMinute, PerHour and PerDay build the common limit
// shapes where refill_amount equals capacity and burst defaults to
// capacity; chain WithBurst to raise the burst ceiling.
func PerSecond(name string, n int64) Limit { return limitspec.PerSecond(name, n) }
func PerMinute(name string, n int64) Limit { return limitspec.PerMinute(name, n) }
func PerHour(name string, n int64) Limit   { return limitspec.PerHour(name, n) }
func PerDay(name string, n int64) Limit    { return limitspec.PerDay(name, n) }

// Custom builds an arbitrary limit shape.
func Custom(name string, capacity, burst, refillAmount int64, refillPeriod time.Duration) Limit {
	return Limit{
		Name:         name,
		Capacity:     capacity,
		Burst:        burst,
		RefillAmount: refillAmount,
		RefillPeriod: refillPeriod,
	}
}
