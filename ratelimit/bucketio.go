// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"github.com/sage-x-project/sage-ratelimit/internal/bucket"
	"github.com/sage-x-project/sage-ratelimit/internal/keyspace"
	"github.com/sage-x-project/sage-ratelimit/internal/store"
)

// ttlPeriods is the number of refill periods a bucket's TTL is
// refreshed to on every write (k >= 2 per the spec, default ~10).
const ttlPeriods = 10

func bucketStateFromItem(item store.Item) (bucket.State, bool) {
	if item == nil {
		return bucket.State{}, false
	}
	get := func(attr string) int64 {
		switch n := item[attr].(type) {
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
	return bucket.State{
		TokensMilli:    get(keyspace.BucketAttr.TokensMilli),
		LastRefillMs:   get(keyspace.BucketAttr.LastRefillMs),
		CapacityMilli:  get(keyspace.BucketAttr.CapacityMilli),
		BurstMilli:     get(keyspace.BucketAttr.BurstMilli),
		RefillAmtMilli: get(keyspace.BucketAttr.RefillAmtMilli),
		RefillPeriodMs: get(keyspace.BucketAttr.RefillPeriodMs),
	}, true
}

func bucketStateToItem(s bucket.State) store.Item {
	ttlMs := s.RefillPeriodMs * ttlPeriods
	if ttlMs <= 0 {
		ttlMs = 60_000 * ttlPeriods
	}
	return store.Item{
		keyspace.BucketAttr.TokensMilli:    s.TokensMilli,
		keyspace.BucketAttr.LastRefillMs:   s.LastRefillMs,
		keyspace.BucketAttr.CapacityMilli:  s.CapacityMilli,
		keyspace.BucketAttr.BurstMilli:     s.BurstMilli,
		keyspace.BucketAttr.RefillAmtMilli: s.RefillAmtMilli,
		keyspace.BucketAttr.RefillPeriodMs: s.RefillPeriodMs,
		keyspace.BucketAttr.TTL:            keyspace.TTLSeconds(s.LastRefillMs + ttlMs),
	}
}

func freshState(l Limit, nowMs int64) bucket.State {
	return bucket.Fresh(l.CapacityMilli(), l.BurstMilli(), l.RefillAmountMilli(), l.RefillPeriodMs(), nowMs)
}
