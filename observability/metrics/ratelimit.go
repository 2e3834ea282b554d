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

package metrics

const (
	MetricAcquiresTotal   = "ratelimit_acquires_total"
	MetricAcquireDuration = "ratelimit_acquire_duration_seconds"
	MetricConflictRetries = "ratelimit_conflict_retries_total"
	MetricTransportErrors = "ratelimit_transport_errors_total"
	MetricCacheHits       = "ratelimit_cache_hits_total"
	MetricCacheMisses     = "ratelimit_cache_misses_total"
	MetricOnUnavailable   = "ratelimit_on_unavailable_total"
)

// RateLimitMetrics provides the acquire-engine-specific metric
// families named in the component's observability design: allowed vs.
// denied acquires per (resource, limit), conflict retries, store
// transport errors, and config-resolver cache hit/miss rates.
type RateLimitMetrics struct {
	collector Collector
}

// NewRateLimitMetrics wraps collector with the rate limiter's metric
// vocabulary.
func NewRateLimitMetrics(collector Collector) *RateLimitMetrics {
	return &RateLimitMetrics{collector: collector}
}

// RecordAcquire records one Acquire outcome for (resource, limitName).
func (m *RateLimitMetrics) RecordAcquire(resource, limitName string, allowed bool, duration float64) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	labels := NewLabels("resource", resource, "limit", limitName, "outcome", outcome)
	m.collector.IncrementCounter(MetricAcquiresTotal, labels)
	m.collector.ObserveHistogram(MetricAcquireDuration, duration, labels)
}

// RecordConflictRetry records one transaction-conflict retry for
// (resource, limitName).
func (m *RateLimitMetrics) RecordConflictRetry(resource, limitName string) {
	m.collector.IncrementCounter(MetricConflictRetries, NewLabels("resource", resource, "limit", limitName))
}

// RecordTransportError records a store gateway transient failure.
func (m *RateLimitMetrics) RecordTransportError(op string) {
	m.collector.IncrementCounter(MetricTransportErrors, NewLabels("op", op))
}

// RecordCacheHit records a config-resolver cache hit for the given
// scope ("system", "resource", "entity-resource").
func (m *RateLimitMetrics) RecordCacheHit(scope string) {
	m.collector.IncrementCounter(MetricCacheHits, NewLabels("scope", scope))
}

// RecordCacheMiss records a config-resolver cache miss for scope.
func (m *RateLimitMetrics) RecordCacheMiss(scope string) {
	m.collector.IncrementCounter(MetricCacheMisses, NewLabels("scope", scope))
}

// RecordOnUnavailable records an on_unavailable fallback decision for
// (resource, policy).
func (m *RateLimitMetrics) RecordOnUnavailable(resource, policy string) {
	m.collector.IncrementCounter(MetricOnUnavailable, NewLabels("resource", resource, "policy", policy))
}
