// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRateLimitMetrics(t *testing.T) {
	collector := NewPrometheusCollector()
	m := NewRateLimitMetrics(collector)
	if m == nil {
		t.Fatal("NewRateLimitMetrics() returned nil")
	}
}

func TestRecordAcquire(t *testing.T) {
	collector := NewPrometheusCollector()
	m := NewRateLimitMetrics(collector)

	m.RecordAcquire("api", "rpm", true, 0.002)
	m.RecordAcquire("api", "rpm", false, 0.001)

	body := scrape(collector)
	if !strings.Contains(body, MetricAcquiresTotal) {
		t.Error("acquires_total metric not found")
	}
	if !strings.Contains(body, `outcome="allowed"`) {
		t.Error("allowed outcome label not found")
	}
	if !strings.Contains(body, `outcome="denied"`) {
		t.Error("denied outcome label not found")
	}
}

func TestRecordConflictRetry(t *testing.T) {
	collector := NewPrometheusCollector()
	m := NewRateLimitMetrics(collector)

	m.RecordConflictRetry("api", "rpm")

	body := scrape(collector)
	if !strings.Contains(body, MetricConflictRetries) {
		t.Error("conflict_retries_total metric not found")
	}
}

func TestRecordCacheHitAndMiss(t *testing.T) {
	collector := NewPrometheusCollector()
	m := NewRateLimitMetrics(collector)

	m.RecordCacheHit("entity-resource")
	m.RecordCacheMiss("entity-resource")

	body := scrape(collector)
	if !strings.Contains(body, MetricCacheHits) {
		t.Error("cache_hits_total metric not found")
	}
	if !strings.Contains(body, MetricCacheMisses) {
		t.Error("cache_misses_total metric not found")
	}
}

func TestRecordOnUnavailable(t *testing.T) {
	collector := NewPrometheusCollector()
	m := NewRateLimitMetrics(collector)

	m.RecordOnUnavailable("api", "deny")

	body := scrape(collector)
	if !strings.Contains(body, MetricOnUnavailable) {
		t.Error("on_unavailable_total metric not found")
	}
	if !strings.Contains(body, `policy="deny"`) {
		t.Error("policy label not found")
	}
}

func scrape(c Collector) string {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)
	return w.Body.String()
}
