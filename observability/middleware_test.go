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

package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sage-x-project/sage-ratelimit/observability/logging"
	"github.com/sage-x-project/sage-ratelimit/observability/metrics"
)

func TestNewAcquireMiddleware(t *testing.T) {
	logger := logging.NewStructuredLogger(logging.LevelInfo)
	collector := metrics.NewPrometheusCollector()
	rlMetrics := metrics.NewRateLimitMetrics(collector)

	mw := NewAcquireMiddleware(logger, rlMetrics, "acme")

	if mw == nil {
		t.Fatal("expected non-nil middleware")
	}
	if mw.namespace != "acme" {
		t.Errorf("expected namespace %s, got %s", "acme", mw.namespace)
	}
}

func TestAcquireMiddleware_Wrap_Allowed(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewStructuredLoggerWithOutput(logging.LevelInfo, &buf)
	collector := metrics.NewPrometheusCollector()
	rlMetrics := metrics.NewRateLimitMetrics(collector)
	mw := NewAcquireMiddleware(logger, rlMetrics, "acme")

	allowed, retryAfter, err := mw.Wrap(context.Background(), "api", "rpm", func(ctx context.Context) (bool, float64, error) {
		return true, 0, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected allowed = true")
	}
	if retryAfter != 0 {
		t.Errorf("expected retryAfter 0, got %v", retryAfter)
	}
	if buf.Len() == 0 {
		t.Error("expected logs to be written")
	}
}

func TestAcquireMiddleware_Wrap_Denied(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewStructuredLoggerWithOutput(logging.LevelInfo, &buf)
	collector := metrics.NewPrometheusCollector()
	rlMetrics := metrics.NewRateLimitMetrics(collector)
	mw := NewAcquireMiddleware(logger, rlMetrics, "acme")

	allowed, retryAfter, err := mw.Wrap(context.Background(), "api", "rpm", func(ctx context.Context) (bool, float64, error) {
		return false, 1.5, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected allowed = false")
	}
	if retryAfter != 1.5 {
		t.Errorf("expected retryAfter 1.5, got %v", retryAfter)
	}

	logs := buf.String()
	if logs == "" {
		t.Error("expected denial logs to be written")
	}
}

func TestAcquireMiddleware_Wrap_TransportError(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewStructuredLoggerWithOutput(logging.LevelInfo, &buf)
	collector := metrics.NewPrometheusCollector()
	rlMetrics := metrics.NewRateLimitMetrics(collector)
	mw := NewAcquireMiddleware(logger, rlMetrics, "acme")

	wantErr := errors.New("store unavailable")
	_, _, err := mw.Wrap(context.Background(), "api", "rpm", func(ctx context.Context) (bool, float64, error) {
		return false, 0, wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("expected error %v, got %v", wantErr, err)
	}

	logs := buf.String()
	if logs == "" {
		t.Error("expected error logs to be written")
	}
}
