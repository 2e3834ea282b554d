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
	"context"
	"time"

	"github.com/sage-x-project/sage-ratelimit/observability/logging"
	"github.com/sage-x-project/sage-ratelimit/observability/metrics"
)

// AcquireMiddleware wraps a host application's call into the rate
// limiter's Acquire with logging and metrics, the way a host would wrap
// an inbound request handler.
type AcquireMiddleware struct {
	logger    logging.Logger
	metrics   *metrics.RateLimitMetrics
	namespace string
}

// NewAcquireMiddleware creates a new Acquire-wrapping middleware.
func NewAcquireMiddleware(logger logging.Logger, m *metrics.RateLimitMetrics, namespace string) *AcquireMiddleware {
	return &AcquireMiddleware{
		logger:    logger,
		metrics:   m,
		namespace: namespace,
	}
}

// Wrap calls acquire, logging the outcome and recording acquire-engine
// metrics for (resource, limitName). allowed, retryAfterSeconds, and err
// are passed through from acquire unchanged.
func (m *AcquireMiddleware) Wrap(ctx context.Context, resource, limitName string, acquire func(context.Context) (allowed bool, retryAfterSeconds float64, err error)) (bool, float64, error) {
	start := time.Now()

	ctx = logging.WithNamespace(ctx, m.namespace)

	allowed, retryAfterSeconds, err := acquire(ctx)
	duration := time.Since(start).Seconds()

	if err != nil {
		m.metrics.RecordTransportError(resource)
		m.logger.Error(ctx, "acquire failed",
			logging.String("resource", resource),
			logging.String("limit", limitName),
			logging.Error(err),
			logging.Float64("duration_sec", duration),
		)
		return allowed, retryAfterSeconds, err
	}

	m.metrics.RecordAcquire(resource, limitName, allowed, duration)

	if allowed {
		m.logger.Info(ctx, "acquire allowed",
			logging.String("resource", resource),
			logging.String("limit", limitName),
			logging.Float64("duration_sec", duration),
		)
	} else {
		m.logger.Warn(ctx, "acquire denied",
			logging.String("resource", resource),
			logging.String("limit", limitName),
			logging.Float64("retry_after_sec", retryAfterSeconds),
			logging.Float64("duration_sec", duration),
		)
	}

	return allowed, retryAfterSeconds, err
}
