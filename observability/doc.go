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

// Package observability provides monitoring, logging, and health-check
// capabilities for a rate limiter deployment.
//
// # Overview
//
// This package enables observability for a running Limiter through:
//   - Metrics collection (Prometheus)
//   - Structured logging
//   - Liveness, readiness, and startup health checks
//
// # Metrics
//
// Collect and expose metrics for monitoring:
//
//	collector := metrics.NewPrometheusCollector()
//	rlMetrics := metrics.NewRateLimitMetrics(collector)
//
//	// Record an acquire outcome
//	rlMetrics.RecordAcquire("api", "rpm", true, 0.002)
//
//	// Expose metrics
//	http.Handle("/metrics", collector.Handler())
//
// # Logging
//
// Structured logging with context propagation:
//
//	logger := logging.NewStructuredLogger(logging.LevelInfo)
//
//	ctx := logging.WithRequestID(ctx, "req-123")
//	logger.Info(ctx, "acquire resolved",
//	    logging.String("namespace", "acme"),
//	    logging.Int("duration_ms", 42),
//	)
//
// # Health Checks
//
// Liveness, readiness, and startup probes:
//
//	liveness := health.NewLivenessChecker()
//	startup := health.NewStartupChecker()
//	readiness := health.NewReadinessChecker(startup)
//
//	http.Handle("/health/live", health.Handler(liveness))
//	http.Handle("/health/ready", health.Handler(readiness))
//
// # Manager
//
// Manager wires logging, metrics, and health checks together and mounts
// them on a single handler for a host application to serve:
//
//	manager, err := observability.NewManager(&observability.ManagerConfig{
//	    Namespace: "acme",
//	    Config:    observability.DefaultConfig(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Shutdown(context.Background())
//
//	mux.Handle("/", manager.HTTPHandler())
package observability
