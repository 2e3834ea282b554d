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

// Package logging provides structured logging with context propagation for
// the rate limiter.
//
// # Overview
//
// This package provides structured logging with:
//   - Multiple log levels (DEBUG, INFO, WARN, ERROR, FATAL)
//   - JSON output (there is no text format)
//   - Context-aware logging (request ID, trace ID, namespace, entity ID)
//   - Log sampling for high-volume scenarios
//   - Field-based structured data
//
// # Basic Usage
//
//	logger := logging.NewStructuredLogger(logging.LevelInfo)
//
//	logger.Info(ctx, "acquire resolved",
//	    logging.String("namespace", "acme"),
//	    logging.Int("duration_ms", 42),
//	)
//
// # Context Propagation
//
// Automatically extract context values:
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	ctx = logging.WithTraceID(ctx, "trace-456")
//	ctx = logging.WithNamespace(ctx, "acme")
//
//	logger.Info(ctx, "processing acquire")
//	// Output: {"timestamp":"...","level":"info","message":"processing acquire","request_id":"req-123","trace_id":"trace-456","namespace":"acme"}
//
// # Log Levels
//
//	logger.Debug(ctx, "detailed debug info")
//	logger.Info(ctx, "informational message")
//	logger.Warn(ctx, "warning message")
//	logger.Error(ctx, "error occurred", logging.Error(err))
//	logger.Fatal(ctx, "fatal error")  // Calls os.Exit(1)
//
// # Structured Fields
//
//	logger.Info(ctx, "acquire denied",
//	    logging.String("entity_id", "tenant-123"),
//	    logging.Int("available", 0),
//	    logging.Float64("retry_after_sec", 0.523),
//	    logging.Bool("parent_breach", false),
//	    logging.Error(err),
//	    logging.Any("violations", violations),
//	)
//
// # Log Sampling
//
// Sample debug logs for performance:
//
//	logger := logging.NewStructuredLogger(logging.LevelDebug)
//	logger.SetSamplingRate(0.1)  // Sample 10% of debug logs
//
//	for i := 0; i < 1000; i++ {
//	    logger.Debug(ctx, "debug message")  // Only ~100 will be logged
//	}
//
// # With Fields
//
// Add persistent fields to all logs:
//
//	nsLogger := logger.With(
//	    logging.String("namespace", "acme"),
//	    logging.String("store_backend", "dynamodb"),
//	)
//
//	nsLogger.Info(ctx, "limiter started") // Includes namespace and store_backend
//	nsLogger.Info(ctx, "limiter stopped") // Includes namespace and store_backend
//
// # Output Format
//
// Every entry is written as one JSON object:
//
//	{"timestamp":"2025-10-08T10:30:00Z","level":"info","message":"hello","namespace":"acme"}
package logging
