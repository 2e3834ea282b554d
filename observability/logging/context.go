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

package logging

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
	namespaceKey contextKey = "namespace"
	entityIDKey  contextKey = "entity_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if v := ctx.Value(traceIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithSpanID adds a span ID to the context.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

// GetSpanID retrieves the span ID from the context.
func GetSpanID(ctx context.Context) string {
	if v := ctx.Value(spanIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithNamespace adds a rate-limiter namespace to the context.
func WithNamespace(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, namespaceKey, namespace)
}

// GetNamespace retrieves the namespace from the context.
func GetNamespace(ctx context.Context) string {
	if v := ctx.Value(namespaceKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithEntityID adds an entity ID to the context.
func WithEntityID(ctx context.Context, entityID string) context.Context {
	return context.WithValue(ctx, entityIDKey, entityID)
}

// GetEntityID retrieves the entity ID from the context.
func GetEntityID(ctx context.Context) string {
	if v := ctx.Value(entityIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// extractContextFields extracts all known context fields.
func extractContextFields(ctx context.Context) []Field {
	fields := make([]Field, 0, 5)

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, String("request_id", requestID))
	}

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, String("trace_id", traceID))
	}

	if spanID := GetSpanID(ctx); spanID != "" {
		fields = append(fields, String("span_id", spanID))
	}

	if namespace := GetNamespace(ctx); namespace != "" {
		fields = append(fields, String("namespace", namespace))
	}

	if entityID := GetEntityID(ctx); entityID != "" {
		fields = append(fields, String("entity_id", entityID))
	}

	return fields
}
