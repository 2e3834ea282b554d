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

package errors

// Rate limit / acquire engine errors
var (
	// ErrRateLimitExceeded indicates a bucket had insufficient tokens and
	// the caller's deny policy rejected the request.
	ErrRateLimitExceeded = &Error{
		Category: CategoryRateLimit,
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "rate limit exceeded",
	}

	// ErrConflictExhausted indicates the acquire engine retried an
	// optimistic-concurrency conflict past its retry budget.
	ErrConflictExhausted = &Error{
		Category: CategoryConflict,
		Code:     "CONFLICT_EXHAUSTED",
		Message:  "bucket write conflict retry budget exhausted",
	}

	// ErrLimitsUnavailable indicates no limits could be resolved for the
	// requested entity/resource and on_unavailable=deny applied.
	ErrLimitsUnavailable = &Error{
		Category: CategoryRateLimit,
		Code:     "LIMITS_UNAVAILABLE",
		Message:  "no limits configured for entity/resource",
	}

	// ErrTransport indicates the store was unreachable or throttled past
	// the gateway's own transport retry budget (or its circuit breaker
	// is open) -- distinct from ErrConflictExhausted, which is raised
	// only by contention on the acquire engine's own conflict-retry
	// budget.
	ErrTransport = &Error{
		Category: CategoryNetwork,
		Code:     "TRANSPORT",
		Message:  "store unreachable or throttled past the retry budget",
	}
)

// Entity / namespace errors
var (
	// ErrEntityNotFound indicates the entity does not exist and
	// require_entity=true prevented auto-creation.
	ErrEntityNotFound = &Error{
		Category: CategoryNotFound,
		Code:     "ENTITY_NOT_FOUND",
		Message:  "entity not found",
	}

	// ErrEntityExists indicates an entity create collided with an
	// existing entity id.
	ErrEntityExists = &Error{
		Category: CategoryValidation,
		Code:     "ENTITY_EXISTS",
		Message:  "entity already exists",
	}

	// ErrNamespaceNotFound indicates a namespace name has no registered id.
	ErrNamespaceNotFound = &Error{
		Category: CategoryNamespace,
		Code:     "NAMESPACE_NOT_FOUND",
		Message:  "namespace not found",
	}

	// ErrInvalidName indicates an entity, resource, or namespace name
	// failed naming-rule validation.
	ErrInvalidName = &Error{
		Category: CategoryValidation,
		Code:     "INVALID_NAME",
		Message:  "invalid name",
	}

	// ErrUnauthorized indicates the caller is not permitted to perform
	// the requested namespace or entity operation.
	ErrUnauthorized = &Error{
		Category: CategoryUnauthorized,
		Code:     "UNAUTHORIZED",
		Message:  "unauthorized access",
	}
)
