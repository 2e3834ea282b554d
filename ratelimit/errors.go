// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package ratelimit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Side identifies whether a violation belongs to the entity itself or,
// in a cascaded acquire, to its parent.
type Side string

const (
	SideSelf   Side = "self"
	SideParent Side = "parent"
)

// Violation describes one bucket that could not satisfy a try-consume.
type Violation struct {
	EntityID          string
	LimitName         string
	Resource          string
	Available         int64
	RetryAfterSeconds float64
	Side              Side
}

// RateLimitExceededError is raised by Acquire when one or more buckets
// in the touched set could not satisfy the requested consumption. No
// bucket in the set was mutated.
type RateLimitExceededError struct {
	Violations        []Violation
	RetryAfterSeconds float64
}

func (e *RateLimitExceededError) Error() string {
	switch len(e.Violations) {
	case 0:
		return "ratelimit: rate limit exceeded"
	case 1:
		v := e.Violations[0]
		return fmt.Sprintf("ratelimit: rate limit exceeded: %s/%s available=%d retry_after=%.2fs",
			v.Resource, v.LimitName, v.Available, v.RetryAfterSeconds)
	default:
		return fmt.Sprintf("ratelimit: rate limit exceeded: %s retry_after=%.2fs",
			describeViolations(e.Violations), e.RetryAfterSeconds)
	}
}

// RetryAfterHeader returns the ceil'd integer seconds suitable for an
// HTTP Retry-After response header.
func (e *RateLimitExceededError) RetryAfterHeader() string {
	return strconv.Itoa(int(math.Ceil(e.RetryAfterSeconds)))
}

// AsMap renders the exact JSON-serializable shape described by the
// public interface: {error, message, retry_after_seconds,
// retry_after_header, limits: [...]}.
func (e *RateLimitExceededError) AsMap() map[string]interface{} {
	limits := make([]map[string]interface{}, 0, len(e.Violations))
	for _, v := range e.Violations {
		limits = append(limits, map[string]interface{}{
			"entity_id":           v.EntityID,
			"limit_name":          v.LimitName,
			"resource":            v.Resource,
			"available":           v.Available,
			"exceeded":            true,
			"retry_after_seconds": v.RetryAfterSeconds,
			"side":                string(v.Side),
		})
	}
	return map[string]interface{}{
		"error":               "rate_limit_exceeded",
		"message":             e.Error(),
		"retry_after_seconds": e.RetryAfterSeconds,
		"retry_after_header":  e.RetryAfterHeader(),
		"limits":              limits,
	}
}

func describeViolations(vs []Violation) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.LimitName
	}
	return strings.Join(names, ",")
}
