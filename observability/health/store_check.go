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

package health

import (
	"context"
	"time"
)

// StoreHealthCheck adapts a Limiter's store-reachability probe into a
// readiness Checker, without this package importing the ratelimit
// package directly. Ping matches Limiter.Healthy's signature.
type StoreHealthCheck struct {
	name    string
	ping    func(ctx context.Context, timeout time.Duration) bool
	timeout time.Duration
}

// NewStoreHealthCheck wraps ping (typically Limiter.Healthy) as a
// readiness check named name, applying timeout to each probe.
func NewStoreHealthCheck(name string, timeout time.Duration, ping func(ctx context.Context, timeout time.Duration) bool) *StoreHealthCheck {
	return &StoreHealthCheck{name: name, ping: ping, timeout: timeout}
}

// Name returns the name of this health check.
func (c *StoreHealthCheck) Name() string {
	return c.name
}

// Check probes the store and reports its reachability.
func (c *StoreHealthCheck) Check(ctx context.Context) CheckResult {
	if c.ping(ctx, c.timeout) {
		return CheckResult{Name: c.Name(), Status: StatusHealthy}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusUnhealthy,
		Message: "store unreachable",
	}
}
