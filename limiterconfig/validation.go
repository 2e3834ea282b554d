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

package limiterconfig

import (
	"fmt"
	"time"
)

// maxConfigCacheTTL bounds the resolver cache so a stale on_unavailable
// policy or limit shape can never go unnoticed for long.
const maxConfigCacheTTL = 2 * time.Second

// Validate validates the entire configuration.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateAcquire(); err != nil {
		return err
	}
	if err := c.validateNamespace(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "memory":
		return nil
	case "dynamodb":
		if c.Store.DynamoDB.TableName == "" {
			return fmt.Errorf("store.dynamodb.table_name must not be empty")
		}
		if c.Store.DynamoDB.Region == "" {
			return fmt.Errorf("store.dynamodb.region must not be empty")
		}
		return nil
	case "postgres":
		if c.Store.Postgres.Host == "" {
			return fmt.Errorf("store.postgres.host must not be empty")
		}
		if c.Store.Postgres.Port < 1 || c.Store.Postgres.Port > 65535 {
			return fmt.Errorf("store.postgres.port must be between 1 and 65535")
		}
		if c.Store.Postgres.User == "" {
			return fmt.Errorf("store.postgres.user must not be empty")
		}
		if c.Store.Postgres.Database == "" {
			return fmt.Errorf("store.postgres.database must not be empty")
		}
		return nil
	default:
		return fmt.Errorf("store.backend must be one of: memory, dynamodb, postgres (got %q)", c.Store.Backend)
	}
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr must not be empty")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, redis (got %q)", c.Cache.Backend)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Cache.TTL > maxConfigCacheTTL {
		return fmt.Errorf("cache.ttl must not exceed %s", maxConfigCacheTTL)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive")
	}
	return nil
}

func (c *Config) validateAcquire() error {
	a := c.Acquire
	if a.AcquireDeadline <= 0 {
		return fmt.Errorf("acquire.acquire_deadline must be positive")
	}
	if a.ConfigCacheTTL <= 0 {
		return fmt.Errorf("acquire.config_cache_ttl must be positive")
	}
	if a.ConflictRetryMaxAttempts < 1 {
		return fmt.Errorf("acquire.conflict_retry_max_attempts must be at least 1")
	}
	if a.ConflictRetryBudget <= 0 {
		return fmt.Errorf("acquire.conflict_retry_budget must be positive")
	}
	if a.MaxLimitsPerAcquire < 1 {
		return fmt.Errorf("acquire.max_limits_per_acquire must be at least 1")
	}
	return nil
}

func (c *Config) validateNamespace() error {
	if c.Namespace.Default == "" {
		return fmt.Errorf("namespace.default must not be empty")
	}
	return nil
}
