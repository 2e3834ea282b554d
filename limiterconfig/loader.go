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
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix every environment variable override carries,
// e.g. RATELIMIT_STORE_BACKEND, RATELIMIT_ACQUIRE_ACQUIRE_DEADLINE.
const EnvPrefix = "RATELIMIT"

// Load reads a YAML or JSON configuration file at path, layers
// environment variable overrides on top (RATELIMIT_<SECTION>_<FIELD>,
// taking precedence over the file), and validates the result.
//
// A missing path is not an error: Load then returns DefaultConfig with
// only environment overrides and validation applied, matching the
// library's "configuration is optional, sane defaults otherwise" story.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("limiterconfig: read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("limiterconfig: unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("limiterconfig: invalid configuration: %w", err)
	}
	return cfg, nil
}

// newViper builds a viper instance seeded with DefaultConfig's values
// (so fields absent from both the file and the environment still
// unmarshal to their defaults) and wired for RATELIMIT_ prefixed,
// underscore-delimited environment overrides of nested keys.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dynamodb.table_name", d.Store.DynamoDB.TableName)
	v.SetDefault("store.dynamodb.region", d.Store.DynamoDB.Region)
	v.SetDefault("store.dynamodb.endpoint", d.Store.DynamoDB.Endpoint)
	v.SetDefault("store.postgres.host", d.Store.Postgres.Host)
	v.SetDefault("store.postgres.port", d.Store.Postgres.Port)
	v.SetDefault("store.postgres.user", d.Store.Postgres.User)
	v.SetDefault("store.postgres.password", d.Store.Postgres.Password)
	v.SetDefault("store.postgres.database", d.Store.Postgres.Database)
	v.SetDefault("store.postgres.ssl_mode", d.Store.Postgres.SSLMode)
	v.SetDefault("store.postgres.table", d.Store.Postgres.Table)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.redis.addr", d.Cache.Redis.Addr)
	v.SetDefault("cache.redis.password", d.Cache.Redis.Password)
	v.SetDefault("cache.redis.db", d.Cache.Redis.DB)

	v.SetDefault("acquire.config_cache_ttl", d.Acquire.ConfigCacheTTL)
	v.SetDefault("acquire.acquire_deadline", d.Acquire.AcquireDeadline)
	v.SetDefault("acquire.conflict_retry_max_attempts", d.Acquire.ConflictRetryMaxAttempts)
	v.SetDefault("acquire.conflict_retry_budget", d.Acquire.ConflictRetryBudget)
	v.SetDefault("acquire.max_limits_per_acquire", d.Acquire.MaxLimitsPerAcquire)

	v.SetDefault("namespace.default", d.Namespace.Default)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("health.timeout", d.Health.Timeout)
	return v
}
