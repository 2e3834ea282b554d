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

import "time"

// Config is the complete process configuration for constructing a
// ratelimit.Limiter and its store/cache/observability backends.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Acquire AcquireConfig `mapstructure:"acquire"`

	Namespace NamespaceConfig `mapstructure:"namespace"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// StoreConfig selects and configures the store.Gateway backend.
type StoreConfig struct {
	// Backend is one of "memory", "dynamodb", "postgres".
	Backend  string         `mapstructure:"backend"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// DynamoDBConfig configures store.DynamoGateway.
type DynamoDBConfig struct {
	TableName string `mapstructure:"table_name"`
	Region    string `mapstructure:"region"`
	// Endpoint overrides the regional endpoint, for local-stack or
	// DynamoDB Local development.
	Endpoint string `mapstructure:"endpoint"`
}

// PostgresConfig configures store.PostgresGateway.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Table    string `mapstructure:"table"`
}

// CacheConfig selects the config-resolver cache tier (never bucket
// state, which is never cached).
type CacheConfig struct {
	// Backend is one of "memory", "redis".
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures cache.RedisCache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AcquireConfig mirrors ratelimit.Config -- the acquire engine's
// tunables, loaded from process configuration instead of constructed
// in code.
type AcquireConfig struct {
	ConfigCacheTTL           time.Duration `mapstructure:"config_cache_ttl"`
	AcquireDeadline          time.Duration `mapstructure:"acquire_deadline"`
	ConflictRetryMaxAttempts int           `mapstructure:"conflict_retry_max_attempts"`
	ConflictRetryBudget      time.Duration `mapstructure:"conflict_retry_budget"`
	MaxLimitsPerAcquire      int           `mapstructure:"max_limits_per_acquire"`
}

// NamespaceConfig configures the namespace the process operates in by
// default.
type NamespaceConfig struct {
	Default string `mapstructure:"default"`
}

// LoggingConfig configures the zap-backed structured logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // "debug", "info", "warn", "error"
	Format     string `mapstructure:"format"`       // "json", "console"
	OutputPath string `mapstructure:"output_path"`
}

// MetricsConfig configures the Prometheus collector. No HTTP /metrics
// server is started; Enabled controls whether the collector records at
// all, and a host application mounts observability/metrics.Handler().
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// HealthConfig configures the is_available health checker.
type HealthConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the out-of-the-box configuration: an in-memory
// store and cache, and the same acquire tunables as
// ratelimit.DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				Port:    5432,
				SSLMode: "disable",
				Table:   "rate_limiter",
			},
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     2 * time.Second,
			MaxSize: 10000,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Acquire: AcquireConfig{
			ConfigCacheTTL:           2 * time.Second,
			AcquireDeadline:          5 * time.Second,
			ConflictRetryMaxAttempts: 3,
			ConflictRetryBudget:      250 * time.Millisecond,
			MaxLimitsPerAcquire:      50,
		},
		Namespace: NamespaceConfig{
			Default: "default",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "ratelimit",
		},
		Health: HealthConfig{
			Timeout: 2 * time.Second,
		},
	}
}
