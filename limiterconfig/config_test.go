// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package limiterconfig

import (
	"testing"
	"time"
)

const defaultTTLForTest = 2 * time.Second

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() should not return nil")
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Acquire.AcquireDeadline == 0 {
		t.Error("Acquire.AcquireDeadline should have a default value")
	}
	if cfg.Namespace.Default != "default" {
		t.Errorf("Namespace.Default = %q, want default", cfg.Namespace.Default)
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for default config", err)
	}
}

func TestConfig_Validate_Store(t *testing.T) {
	tests := []struct {
		name    string
		store   StoreConfig
		wantErr bool
	}{
		{"memory is valid", StoreConfig{Backend: "memory"}, false},
		{"unknown backend", StoreConfig{Backend: "mongo"}, true},
		{
			"dynamodb missing table",
			StoreConfig{Backend: "dynamodb", DynamoDB: DynamoDBConfig{Region: "us-east-1"}},
			true,
		},
		{
			"dynamodb missing region",
			StoreConfig{Backend: "dynamodb", DynamoDB: DynamoDBConfig{TableName: "rate-limits"}},
			true,
		},
		{
			"dynamodb valid",
			StoreConfig{Backend: "dynamodb", DynamoDB: DynamoDBConfig{TableName: "rate-limits", Region: "us-east-1"}},
			false,
		},
		{
			"postgres missing user",
			StoreConfig{Backend: "postgres", Postgres: PostgresConfig{Host: "localhost", Port: 5432, Database: "ratelimit"}},
			true,
		},
		{
			"postgres valid",
			StoreConfig{Backend: "postgres", Postgres: PostgresConfig{Host: "localhost", Port: 5432, User: "rl", Database: "ratelimit"}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Store = tt.store
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Cache(t *testing.T) {
	tests := []struct {
		name    string
		cache   CacheConfig
		wantErr bool
	}{
		{"memory default-like", CacheConfig{Backend: "memory", TTL: defaultTTLForTest, MaxSize: 100}, false},
		{"unknown backend", CacheConfig{Backend: "memcached", TTL: defaultTTLForTest, MaxSize: 100}, true},
		{"redis missing addr", CacheConfig{Backend: "redis", TTL: defaultTTLForTest, MaxSize: 100}, true},
		{"redis valid", CacheConfig{Backend: "redis", TTL: defaultTTLForTest, MaxSize: 100, Redis: RedisConfig{Addr: "localhost:6379"}}, false},
		{"ttl too long", CacheConfig{Backend: "memory", TTL: maxConfigCacheTTL * 2, MaxSize: 100}, true},
		{"zero max size", CacheConfig{Backend: "memory", TTL: defaultTTLForTest, MaxSize: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Cache = tt.cache
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Acquire(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AcquireConfig)
		wantErr bool
	}{
		{"defaults are valid", func(a *AcquireConfig) {}, false},
		{"zero deadline", func(a *AcquireConfig) { a.AcquireDeadline = 0 }, true},
		{"zero retry attempts", func(a *AcquireConfig) { a.ConflictRetryMaxAttempts = 0 }, true},
		{"zero max limits", func(a *AcquireConfig) { a.MaxLimitsPerAcquire = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg.Acquire)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Namespace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Namespace.Default = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty namespace.default")
	}
}

