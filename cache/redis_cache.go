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

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is the cache package's miss sentinel. RedisCache.Get does
// not return it: Get reports a miss through its bool return.
var ErrNotFound = errors.New("cache: not found")

// RedisCache implements Cache on top of Redis, letting a config
// resolver share its cache across every process in a fleet instead of
// each holding its own cold MemoryCache. Never used for bucket state.
type RedisCache struct {
	client *redis.Client
	prefix string
	stats  CacheStats
}

// RedisCacheConfig configures the Redis-backed cache tier.
type RedisCacheConfig struct {
	Address      string
	Password     string
	DB           int
	KeyPrefix    string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisCacheConfig returns the default Redis cache configuration.
func DefaultRedisCacheConfig() *RedisCacheConfig {
	return &RedisCacheConfig{
		Address:      "localhost:6379",
		DB:           0,
		KeyPrefix:    "ratelimit:config:",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisCache dials Redis and verifies connectivity before returning.
func NewRedisCache(cfg *RedisCacheConfig) (*RedisCache, error) {
	if cfg == nil {
		cfg = DefaultRedisCacheConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect redis: %w", err)
	}

	return &RedisCache{client: client, prefix: cfg.KeyPrefix}, nil
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		c.stats.Misses++
		return nil, false
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	c.stats.Sets++
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	c.stats.Deletes++
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, c.prefix+"*").Result()
	if err != nil {
		return fmt.Errorf("cache: list keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Stats() CacheStats {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
	return c.stats
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
