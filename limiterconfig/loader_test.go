// Copyright (C) 2025 sage-x-project
// SPDX-License-Identifier: LGPL-3.0-or-later

package limiterconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
store:
  backend: dynamodb
  dynamodb:
    table_name: rate-limits
    region: us-east-1

namespace:
  default: acme

acquire:
  max_limits_per_acquire: 10
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "dynamodb" {
		t.Errorf("Store.Backend = %q, want dynamodb", cfg.Store.Backend)
	}
	if cfg.Store.DynamoDB.TableName != "rate-limits" {
		t.Errorf("Store.DynamoDB.TableName = %q, want rate-limits", cfg.Store.DynamoDB.TableName)
	}
	if cfg.Namespace.Default != "acme" {
		t.Errorf("Namespace.Default = %q, want acme", cfg.Namespace.Default)
	}
	if cfg.Acquire.MaxLimitsPerAcquire != 10 {
		t.Errorf("Acquire.MaxLimitsPerAcquire = %d, want 10", cfg.Acquire.MaxLimitsPerAcquire)
	}
	// Untouched sections fall back to defaults.
	if cfg.Acquire.AcquireDeadline != 5*time.Second {
		t.Errorf("Acquire.AcquireDeadline = %v, want 5s default", cfg.Acquire.AcquireDeadline)
	}
}

func TestLoad_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	jsonContent := `{
  "store": {"backend": "postgres", "postgres": {"host": "db", "port": 5432, "user": "rl", "database": "ratelimit"}}
}`
	if err := os.WriteFile(configPath, []byte(jsonContent), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("Store.Backend = %q, want postgres", cfg.Store.Backend)
	}
	if cfg.Store.Postgres.Host != "db" {
		t.Errorf("Store.Postgres.Host = %q, want db", cfg.Store.Postgres.Host)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
store:
  backend: dynamodb
  dynamodb:
    table_name: rate-limits
    # region intentionally omitted
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected validation error for dynamodb config missing region, got nil")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
namespace:
  default: from-file
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	os.Setenv("RATELIMIT_NAMESPACE_DEFAULT", "from-env")
	defer os.Unsetenv("RATELIMIT_NAMESPACE_DEFAULT")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Namespace.Default != "from-env" {
		t.Errorf("Namespace.Default = %q, want from-env (environment should override file)", cfg.Namespace.Default)
	}
}
