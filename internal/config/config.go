// Copyright 2025 Skyvern Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads daemon configuration from a YAML file overlaid
// with environment variables, in a layered defaults-then-file-then-env
// pattern scoped to the execution substrate: listen address, storage
// backend, session pool limits, webhook policy and logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ListenConfig configures how the daemon accepts connections.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// BackendConfig selects the storage backend. Only "memory" ships with
// this module; §6.2 frames Postgres/SQLite as pluggable backends behind
// the storage.Store interfaces, not a required implementation.
type BackendConfig struct {
	Type string `yaml:"type"`
}

// SessionConfig mirrors session.Limits (§4.4): global and per-tenant
// pool caps, acquisition wait, idle TTL and recovery budget.
type SessionConfig struct {
	GlobalMax      int           `yaml:"global_max"`
	PerTenantMax   int           `yaml:"per_tenant_max"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleTTL        time.Duration `yaml:"idle_ttl"`
	MaxRecoveries  int           `yaml:"max_recoveries"`
}

// WebhookConfig configures outbound webhook delivery (§4.9).
type WebhookConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LogConfig configures the structured logger (internal/log).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig configures tenant identity verification (§6.1 "opaque API
// key mapped to organization"). An empty JWTSecret disables
// verification, which is the default for local/dev runs.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Config is the full daemon configuration.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Backend BackendConfig `yaml:"backend"`
	Session SessionConfig `yaml:"session"`
	Webhook WebhookConfig `yaml:"webhook"`
	Log     LogConfig     `yaml:"log"`
	Auth    AuthConfig    `yaml:"auth"`
}

// Default returns the built-in configuration used when no file or
// environment overrides are present.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Addr: "127.0.0.1:8585"},
		Backend: BackendConfig{Type: "memory"},
		Session: SessionConfig{
			GlobalMax:      100,
			PerTenantMax:   10,
			AcquireTimeout: 30 * time.Second,
			IdleTTL:        15 * time.Minute,
			MaxRecoveries:  3,
		},
		Webhook: WebhookConfig{TimeoutSeconds: 10},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config from defaults, an optional YAML file at path (if
// non-empty and present), then SKYRUN_* environment overrides, in that
// order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SKYRUN_LISTEN_ADDR"); v != "" {
		cfg.Listen.Addr = v
	}
	if v := os.Getenv("SKYRUN_BACKEND"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv("SKYRUN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SKYRUN_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SKYRUN_SESSION_GLOBAL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.GlobalMax = n
		}
	}
	if v := os.Getenv("SKYRUN_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}
