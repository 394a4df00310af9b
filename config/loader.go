// Copyright (C) 2025 lifelog
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

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	// Environment-specific file first, then default.yaml, then config.yaml,
	// then built-in defaults.
	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = Default()
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	// Environment variables win over file contents.
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// Validate checks a loaded configuration for unusable values.
func Validate(cfg *Config) error {
	if cfg.Discovery != nil {
		if cfg.Discovery.Port < 1 || cfg.Discovery.Port > 65535 {
			return fmt.Errorf("discovery_port %d out of range", cfg.Discovery.Port)
		}
		if cfg.Discovery.BroadcastInterval <= 0 {
			return fmt.Errorf("broadcast_interval must be positive")
		}
		if cfg.Discovery.PeerTimeout <= cfg.Discovery.BroadcastInterval {
			return fmt.Errorf("peer_timeout must exceed broadcast_interval")
		}
	}
	if cfg.Device != nil {
		if cfg.Device.SyncPort < 0 || cfg.Device.SyncPort > 65535 {
			return fmt.Errorf("sync_port %d out of range", cfg.Device.SyncPort)
		}
	}
	if cfg.Sync != nil {
		if cfg.Sync.ChallengeTTL <= 0 {
			return fmt.Errorf("challenge_ttl must be positive")
		}
		if cfg.Sync.RequestTimeout <= 0 {
			return fmt.Errorf("request_timeout must be positive")
		}
		if cfg.Sync.PullBatchSize < 1 {
			return fmt.Errorf("pull_batch_size must be at least 1")
		}
	}
	return nil
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
