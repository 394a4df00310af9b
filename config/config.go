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
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Device      *DeviceConfig    `yaml:"device" json:"device"`
	Discovery   *DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Sync        *SyncConfig      `yaml:"sync" json:"sync"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig    `yaml:"health" json:"health"`
}

// DeviceConfig identifies this device and its key material
type DeviceConfig struct {
	Name     string `yaml:"name" json:"name"`
	SyncPort int    `yaml:"sync_port" json:"sync_port"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DiscoveryConfig tunes the LAN beacon subsystem
type DiscoveryConfig struct {
	Port              int           `yaml:"discovery_port" json:"discovery_port"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval" json:"broadcast_interval"`
	PeerTimeout       time.Duration `yaml:"peer_timeout" json:"peer_timeout"`
}

// SyncConfig tunes the sync exchange
type SyncConfig struct {
	ChallengeTTL   time.Duration `yaml:"challenge_ttl" json:"challenge_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// SyncInterval enables the background sync loop when > 0.
	SyncInterval  time.Duration `yaml:"sync_interval" json:"sync_interval"`
	PullBatchSize int           `yaml:"pull_batch_size" json:"pull_batch_size"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try to parse as YAML first
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Default returns a config populated entirely from defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Device == nil {
		cfg.Device = &DeviceConfig{}
	}
	if cfg.Device.Name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "lifelog-device"
		}
		cfg.Device.Name = host
	}
	if cfg.Device.KeyFile == "" {
		cfg.Device.KeyFile = "lifelog.key"
	}

	if cfg.Discovery == nil {
		cfg.Discovery = &DiscoveryConfig{}
	}
	if cfg.Discovery.Port == 0 {
		cfg.Discovery.Port = 37520
	}
	if cfg.Discovery.BroadcastInterval == 0 {
		cfg.Discovery.BroadcastInterval = 5 * time.Second
	}
	if cfg.Discovery.PeerTimeout == 0 {
		cfg.Discovery.PeerTimeout = 15 * time.Second
	}

	if cfg.Sync == nil {
		cfg.Sync = &SyncConfig{}
	}
	if cfg.Sync.ChallengeTTL == 0 {
		cfg.Sync.ChallengeTTL = 30 * time.Second
	}
	if cfg.Sync.RequestTimeout == 0 {
		cfg.Sync.RequestTimeout = 5 * time.Second
	}
	if cfg.Sync.PullBatchSize == 0 {
		cfg.Sync.PullBatchSize = 100
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health == nil {
		cfg.Health = &HealthConfig{}
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
