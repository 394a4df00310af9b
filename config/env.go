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
	"os"
	"regexp"
	"strconv"
)

// envVarPattern matches ${VAR} or ${VAR:default}
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment variable values
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}

// SubstituteEnvVarsInConfig substitutes environment variables in the
// string-valued config fields.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Device != nil {
		cfg.Device.Name = SubstituteEnvVars(cfg.Device.Name)
		cfg.Device.KeyFile = SubstituteEnvVars(cfg.Device.KeyFile)
	}
	if cfg.Logging != nil {
		cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
		cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
		cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
	}
}

// GetEnvironment returns the active environment name.
func GetEnvironment() string {
	if env := os.Getenv("LIFELOG_ENV"); env != "" {
		return env
	}
	return "development"
}

// applyEnvironmentOverrides overrides config with environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if name := os.Getenv("LIFELOG_DEVICE_NAME"); name != "" && cfg.Device != nil {
		cfg.Device.Name = name
	}
	if keyFile := os.Getenv("LIFELOG_KEY_FILE"); keyFile != "" && cfg.Device != nil {
		cfg.Device.KeyFile = keyFile
	}
	if port := os.Getenv("LIFELOG_SYNC_PORT"); port != "" && cfg.Device != nil {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Device.SyncPort = p
		}
	}
	if port := os.Getenv("LIFELOG_DISCOVERY_PORT"); port != "" && cfg.Discovery != nil {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Discovery.Port = p
		}
	}

	if logLevel := os.Getenv("LIFELOG_LOG_LEVEL"); logLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = logLevel
	}

	if os.Getenv("LIFELOG_METRICS_ENABLED") == "true" && cfg.Metrics != nil {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("LIFELOG_METRICS_ENABLED") == "false" && cfg.Metrics != nil {
		cfg.Metrics.Enabled = false
	}
}
