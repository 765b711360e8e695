// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides configuration loading for the master service.
//
// Configuration comes from a YAML file, with recompute variables
// additionally overridable through TIDEFS_VAR_* environment variables so
// deployment values (host addresses, cluster names) never need to be baked
// into the file.
//
// Thread Safety:
//
//	Load returns an independent Config value; callers own it. The package
//	itself holds no mutable state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// MaxYAMLFileSize is the maximum allowed config file size (1MB).
	// Prevents memory issues from a misconfigured path.
	MaxYAMLFileSize = 1024 * 1024

	// EnvVarPrefix marks environment variables that override recompute
	// variables: TIDEFS_VAR_HOST=10.0.0.1 binds $HOST.
	EnvVarPrefix = "TIDEFS_VAR_"
)

// configValidate is the shared validator instance for this package.
var configValidate = validator.New()

// JournalConfig configures the lineage image journal.
type JournalConfig struct {
	// InMemory runs the journal without disk persistence. Only for tests.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites makes every journal append durable before it returns.
	// Disable only in tests.
	SyncWrites bool `yaml:"sync_writes"`

	// SkipCorrupt lets master startup continue past journal records that
	// fail their integrity check instead of aborting.
	SkipCorrupt bool `yaml:"skip_corrupt"`
}

// Config is the master service configuration.
type Config struct {
	// MasterAddress is the host:port clients and recomputation jobs use to
	// reach this master. Injected into every recompute command.
	MasterAddress string `yaml:"master_address" validate:"required,hostname_port"`

	// DataDir is the directory for the master's durable state.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Journal configures the lineage image journal.
	Journal JournalConfig `yaml:"journal"`

	// RecomputeVariables are the $NAME bindings substituted into recompute
	// command prefixes. TIDEFS_VAR_* environment variables override
	// same-named entries.
	RecomputeVariables map[string]string `yaml:"recompute_variables"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns a config with production defaults applied. MasterAddress
// and DataDir still have to be set before Validate passes.
func Default() Config {
	return Config{
		Journal:            JournalConfig{SyncWrites: true},
		RecomputeVariables: map[string]string{},
		LogLevel:           "info",
	}
}

// Load reads, merges, and validates the configuration at path.
//
// Description:
//
//	Starts from Default(), overlays the YAML file, then overlays
//	TIDEFS_VAR_* environment variables onto RecomputeVariables.
//
// Outputs:
//
//	Config - The validated configuration.
//	error - Non-nil if the file is unreadable, oversized, malformed, or
//	        fails validation.
func Load(path string) (Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.Size() > MaxYAMLFileSize {
		return Config{}, fmt.Errorf("config %s exceeds %d bytes", path, MaxYAMLFileSize)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.RecomputeVariables == nil {
		cfg.RecomputeVariables = map[string]string{}
	}

	mergeEnvVariables(cfg.RecomputeVariables, os.Environ())

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for completeness.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	for name := range c.RecomputeVariables {
		if name == "" {
			return errors.New("invalid config: recompute variable with empty name")
		}
	}
	return nil
}

// mergeEnvVariables overlays TIDEFS_VAR_* entries from environ onto vars.
func mergeEnvVariables(vars map[string]string, environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvVarPrefix) {
			continue
		}
		rest := strings.TrimPrefix(kv, EnvVarPrefix)
		name, value, ok := strings.Cut(rest, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = value
	}
}
