// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default configuration location.
const EnvConfigPath = "DRYDOCK_CONFIG"

var (
	// Global is a singleton instance
	Global DrydockConfig
	once   sync.Once
)

// ResolvePath picks the configuration file: explicit flag, then
// DRYDOCK_CONFIG, then ~/.drydock/drydock.yaml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return filepath.Join(DrydockHome(), "drydock.yaml")
}

// Load ensures the config at path is loaded into the Global variable.
// Only the first call has any effect.
func Load(path string) error {
	var err error
	once.Do(func() {
		var cfg *DrydockConfig
		cfg, err = LoadFrom(path)
		if err == nil {
			Global = *cfg
		}
	})
	return err
}

// LoadFrom reads, defaults and validates the config at path without touching
// Global. A missing file is created from DefaultConfig first.
func LoadFrom(path string) (*DrydockConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, fills defaults and validates.
func Parse(data []byte) (*DrydockConfig, error) {
	var cfg DrydockConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
