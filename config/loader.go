// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.


package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// DotEnvFile, if non-empty, is loaded into the process environment
	// before file/env resolution. Loading is best-effort: a missing file
	// is not an error.
	DotEnvFile string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// Option mutates LoaderOptions; With* constructors below compose with Load.
type Option func(*LoaderOptions)

// WithConfigDir overrides the directory config files are read from.
func WithConfigDir(dir string) Option {
	return func(o *LoaderOptions) { o.ConfigDir = dir }
}

// WithEnvironment pins the environment instead of auto-detecting it from
// SYNCENGINE_ENV/ENVIRONMENT.
func WithEnvironment(env string) Option {
	return func(o *LoaderOptions) { o.Environment = env }
}

// WithDotEnvFile loads name into the process environment before
// resolving config, using godotenv.Load: variables that are already set
// in the environment keep their values, and a missing file is ignored.
func WithDotEnvFile(name string) Option {
	return func(o *LoaderOptions) { o.DotEnvFile = name }
}

// WithSkipValidation disables Validate after loading.
func WithSkipValidation() Option {
	return func(o *LoaderOptions) { o.SkipValidation = true }
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir: "config",
	}
}

// Load loads configuration with automatic environment detection, file
// fallback (<env>.yaml -> default.yaml -> config.yaml -> empty), env var
// substitution, and environment-variable overrides, in that priority
// order.
func Load(opts ...Option) (*Config, error) {
	options := DefaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.DotEnvFile != "" {
		_ = godotenv.Load(options.DotEnvFile)
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := loadConfigFile(filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env)))
	if err != nil {
		cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "default.yaml"))
		if err != nil {
			cfg, err = loadConfigFile(filepath.Join(options.ConfigDir, "config.yaml"))
			if err != nil {
				cfg = &Config{}
				setDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		if err := Validate(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file, returning an error if it
// doesn't exist.
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(WithEnvironment(environment))
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...Option) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
