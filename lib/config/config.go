// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the pias server configuration. Every field has a flag
// equivalent on pias-server; a set flag overrides the config value.
type Config struct {
	// Socket is the Unix socket path the server listens on.
	Socket string `yaml:"socket"`

	// Project is the path of the SQLite project database holding
	// persisted edge labels and solution history. Empty means a
	// pias-project.db file inside the N5 container root.
	Project string `yaml:"project"`

	// SolverParams is the path of a JSONC solver parameter file
	// (random forest settings). Empty means built-in defaults.
	SolverParams string `yaml:"solver_params"`

	// HistoryLimit caps the number of solutions returned by the
	// history action when the request does not set its own limit.
	HistoryLimit int `yaml:"history_limit"`
}

// Default returns the default configuration. These defaults are the
// base that a loaded file merges into; they also apply when no config
// file is given at all.
func Default() *Config {
	return &Config{
		Socket:       "/run/pias/solver.sock",
		HistoryLimit: 50,
	}
}

// Load loads configuration from the file named by the PIAS_CONFIG
// environment variable, or returns defaults when it is unset.
func Load() (*Config, error) {
	path := os.Getenv("PIAS_CONFIG")
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Unset fields
// keep their defaults. Path fields have ${HOME}-style variables
// expanded after loading.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Socket == "" {
		errs = append(errs, fmt.Errorf("socket is required"))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("history_limit must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	c.Socket = expandVars(c.Socket)
	c.Project = expandVars(c.Project)
	c.SolverParams = expandVars(c.SolverParams)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
