// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the pias
// server.
//
// Configuration is loaded from a single file specified by either the
// PIAS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search; the file is optional, but when given
// it is the single source of truth below the command line. Flags
// always win over config values.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// This package depends on no other pias packages.
package config
