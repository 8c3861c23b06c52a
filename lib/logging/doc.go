// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging maps the pias --logging-level flag onto log/slog.
//
// The accepted level names are DEBUG, INFO, WARN, ERROR, and CRITICAL,
// ordered by increasing severity. CRITICAL has no slog equivalent and
// is defined as slog.LevelError+4, following the convention slog itself
// uses for gaps between standard levels. Records at or above the
// configured level are emitted; records below it are suppressed.
//
// Both binaries and the integration test bootstrap call [Setup] exactly
// once at startup; nothing reconfigures logging afterward.
package logging
