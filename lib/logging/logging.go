// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelCritical is one step above slog.LevelError, mirroring the
// CRITICAL level of the original server's logging configuration.
const LevelCritical = slog.LevelError + 4

// levelNames maps accepted flag values to slog levels, in severity
// order. The names are uppercase only; this is a closed protocol
// surface, not a convenience parser.
var levelNames = []struct {
	name  string
	level slog.Level
}{
	{"DEBUG", slog.LevelDebug},
	{"INFO", slog.LevelInfo},
	{"WARN", slog.LevelWarn},
	{"ERROR", slog.LevelError},
	{"CRITICAL", LevelCritical},
}

// Levels returns the accepted level names in severity order, for
// usage text.
func Levels() []string {
	names := make([]string, len(levelNames))
	for i, entry := range levelNames {
		names[i] = entry.name
	}
	return names
}

// ParseLevel converts a --logging-level flag value into a slog.Level.
// Only the exact uppercase names DEBUG, INFO, WARN, ERROR, and
// CRITICAL are accepted.
func ParseLevel(name string) (slog.Level, error) {
	for _, entry := range levelNames {
		if entry.name == name {
			return entry.level, nil
		}
	}
	return 0, fmt.Errorf("unknown logging level %q (valid: %s)", name, strings.Join(Levels(), ", "))
}

// Setup builds a JSON slog.Logger writing to w at the given level and
// installs it as the process-wide default. Returns the logger for
// callers that pass it explicitly.
//
// The handler renames the synthetic CRITICAL level, which slog would
// otherwise render as "ERROR+4".
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renameCritical,
	}))
	slog.SetDefault(logger)
	return logger
}

// renameCritical rewrites the level attribute of records at or above
// LevelCritical to the string "CRITICAL".
func renameCritical(groups []string, attr slog.Attr) slog.Attr {
	if attr.Key != slog.LevelKey {
		return attr
	}
	level, ok := attr.Value.Any().(slog.Level)
	if !ok || level < LevelCritical {
		return attr
	}
	attr.Value = slog.StringValue("CRITICAL")
	return attr
}
