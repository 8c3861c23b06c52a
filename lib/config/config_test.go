// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pias.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Socket == "" {
		t.Error("default socket is empty")
	}
	if cfg.HistoryLimit <= 0 {
		t.Errorf("default history limit = %d, want positive", cfg.HistoryLimit)
	}
}

func TestLoadFileMergesIntoDefaults(t *testing.T) {
	path := writeConfig(t, "socket: /tmp/pias.sock\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Socket != "/tmp/pias.sock" {
		t.Errorf("Socket = %q, want /tmp/pias.sock", cfg.Socket)
	}
	// Unset fields keep their defaults.
	if cfg.HistoryLimit != Default().HistoryLimit {
		t.Errorf("HistoryLimit = %d, want default %d", cfg.HistoryLimit, Default().HistoryLimit)
	}
}

func TestLoadFileExpandsVariables(t *testing.T) {
	t.Setenv("PIAS_TEST_DIR", "/data/projects")
	path := writeConfig(t, "project: ${PIAS_TEST_DIR}/run.db\nsolver_params: ${PIAS_TEST_UNSET:-/etc/pias}/params.jsonc\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Project != "/data/projects/run.db" {
		t.Errorf("Project = %q, want /data/projects/run.db", cfg.Project)
	}
	if cfg.SolverParams != "/etc/pias/params.jsonc" {
		t.Errorf("SolverParams = %q, want /etc/pias/params.jsonc", cfg.SolverParams)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "socket: \"\"\nhistory_limit: -1\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted an invalid config")
	}
}

func TestLoadWithoutEnvReturnsDefaults(t *testing.T) {
	t.Setenv("PIAS_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socket != Default().Socket {
		t.Errorf("Socket = %q, want default %q", cfg.Socket, Default().Socket)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Setenv("PIAS_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded with a missing config file")
	}
}
