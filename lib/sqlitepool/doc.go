// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by the
// pias project store.
//
// It wraps zombiezen.com/go/sqlite with the defaults the solver daemon
// needs: WAL journal mode so the socket handlers can read label and
// solution history while the update worker writes, NORMAL synchronous
// for crash durability without per-commit fsync cost, and a busy
// timeout so write contention degrades to waiting instead of
// SQLITE_BUSY errors.
//
// Callers [Pool.Take] a connection, do their work, and [Pool.Put] it
// back. Connections are not safe for concurrent use; each goroutine
// holds its own connection for the duration of its work.
//
// The package is intentionally thin. It applies pragmas and exposes the
// underlying zombiezen types directly: the project store writes SQL,
// uses sqlitex.Execute for cached statements, and manages transactions
// with sqlitex.ImmediateTransaction. No query builder, no ORM.
package sqlitepool
