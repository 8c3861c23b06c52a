// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for pias packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. This exists because Unix domain sockets have a
// 108-byte path limit (sun_path in sockaddr_un) and test temp
// directories can be nested deeply enough to exceed it, making
// t.TempDir() unsuitable for socket files. The directory is removed
// when the test completes.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls; these are the only place
// in the test suite where real wall-clock timeouts are used.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no pias-internal dependencies.
package testutil
