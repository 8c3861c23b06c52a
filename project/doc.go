// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package project persists the mutable state of a proofreading
// session: submitted edge labels, the solver state ID counter, and the
// outcome of every solver pass.
//
// The backing store is a single SQLite database. Labels are upserted
// per edge so resubmissions overwrite. Solutions keep a summary row
// per pass; successful passes additionally store the full assignment
// as a zstd-compressed CBOR blob, so history queries stay cheap while
// any recorded partition can be recovered exactly.
package project
