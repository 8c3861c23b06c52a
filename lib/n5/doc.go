// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package n5 reads and writes filesystem N5 containers.
//
// An N5 container is a directory tree: every group is a directory with
// an optional attributes.json, and a dataset is a directory whose
// attributes.json carries dimensions, blockSize, dataType, and
// compression. Block files live at <dataset>/<g0>/<g1>/... where gN is
// the block's grid position along dimension N. Dimension 0 is the
// fastest varying, both in the dimensions attribute and inside a
// block's payload. Payload elements are big-endian.
//
// The package implements the subset of the format the solver needs:
// full-dataset reads and writes of uint64 and float64 data in two
// dimensions, with raw, gzip, lz4, and zstd block compression. It does
// not implement varlength blocks or partial block access.
package n5
