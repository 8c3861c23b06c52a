// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR encoding for the pias socket protocol.
//
// All wire traffic between pias clients and the solver server is CBOR.
// This package pins the encoder to Core Deterministic Encoding (RFC 8949
// §4.2) so that the same logical request or response always produces
// identical bytes, and configures the decoder to ignore unknown fields
// for forward compatibility. Consumers import only this package, never
// fxamacker/cbor directly.
package codec
