// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the Unix socket protocol shared by the
// solver daemon and its clients.
//
// The protocol is CBOR request/response: a client connects, writes one
// CBOR request map carrying an "action" field, and reads one CBOR
// response envelope {ok, error?, data?}. The connection then closes.
// Stream actions keep the connection open instead: after the envelope
// confirms the subscription, the server writes a sequence of CBOR
// frames until either side disconnects.
//
// The server dispatches on the action name. Handlers decode their own
// request fields from the raw CBOR, so the request surface of each
// action lives next to its implementation rather than in a central
// schema.
package service
