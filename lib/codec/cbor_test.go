// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// sampleRequest mirrors the shape of a socket protocol request: an
// action discriminator plus action-specific fields.
type sampleRequest struct {
	Action string   `cbor:"action"`
	Limit  int      `cbor:"limit,omitempty"`
	Edges  []uint64 `cbor:"edges,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	original := sampleRequest{
		Action: "set-edge-labels",
		Edges:  []uint64{0, 1, 1, 2},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRequest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Action != original.Action {
		t.Errorf("Action = %q, want %q", decoded.Action, original.Action)
	}
	if len(decoded.Edges) != len(original.Edges) {
		t.Errorf("Edges length = %d, want %d", len(decoded.Edges), len(original.Edges))
	}
}

func TestDeterministicEncoding(t *testing.T) {
	// Map encoding must be byte-identical regardless of insertion
	// order; solution digests depend on this.
	first := map[string]any{"state_id": uint64(3), "exit_code": 0, "available": true}
	second := map[string]any{"available": true, "exit_code": 0, "state_id": uint64(3)}

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal first: %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal second: %v", err)
	}

	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("deterministic encoding violated:\n  first:  %x\n  second: %x", firstBytes, secondBytes)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{
		"action":       "ping",
		"future_field": "ignored",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRequest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.Action != "ping" {
		t.Errorf("Action = %q, want %q", decoded.Action, "ping")
	}
}

func TestDefaultMapType(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": uint64(1)}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	// Two values back to back: CBOR is self-delimiting, so the decoder
	// must hand them back one at a time (the watch stream relies on
	// this).
	if err := encoder.Encode(sampleRequest{Action: "ping"}); err != nil {
		t.Fatalf("Encode first: %v", err)
	}
	if err := encoder.Encode(sampleRequest{Action: "status"}); err != nil {
		t.Fatalf("Encode second: %v", err)
	}

	decoder := NewDecoder(&buffer)
	var first, second sampleRequest
	if err := decoder.Decode(&first); err != nil {
		t.Fatalf("Decode first: %v", err)
	}
	if err := decoder.Decode(&second); err != nil {
		t.Fatalf("Decode second: %v", err)
	}
	if first.Action != "ping" || second.Action != "status" {
		t.Errorf("decoded actions = %q, %q; want ping, status", first.Action, second.Action)
	}
}
