// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package n5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compress encodes a block payload with the dataset's codec.
func compress(comp Compression, payload []byte) ([]byte, error) {
	switch comp.Type {
	case "raw":
		return payload, nil

	case "gzip":
		level := comp.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		var buf bytes.Buffer
		writer, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("n5: gzip level %d: %w", level, err)
		}
		if _, err := writer.Write(payload); err != nil {
			return nil, fmt.Errorf("n5: gzip: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("n5: gzip: %w", err)
		}
		return buf.Bytes(), nil

	case "lz4":
		var buf bytes.Buffer
		writer := lz4.NewWriter(&buf)
		if _, err := writer.Write(payload); err != nil {
			return nil, fmt.Errorf("n5: lz4: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("n5: lz4: %w", err)
		}
		return buf.Bytes(), nil

	case "zstd":
		options := []zstd.EOption{}
		if comp.Level > 0 {
			options = append(options, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(comp.Level)))
		}
		encoder, err := zstd.NewWriter(nil, options...)
		if err != nil {
			return nil, fmt.Errorf("n5: zstd: %w", err)
		}
		defer encoder.Close()
		return encoder.EncodeAll(payload, nil), nil

	default:
		return nil, fmt.Errorf("n5: unsupported compression %q", comp.Type)
	}
}

// decompress decodes a block payload. expected is the exact number of
// decoded bytes implied by the block header; a mismatch is a corrupt
// block.
func decompress(comp Compression, compressed []byte, expected int) ([]byte, error) {
	var payload []byte

	switch comp.Type {
	case "raw":
		payload = compressed

	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("n5: gzip: %w", err)
		}
		defer reader.Close()
		payload, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("n5: gzip: %w", err)
		}

	case "lz4":
		var err error
		payload, err = io.ReadAll(lz4.NewReader(bytes.NewReader(compressed)))
		if err != nil {
			return nil, fmt.Errorf("n5: lz4: %w", err)
		}

	case "zstd":
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("n5: zstd: %w", err)
		}
		defer decoder.Close()
		payload, err = decoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("n5: zstd: %w", err)
		}

	default:
		return nil, fmt.Errorf("n5: unsupported compression %q", comp.Type)
	}

	if len(payload) != expected {
		return nil, fmt.Errorf("n5: block decoded to %d bytes, want %d", len(payload), expected)
	}
	return payload, nil
}
