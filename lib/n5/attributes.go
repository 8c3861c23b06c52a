// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package n5

import (
	"fmt"
)

// Compression identifies the block codec of a dataset. Type is one of
// "raw", "gzip", "lz4", or "zstd". Level is used by gzip and zstd;
// zero means the codec default.
type Compression struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

// RawCompression returns the identity codec.
func RawCompression() Compression {
	return Compression{Type: "raw"}
}

// GzipCompression returns the gzip codec at its default level.
func GzipCompression() Compression {
	return Compression{Type: "gzip", Level: -1}
}

// DatasetAttributes is the parsed attributes.json of a dataset. Valid
// data types are "uint64", "float64", and "float32".
type DatasetAttributes struct {
	Dimensions  []int64     `json:"dimensions"`
	BlockSize   []int32     `json:"blockSize"`
	DataType    string      `json:"dataType"`
	Compression Compression `json:"compression"`
}

// elementSize returns the byte width of one element, or an error for
// an unsupported data type.
func (a *DatasetAttributes) elementSize() (int, error) {
	switch a.DataType {
	case "uint64", "float64":
		return 8, nil
	case "float32":
		return 4, nil
	default:
		return 0, fmt.Errorf("n5: unsupported data type %q", a.DataType)
	}
}

// validate checks structural consistency between dimensions and block
// size, and that the data type and codec are supported.
func (a *DatasetAttributes) validate() error {
	if len(a.Dimensions) == 0 {
		return fmt.Errorf("n5: dataset has no dimensions")
	}
	if len(a.BlockSize) != len(a.Dimensions) {
		return fmt.Errorf("n5: blockSize has %d entries for %d dimensions",
			len(a.BlockSize), len(a.Dimensions))
	}
	for i, d := range a.Dimensions {
		if d < 0 {
			return fmt.Errorf("n5: negative dimension %d at index %d", d, i)
		}
	}
	for i, b := range a.BlockSize {
		if b <= 0 {
			return fmt.Errorf("n5: non-positive block size %d at index %d", b, i)
		}
	}
	if _, err := a.elementSize(); err != nil {
		return err
	}
	switch a.Compression.Type {
	case "raw", "gzip", "lz4", "zstd":
	default:
		return fmt.Errorf("n5: unsupported compression %q", a.Compression.Type)
	}
	return nil
}

// elementCount returns the total number of elements in the dataset.
func (a *DatasetAttributes) elementCount() int64 {
	count := int64(1)
	for _, d := range a.Dimensions {
		count *= d
	}
	return count
}

// gridSize returns the number of blocks along each dimension.
func (a *DatasetAttributes) gridSize() []int64 {
	grid := make([]int64, len(a.Dimensions))
	for i, d := range a.Dimensions {
		grid[i] = (d + int64(a.BlockSize[i]) - 1) / int64(a.BlockSize[i])
	}
	return grid
}
