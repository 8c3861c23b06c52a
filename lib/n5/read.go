// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package n5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// ReadUint64Matrix reads a two-dimensional uint64 dataset with
// dimensions [columns, rows] and returns it as rows slices of columns
// elements each. This is the layout the edge dataset uses: one row per
// edge, columns for the two endpoints.
func (c *Container) ReadUint64Matrix(name string) ([][]uint64, error) {
	attrs, flat, err := c.readFlat(name)
	if err != nil {
		return nil, err
	}
	if attrs.DataType != "uint64" {
		return nil, fmt.Errorf("n5: dataset %q has type %q, want uint64", name, attrs.DataType)
	}
	columns, rows, err := matrixShape(name, attrs)
	if err != nil {
		return nil, err
	}

	matrix := make([][]uint64, rows)
	for i := range matrix {
		row := make([]uint64, columns)
		for j := range row {
			offset := (int64(i)*columns + int64(j)) * 8
			row[j] = binary.BigEndian.Uint64(flat[offset:])
		}
		matrix[i] = row
	}
	return matrix, nil
}

// ReadFloat64Matrix reads a two-dimensional floating point dataset
// with dimensions [columns, rows] as rows slices of columns elements.
// float32 data is widened to float64.
func (c *Container) ReadFloat64Matrix(name string) ([][]float64, error) {
	attrs, flat, err := c.readFlat(name)
	if err != nil {
		return nil, err
	}
	columns, rows, err := matrixShape(name, attrs)
	if err != nil {
		return nil, err
	}

	matrix := make([][]float64, rows)
	for i := range matrix {
		row := make([]float64, columns)
		for j := range row {
			index := int64(i)*columns + int64(j)
			switch attrs.DataType {
			case "float64":
				row[j] = math.Float64frombits(binary.BigEndian.Uint64(flat[index*8:]))
			case "float32":
				row[j] = float64(math.Float32frombits(binary.BigEndian.Uint32(flat[index*4:])))
			default:
				return nil, fmt.Errorf("n5: dataset %q has type %q, want float64 or float32",
					name, attrs.DataType)
			}
		}
		matrix[i] = row
	}
	return matrix, nil
}

// matrixShape extracts (columns, rows) from a dataset that must be
// two-dimensional. Dimension 0 is the fastest varying, so it is the
// column count.
func matrixShape(name string, attrs *DatasetAttributes) (columns, rows int64, err error) {
	if len(attrs.Dimensions) != 2 {
		return 0, 0, fmt.Errorf("n5: dataset %q has %d dimensions, want 2",
			name, len(attrs.Dimensions))
	}
	return attrs.Dimensions[0], attrs.Dimensions[1], nil
}

// readFlat assembles the full dataset into a flat big-endian buffer in
// element order (dimension 0 fastest). Blocks missing on disk read as
// zero, which matches the format's sparse semantics.
func (c *Container) readFlat(name string) (*DatasetAttributes, []byte, error) {
	attrs, err := c.DatasetAttributes(name)
	if err != nil {
		return nil, nil, err
	}
	elementSize, err := attrs.elementSize()
	if err != nil {
		return nil, nil, err
	}

	flat := make([]byte, attrs.elementCount()*int64(elementSize))
	strides := elementStrides(attrs.Dimensions)

	grid := attrs.gridSize()
	gridPos := make([]int64, len(grid))
	for {
		if err := c.readBlock(name, attrs, gridPos, strides, elementSize, flat); err != nil {
			return nil, nil, err
		}
		if !nextGridPos(gridPos, grid) {
			break
		}
	}
	return attrs, flat, nil
}

// readBlock decodes one block file into the flat buffer. A missing
// block file is not an error.
func (c *Container) readBlock(name string, attrs *DatasetAttributes, gridPos, strides []int64, elementSize int, flat []byte) error {
	raw, err := os.ReadFile(c.blockPath(name, gridPos))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("n5: reading block %v of %q: %w", gridPos, name, err)
	}

	headerSize := 4 + 4*len(attrs.Dimensions)
	if len(raw) < headerSize {
		return fmt.Errorf("n5: block %v of %q: truncated header", gridPos, name)
	}
	mode := binary.BigEndian.Uint16(raw[0:])
	if mode != 0 {
		return fmt.Errorf("n5: block %v of %q: unsupported mode %d", gridPos, name, mode)
	}
	dimCount := int(binary.BigEndian.Uint16(raw[2:]))
	if dimCount != len(attrs.Dimensions) {
		return fmt.Errorf("n5: block %v of %q: %d dimensions, want %d",
			gridPos, name, dimCount, len(attrs.Dimensions))
	}

	blockDims := make([]int64, dimCount)
	blockElements := int64(1)
	for d := range blockDims {
		size := int64(int32(binary.BigEndian.Uint32(raw[4+4*d:])))
		if size <= 0 || size > int64(attrs.BlockSize[d]) {
			return fmt.Errorf("n5: block %v of %q: size %d exceeds blockSize %d",
				gridPos, name, size, attrs.BlockSize[d])
		}
		blockDims[d] = size
		blockElements *= size
	}

	payload, err := decompress(attrs.Compression, raw[headerSize:], int(blockElements)*elementSize)
	if err != nil {
		return fmt.Errorf("n5: block %v of %q: %w", gridPos, name, err)
	}

	// Scatter block elements into the flat buffer. Element order
	// inside the block is dimension 0 fastest, same as the dataset.
	for element := int64(0); element < blockElements; element++ {
		remainder := element
		index := int64(0)
		for d := range blockDims {
			coordinate := gridPos[d]*int64(attrs.BlockSize[d]) + remainder%blockDims[d]
			remainder /= blockDims[d]
			if coordinate >= attrs.Dimensions[d] {
				return fmt.Errorf("n5: block %v of %q: element outside dataset bounds",
					gridPos, name)
			}
			index += coordinate * strides[d]
		}
		copy(flat[index*int64(elementSize):], payload[element*int64(elementSize):(element+1)*int64(elementSize)])
	}
	return nil
}

// blockPath returns the block file for a grid position, one path
// segment per dimension.
func (c *Container) blockPath(name string, gridPos []int64) string {
	path := c.groupPath(name)
	for _, g := range gridPos {
		path = filepath.Join(path, strconv.FormatInt(g, 10))
	}
	return path
}

// elementStrides returns per-dimension strides in elements for the
// flat layout with dimension 0 fastest.
func elementStrides(dims []int64) []int64 {
	strides := make([]int64, len(dims))
	stride := int64(1)
	for d := range dims {
		strides[d] = stride
		stride *= dims[d]
	}
	return strides
}

// nextGridPos advances gridPos to the next block in dimension-0-fastest
// order. It returns false after the last position.
func nextGridPos(gridPos, grid []int64) bool {
	for d := range gridPos {
		gridPos[d]++
		if gridPos[d] < grid[d] {
			return true
		}
		gridPos[d] = 0
	}
	return false
}
