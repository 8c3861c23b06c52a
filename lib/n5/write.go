// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package n5

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// WriteUint64Matrix writes rows as a two-dimensional uint64 dataset
// with dimensions [columns, rows]. blockRows bounds the number of rows
// per block; zero or negative means all rows in one block. All rows
// must have the same length.
func (c *Container) WriteUint64Matrix(name string, rows [][]uint64, blockRows int, comp Compression) error {
	columns, err := uniformColumns(rows)
	if err != nil {
		return fmt.Errorf("n5: dataset %q: %w", name, err)
	}
	flat := make([]byte, len(rows)*columns*8)
	for i, row := range rows {
		for j, value := range row {
			binary.BigEndian.PutUint64(flat[(i*columns+j)*8:], value)
		}
	}
	return c.writeMatrix(name, "uint64", 8, columns, len(rows), blockRows, comp, flat)
}

// WriteFloat64Matrix writes rows as a two-dimensional float64 dataset
// with dimensions [columns, rows].
func (c *Container) WriteFloat64Matrix(name string, rows [][]float64, blockRows int, comp Compression) error {
	columns, err := uniformColumns(rows)
	if err != nil {
		return fmt.Errorf("n5: dataset %q: %w", name, err)
	}
	flat := make([]byte, len(rows)*columns*8)
	for i, row := range rows {
		for j, value := range row {
			binary.BigEndian.PutUint64(flat[(i*columns+j)*8:], math.Float64bits(value))
		}
	}
	return c.writeMatrix(name, "float64", 8, columns, len(rows), blockRows, comp, flat)
}

func uniformColumns[T any](rows [][]T) (int, error) {
	if len(rows) == 0 {
		return 0, fmt.Errorf("no rows")
	}
	columns := len(rows[0])
	if columns == 0 {
		return 0, fmt.Errorf("empty rows")
	}
	for i, row := range rows {
		if len(row) != columns {
			return 0, fmt.Errorf("row %d has %d columns, want %d", i, len(row), columns)
		}
	}
	return columns, nil
}

// writeMatrix creates the dataset directory, writes its attributes,
// and emits one block per blockRows chunk of rows. The block grid is
// [1, ceil(rows/blockRows)] since a block always spans all columns.
func (c *Container) writeMatrix(name, dataType string, elementSize, columns, rowCount, blockRows int, comp Compression, flat []byte) error {
	if blockRows <= 0 || blockRows > rowCount {
		blockRows = rowCount
	}
	attrs := &DatasetAttributes{
		Dimensions:  []int64{int64(columns), int64(rowCount)},
		BlockSize:   []int32{int32(columns), int32(blockRows)},
		DataType:    dataType,
		Compression: comp,
	}
	if err := attrs.validate(); err != nil {
		return fmt.Errorf("n5: dataset %q: %w", name, err)
	}

	dir := c.groupPath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("n5: creating dataset %q: %w", name, err)
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("n5: dataset %q: %w", name, err)
	}
	if err := os.WriteFile(dir+"/attributes.json", encoded, 0o644); err != nil {
		return fmt.Errorf("n5: writing attributes of %q: %w", name, err)
	}

	rowBytes := columns * elementSize
	for gridRow := 0; gridRow*blockRows < rowCount; gridRow++ {
		firstRow := gridRow * blockRows
		lastRow := min(firstRow+blockRows, rowCount)
		payload := flat[firstRow*rowBytes : lastRow*rowBytes]

		compressed, err := compress(comp, payload)
		if err != nil {
			return fmt.Errorf("n5: block [0 %d] of %q: %w", gridRow, name, err)
		}

		header := make([]byte, 12)
		binary.BigEndian.PutUint16(header[0:], 0)
		binary.BigEndian.PutUint16(header[2:], 2)
		binary.BigEndian.PutUint32(header[4:], uint32(columns))
		binary.BigEndian.PutUint32(header[8:], uint32(lastRow-firstRow))

		path := c.blockPath(name, []int64{0, int64(gridRow)})
		if err := os.MkdirAll(c.blockPath(name, []int64{0}), 0o755); err != nil {
			return fmt.Errorf("n5: block [0 %d] of %q: %w", gridRow, name, err)
		}
		if err := os.WriteFile(path, append(header, compressed...), 0o644); err != nil {
			return fmt.Errorf("n5: block [0 %d] of %q: %w", gridRow, name, err)
		}
	}
	return nil
}
