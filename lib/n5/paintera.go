// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package n5

import (
	"fmt"
)

// painteraDataKey marks a group as a paintera dataset. Its value is an
// object whose "type" field names the dataset flavor.
const painteraDataKey = "painteraData"

// IsPainteraData reports whether the group carries the paintera
// dataset marker.
func (c *Container) IsPainteraData(name string) (bool, error) {
	attrs, err := c.Attributes(name)
	if err != nil {
		return false, err
	}
	_, ok := attrs[painteraDataKey]
	return ok, nil
}

// IsPainteraLabelData reports whether the group is a paintera dataset
// of type "label". The group must carry the paintera marker.
func (c *Container) IsPainteraLabelData(name string) (bool, error) {
	attrs, err := c.Attributes(name)
	if err != nil {
		return false, err
	}
	marker, ok := attrs[painteraDataKey].(map[string]any)
	if !ok {
		return false, fmt.Errorf("n5: group %q has no paintera marker", name)
	}
	datasetType, _ := marker["type"].(string)
	return datasetType == "label", nil
}

// MarkPainteraLabelData writes the paintera label marker onto a group,
// creating the group if needed. Used by tests and tooling that build
// containers from scratch.
func (c *Container) MarkPainteraLabelData(name string) error {
	return c.SetAttributes(name, map[string]any{
		painteraDataKey: map[string]any{"type": "label"},
	})
}
