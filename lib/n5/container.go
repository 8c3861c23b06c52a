// Copyright 2026 The pias Authors
// SPDX-License-Identifier: Apache-2.0

package n5

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// n5Version is written to the root attributes of new containers. It is
// the format version, not the software version.
const n5Version = "2.5.1"

// Container is a filesystem N5 container rooted at a directory.
type Container struct {
	root string
}

// Open opens an existing container. The root directory must exist;
// a missing root attributes.json is tolerated since some writers omit
// it.
func Open(path string) (*Container, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("n5: opening container: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("n5: %s is not a directory", path)
	}
	return &Container{root: path}, nil
}

// Create creates a new container at path, making the directory and
// writing the format version to the root attributes. Creating over an
// existing container is allowed.
func Create(path string) (*Container, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("n5: creating container: %w", err)
	}
	container := &Container{root: path}
	if err := container.SetAttributes("", map[string]any{"n5": n5Version}); err != nil {
		return nil, err
	}
	return container, nil
}

// Root returns the container's root directory.
func (c *Container) Root() string {
	return c.root
}

// groupPath maps a group or dataset name to its directory. Names use
// forward slashes; a leading slash and empty segments are ignored.
func (c *Container) groupPath(name string) string {
	parts := strings.Split(name, "/")
	clean := parts[:0]
	for _, p := range parts {
		if p != "" {
			clean = append(clean, p)
		}
	}
	return filepath.Join(append([]string{c.root}, clean...)...)
}

// Exists reports whether a group or dataset directory is present.
func (c *Container) Exists(name string) bool {
	info, err := os.Stat(c.groupPath(name))
	return err == nil && info.IsDir()
}

// Attributes returns the attributes.json of a group or dataset as a
// generic map. A missing attributes file yields an empty map; a
// missing group is an error.
func (c *Container) Attributes(name string) (map[string]any, error) {
	dir := c.groupPath(name)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("n5: no group %q in %s", name, c.root)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "attributes.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("n5: reading attributes of %q: %w", name, err)
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("n5: parsing attributes of %q: %w", name, err)
	}
	return attrs, nil
}

// SetAttributes merges the given keys into the attributes.json of a
// group or dataset, creating the group if needed. Existing keys not
// named in attrs are preserved.
func (c *Container) SetAttributes(name string, attrs map[string]any) error {
	dir := c.groupPath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("n5: creating group %q: %w", name, err)
	}
	merged, err := c.Attributes(name)
	if err != nil {
		return err
	}
	for key, value := range attrs {
		merged[key] = value
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("n5: encoding attributes of %q: %w", name, err)
	}
	path := filepath.Join(dir, "attributes.json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("n5: writing attributes of %q: %w", name, err)
	}
	return nil
}

// DatasetAttributes returns the parsed, validated dataset attributes
// of name, or an error if name is not a dataset.
func (c *Container) DatasetAttributes(name string) (*DatasetAttributes, error) {
	dir := c.groupPath(name)
	raw, err := os.ReadFile(filepath.Join(dir, "attributes.json"))
	if err != nil {
		return nil, fmt.Errorf("n5: no dataset %q in %s: %w", name, c.root, err)
	}
	attrs := &DatasetAttributes{}
	if err := json.Unmarshal(raw, attrs); err != nil {
		return nil, fmt.Errorf("n5: parsing attributes of %q: %w", name, err)
	}
	if attrs.DataType == "" || len(attrs.Dimensions) == 0 {
		return nil, fmt.Errorf("n5: %q is a group, not a dataset", name)
	}
	if err := attrs.validate(); err != nil {
		return nil, fmt.Errorf("n5: dataset %q: %w", name, err)
	}
	return attrs, nil
}
