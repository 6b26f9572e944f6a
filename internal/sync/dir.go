package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DirDestination writes exports into a local directory, keeping the newest
// Keep files. Keep zero keeps everything.
type DirDestination struct {
	dir  string
	keep int
}

// NewDirDestination creates a directory destination, creating dir if needed.
func NewDirDestination(dir string, keep int) (*DirDestination, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &DirDestination{dir: dir, keep: keep}, nil
}

// Write stores data under name. The file appears atomically.
func (d *DirDestination) Write(_ context.Context, name string, data []byte) error {
	tmp, err := os.CreateTemp(d.dir, ".export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return d.prune()
}

// prune removes the oldest exports beyond the keep limit. Export names sort
// chronologically.
func (d *DirDestination) prune() error {
	if d.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "export-") && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	for len(names) > d.keep {
		if err := os.Remove(filepath.Join(d.dir, names[0])); err != nil {
			return fmt.Errorf("remove old export: %w", err)
		}
		names = names[1:]
	}
	return nil
}
