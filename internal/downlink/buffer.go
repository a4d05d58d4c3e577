// Package downlink owns the downlink buffer directory and the packets written
// into it for kept scenes.
package downlink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrWriteFailure indicates that an artifact could not be persisted. No
// partial artifact is left visible.
var ErrWriteFailure = errors.New("downlink write failure")

// tempPrefix marks in-flight artifacts. Consumers ignore dot-files.
const tempPrefix = ".tmp-"

// Buffer is the directory simulating the transmit queue. All mutations are
// serialised so concurrent scene pipelines keep a single writer.
type Buffer struct {
	mu  sync.Mutex
	dir string
}

// NewBuffer returns a buffer rooted at dir. Call Reset before use.
func NewBuffer(dir string) *Buffer {
	return &Buffer{dir: dir}
}

// Dir returns the buffer directory.
func (b *Buffer) Dir() string { return b.dir }

// Reset deletes any previous buffer contents and recreates an empty buffer.
func (b *Buffer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("reset %s: %w", b.dir, err)
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("reset %s: %w", b.dir, err)
	}
	return nil
}

// WriteArtifact stores data under name. The bytes go to a hidden temporary
// file first and are renamed into place only once fully synced.
func (b *Buffer) WriteArtifact(name string, data []byte) error {
	if err := validName(name); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tmp, err := os.CreateTemp(b.dir, tempPrefix+name+"-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailure, name, err)
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailure, name, cause)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpName, filepath.Join(b.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailure, name, err)
	}
	return nil
}

// Remove deletes a visible artifact. Removing an absent artifact is a no-op.
func (b *Buffer) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(filepath.Join(b.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// List returns the visible artifacts, sorted. In-flight temporary files are
// not listed.
func (b *Buffer) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func validName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid artifact name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("artifact name %q contains a path separator", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("artifact name %q is hidden", name)
	}
	return nil
}
