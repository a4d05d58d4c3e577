package downlink

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newBuffer(t *testing.T) *Buffer {
	t.Helper()
	b := NewBuffer(filepath.Join(t.TempDir(), "to_downlink"))
	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	return b
}

func TestResetEmptiesExistingBuffer(t *testing.T) {
	b := newBuffer(t)
	if err := b.WriteArtifact("view_stale.jpg", []byte("old")); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(b.Dir(), "nested", "deeper"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := b.Reset(); err != nil {
			t.Fatalf("Reset #%d: %v", i+1, err)
		}
		entries, err := os.ReadDir(b.Dir())
		if err != nil {
			t.Fatalf("ReadDir after Reset #%d: %v", i+1, err)
		}
		if len(entries) != 0 {
			t.Fatalf("buffer has %d entries after Reset #%d, want 0", len(entries), i+1)
		}
	}
}

func TestResetCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "to_downlink")
	b := NewBuffer(dir)
	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("Stat(%s) = %v, %v; want directory", dir, fi, err)
	}
}

func TestWriteArtifactAndList(t *testing.T) {
	b := newBuffer(t)
	for _, name := range []string{"view_b.jpg", "packet_a.npy", "view_a.jpg"} {
		if err := b.WriteArtifact(name, []byte(name)); err != nil {
			t.Fatalf("WriteArtifact(%s): %v", name, err)
		}
	}
	// in-flight temporary files are never listed
	if err := os.WriteFile(filepath.Join(b.Dir(), tempPrefix+"packet_b.npy-123"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	got, err := b.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"packet_a.npy", "view_a.jpg", "view_b.jpg"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("List mismatch (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(b.Dir(), "view_b.jpg"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "view_b.jpg" {
		t.Fatalf("content = %q, want %q", data, "view_b.jpg")
	}
}

func TestWriteArtifactRejectsBadNames(t *testing.T) {
	b := newBuffer(t)
	for _, name := range []string{"", "..", "../escape.npy", "sub/file.npy", ".hidden"} {
		if err := b.WriteArtifact(name, []byte("x")); !errors.Is(err, ErrWriteFailure) {
			t.Fatalf("WriteArtifact(%q) error = %v, want ErrWriteFailure", name, err)
		}
	}
}

func TestWriteArtifactFailureLeavesNothing(t *testing.T) {
	b := NewBuffer(filepath.Join(t.TempDir(), "never-created"))
	err := b.WriteArtifact("packet_x.npy", []byte("x"))
	if !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("WriteArtifact error = %v, want ErrWriteFailure", err)
	}
	if _, statErr := os.Stat(b.Dir()); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("buffer dir exists after failed write: %v", statErr)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	b := newBuffer(t)
	if err := b.WriteArtifact("view_a.jpg", []byte("x")); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := b.Remove("view_a.jpg"); err != nil {
			t.Fatalf("Remove #%d: %v", i+1, err)
		}
	}
	names, err := b.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("List = %v, want empty", names)
	}
}

func TestConcurrentWritesAreSerialised(t *testing.T) {
	b := newBuffer(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "view_" + string(rune('a'+i)) + ".jpg"
			if err := b.WriteArtifact(name, []byte(name)); err != nil {
				t.Errorf("WriteArtifact(%s): %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	names, err := b.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 16 {
		t.Fatalf("List returned %d names, want 16", len(names))
	}
}
