package bandstore

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/tiff"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

func testBand(h, w int, base uint16) model.RasterBand {
	s := make([]uint16, h*w)
	for i := range s {
		s[i] = base + uint16(i*257)
	}
	return model.RasterBand{Height: h, Width: w, Samples: s}
}

func writeScene(t *testing.T, s *FSStore, scene model.SceneRef, skip ...model.Channel) {
	t.Helper()
	skipped := make(map[model.Channel]bool)
	for _, ch := range skip {
		skipped[ch] = true
	}
	for i, ch := range model.ScienceChannelOrder {
		if skipped[ch] {
			continue
		}
		if err := s.WriteBand(scene, ch, testBand(3, 4, uint16(1000*(i+1)))); err != nil {
			t.Fatalf("WriteBand %s: %v", ch, err)
		}
	}
}

func TestFSStoreReadRoundTrip(t *testing.T) {
	s := NewFSStore(t.TempDir())
	scene := model.SceneRef{Category: model.CategoryClear, ID: "patch_100.TIF"}
	writeScene(t, s, scene)

	got, err := s.Read(context.Background(), scene, model.ChannelGreen)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(testBand(3, 4, 2000), got); diff != "" {
		t.Fatalf("green band mismatch (-want +got):\n%s", diff)
	}
}

func TestFSStorePathTemplate(t *testing.T) {
	s := NewFSStore("/archive")
	got := s.Path(model.SceneRef{Category: model.CategoryCloudy, ID: "patch_200.TIF"}, model.ChannelNIR)
	want := filepath.Join("/archive", "cloudy", "nir", "nir_patch_200.TIF")
	if got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
}

func TestFSStoreListScenes(t *testing.T) {
	root := t.TempDir()
	s := NewFSStore(root)
	writeScene(t, s, model.SceneRef{Category: model.CategoryClear, ID: "patch_2.TIF"})
	writeScene(t, s, model.SceneRef{Category: model.CategoryClear, ID: "patch_1.TIF"})

	// Files without the channel prefix and hidden files are ignored.
	blueDir := filepath.Join(root, "clear", "blue")
	for _, name := range []string{"README", ".blue_hidden.TIF"} {
		if err := os.WriteFile(filepath.Join(blueDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	got, err := s.ListScenes(context.Background(), model.CategoryClear)
	if err != nil {
		t.Fatalf("ListScenes: %v", err)
	}
	if diff := cmp.Diff([]string{"patch_1.TIF", "patch_2.TIF"}, got); diff != "" {
		t.Fatalf("ListScenes mismatch (-want +got):\n%s", diff)
	}

	empty, err := s.ListScenes(context.Background(), model.CategoryCloudy)
	if err != nil {
		t.Fatalf("ListScenes cloudy: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("ListScenes cloudy = %v, want empty", empty)
	}
}

func TestFSStoreMissingChannel(t *testing.T) {
	s := NewFSStore(t.TempDir())
	scene := model.SceneRef{Category: model.CategoryClear, ID: "patch_3.TIF"}
	writeScene(t, s, scene, model.ChannelNIR)

	_, err := s.Read(context.Background(), scene, model.ChannelNIR)
	if !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("Read nir error = %v, want ErrMissingChannel", err)
	}
}

func TestFSStoreRejectsEightBitRaster(t *testing.T) {
	s := NewFSStore(t.TempDir())
	scene := model.SceneRef{Category: model.CategoryClear, ID: "patch_4.TIF"}
	path := s.Path(scene, model.ChannelRed)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := tiff.Encode(f, image.NewGray(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f.Close()

	if _, err := s.Read(context.Background(), scene, model.ChannelRed); !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("Read 8-bit raster error = %v, want ErrMissingChannel", err)
	}
}

func TestFSStoreCorruptRaster(t *testing.T) {
	s := NewFSStore(t.TempDir())
	scene := model.SceneRef{Category: model.CategoryClear, ID: "patch_5.TIF"}
	path := s.Path(scene, model.ChannelRed)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("not a tiff"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Read(context.Background(), scene, model.ChannelRed); !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("Read corrupt raster error = %v, want ErrMissingChannel", err)
	}
}
