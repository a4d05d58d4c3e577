package bandstore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// FSStore reads rasters laid out as
//
//	<root>/<category>/<channel>/<channel>_<sceneID>
//
// where every file is a single-band 16-bit grayscale TIFF.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// Root returns the archive root directory.
func (s *FSStore) Root() string { return s.root }

// Path resolves the source file of one channel of a scene.
func (s *FSStore) Path(scene model.SceneRef, ch model.Channel) string {
	return filepath.Join(s.root, string(scene.Category), string(ch), string(ch)+"_"+scene.ID)
}

// ListScenes lists the reference channel directory of category. A missing
// directory is an empty catalog, not an error.
func (s *FSStore) ListScenes(ctx context.Context, category model.Category) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, string(category), string(model.ReferenceChannel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	prefix := string(model.ReferenceChannel) + "_"
	scenes := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		if id := strings.TrimPrefix(name, prefix); id != "" {
			scenes = append(scenes, id)
		}
	}
	sort.Strings(scenes)
	return scenes, nil
}

// Read decodes one channel of a scene.
func (s *FSStore) Read(ctx context.Context, scene model.SceneRef, ch model.Channel) (model.RasterBand, error) {
	if err := ctx.Err(); err != nil {
		return model.RasterBand{}, err
	}

	path := s.Path(scene, ch)
	f, err := os.Open(path)
	if err != nil {
		return model.RasterBand{}, fmt.Errorf("%s band of %s: %w: %v", ch, scene, ErrMissingChannel, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return model.RasterBand{}, fmt.Errorf("%s band of %s: %w: decode %s: %v", ch, scene, ErrMissingChannel, path, err)
	}

	band, err := bandFromImage(img)
	if err != nil {
		return model.RasterBand{}, fmt.Errorf("%s band of %s: %w: %v", ch, scene, ErrMissingChannel, err)
	}
	return band, nil
}

func bandFromImage(img image.Image) (model.RasterBand, error) {
	g, ok := img.(*image.Gray16)
	if !ok {
		return model.RasterBand{}, fmt.Errorf("unsupported raster type %T, want 16-bit grayscale", img)
	}

	b := g.Bounds()
	band := model.RasterBand{
		Height:  b.Dy(),
		Width:   b.Dx(),
		Samples: make([]uint16, b.Dx()*b.Dy()),
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			band.Samples[(y-b.Min.Y)*band.Width+(x-b.Min.X)] = g.Gray16At(x, y).Y
		}
	}
	return band, band.Validate()
}

// WriteBand encodes band as a 16-bit grayscale TIFF at the path FSStore would
// read for (scene, ch), creating directories as needed. It is used to seed
// archives for simulation runs and tests.
func (s *FSStore) WriteBand(scene model.SceneRef, ch model.Channel, band model.RasterBand) error {
	if err := band.Validate(); err != nil {
		return err
	}
	path := s.Path(scene, ch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	img := image.NewGray16(image.Rect(0, 0, band.Width, band.Height))
	for i, v := range band.Samples {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
