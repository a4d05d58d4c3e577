// Package bandstore provides read access to per-band raster archives and the
// scene selection strategy used to simulate camera triggers.
package bandstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

var (
	// ErrEmptyCatalog indicates that the selected category holds no scenes.
	ErrEmptyCatalog = errors.New("empty catalog")
	// ErrMissingChannel indicates that a channel source is absent or unreadable.
	ErrMissingChannel = errors.New("missing channel")
)

// Store is a read-only source of single-band rasters.
type Store interface {
	// ListScenes returns the scene IDs available in the reference channel of
	// the category, sorted.
	ListScenes(ctx context.Context, category model.Category) ([]string, error)
	// Read returns the band of one channel of a scene. It fails with
	// ErrMissingChannel when the source is absent or unreadable.
	Read(ctx context.Context, scene model.SceneRef, ch model.Channel) (model.RasterBand, error)
}

// Capture simulates a camera trigger: it picks a category, then a scene of
// that category, using sel. An empty category yields ErrEmptyCatalog.
func Capture(ctx context.Context, store Store, sel Selector) (model.SceneRef, error) {
	category := sel.PickCategory(model.Categories)

	scenes, err := store.ListScenes(ctx, category)
	if err != nil {
		return model.SceneRef{Category: category}, err
	}
	if len(scenes) == 0 {
		return model.SceneRef{Category: category}, fmt.Errorf("category %q: %w", category, ErrEmptyCatalog)
	}

	return model.SceneRef{Category: category, ID: sel.PickScene(scenes)}, nil
}
