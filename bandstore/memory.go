package bandstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// MemoryStore is an in-memory, thread-safe band archive.
type MemoryStore struct {
	mu sync.RWMutex

	// bands is keyed by scene, then channel.
	bands map[model.SceneRef]map[model.Channel]model.RasterBand
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bands: make(map[model.SceneRef]map[model.Channel]model.RasterBand),
	}
}

// Put stores one band of a scene, replacing any previous band for the same
// channel.
func (s *MemoryStore) Put(scene model.SceneRef, ch model.Channel, band model.RasterBand) error {
	if err := band.Validate(); err != nil {
		return fmt.Errorf("put %s band of %s: %w", ch, scene, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byChannel, ok := s.bands[scene]
	if !ok {
		byChannel = make(map[model.Channel]model.RasterBand)
		s.bands[scene] = byChannel
	}
	byChannel[ch] = band
	return nil
}

// PutScene stores all bands of a scene.
func (s *MemoryStore) PutScene(scene model.SceneRef, bands map[model.Channel]model.RasterBand) error {
	for ch, b := range bands {
		if err := s.Put(scene, ch, b); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes one band of a scene. Deleting an absent band is a no-op.
func (s *MemoryStore) Delete(scene model.SceneRef, ch model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byChannel, ok := s.bands[scene]; ok {
		delete(byChannel, ch)
	}
}

// ListScenes returns the scenes of category that have a reference band.
func (s *MemoryStore) ListScenes(ctx context.Context, category model.Category) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]string, 0, len(s.bands))
	for scene, byChannel := range s.bands {
		if scene.Category != category {
			continue
		}
		if _, ok := byChannel[model.ReferenceChannel]; ok {
			res = append(res, scene.ID)
		}
	}
	sort.Strings(res)
	return res, nil
}

// Read returns a snapshot copy of one band.
func (s *MemoryStore) Read(ctx context.Context, scene model.SceneRef, ch model.Channel) (model.RasterBand, error) {
	if err := ctx.Err(); err != nil {
		return model.RasterBand{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bands[scene][ch]
	if !ok {
		return model.RasterBand{}, fmt.Errorf("%s band of %s: %w", ch, scene, ErrMissingChannel)
	}
	samples := make([]uint16, len(b.Samples))
	copy(samples, b.Samples)
	return model.RasterBand{Height: b.Height, Width: b.Width, Samples: samples}, nil
}
