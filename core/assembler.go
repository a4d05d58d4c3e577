package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/onboard-cloud-filter/bandstore"
	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// ErrIncompleteFrame indicates that a scene could not be assembled into a
// full four-band frame. The scene is dropped; no partial frame is returned.
var ErrIncompleteFrame = errors.New("incomplete frame")

// Assembler buffers the four bands of a scene into one MultiBandFrame.
type Assembler struct {
	store bandstore.Store
}

// NewAssembler returns an assembler reading from store.
func NewAssembler(store bandstore.Store) *Assembler {
	return &Assembler{store: store}
}

// Assemble reads every channel of scene in ScienceChannelOrder. Any read
// failure or shape disagreement yields ErrIncompleteFrame wrapping the cause.
func (a *Assembler) Assemble(ctx context.Context, scene model.SceneRef) (model.MultiBandFrame, error) {
	bands := make(map[model.Channel]model.RasterBand, len(model.ScienceChannelOrder))
	for _, ch := range model.ScienceChannelOrder {
		b, err := a.store.Read(ctx, scene, ch)
		if err != nil {
			return model.MultiBandFrame{}, fmt.Errorf("%w: %w", ErrIncompleteFrame, err)
		}
		bands[ch] = b
	}

	frame, err := model.NewMultiBandFrame(scene, bands)
	if err != nil {
		return model.MultiBandFrame{}, fmt.Errorf("%w: %w", ErrIncompleteFrame, err)
	}
	return frame, nil
}
