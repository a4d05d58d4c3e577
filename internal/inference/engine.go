// Package inference holds the cloud-scoring engine boundary. The pipeline
// treats the engine as opaque: one normalized tensor in, one coverage map out.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

var (
	// ErrModelUnavailable indicates that the engine could not be initialised.
	// It is the only error that halts a run.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInputShape indicates a tensor whose shape differs from the model input.
	ErrInputShape = errors.New("input tensor shape mismatch")
	// ErrOutputShape indicates a coverage map that does not cover the input.
	ErrOutputShape = errors.New("coverage map shape mismatch")
)

// Shape is the fixed spatial input shape of a model.
type Shape struct {
	Height   int `yaml:"height"`
	Width    int `yaml:"width"`
	Channels int `yaml:"channels"`
}

// Engine scores a normalized scene for cloud cover.
type Engine interface {
	// Infer returns a coverage map with the tensor's spatial dimensions.
	Infer(ctx context.Context, in model.InferenceTensor) (model.CoverageMap, error)
	// InputShape returns the tensor shape the engine accepts.
	InputShape() Shape
}

// EngineFunc adapts a function to Engine. The zero shape accepts any input.
type EngineFunc struct {
	Shape Shape
	Fn    func(ctx context.Context, in model.InferenceTensor) (model.CoverageMap, error)
}

func (e EngineFunc) Infer(ctx context.Context, in model.InferenceTensor) (model.CoverageMap, error) {
	return e.Fn(ctx, in)
}

func (e EngineFunc) InputShape() Shape { return e.Shape }

// CheckShape verifies in against want. Zero dimensions in want match anything.
func CheckShape(want Shape, in model.InferenceTensor) error {
	channels := len(model.ScienceChannelOrder)
	if len(in.Data) != in.Height*in.Width*channels {
		return fmt.Errorf("%w: %d values for %dx%dx%d", ErrInputShape, len(in.Data), in.Height, in.Width, channels)
	}
	if (want.Height != 0 && want.Height != in.Height) ||
		(want.Width != 0 && want.Width != in.Width) ||
		(want.Channels != 0 && want.Channels != channels) {
		return fmt.Errorf("%w: got 1x%dx%dx%d, model expects 1x%dx%dx%d",
			ErrInputShape, in.Height, in.Width, channels, want.Height, want.Width, want.Channels)
	}
	return nil
}

// CheckCoverage verifies that cm has the spatial dimensions of in.
func CheckCoverage(in model.InferenceTensor, cm model.CoverageMap) error {
	if cm.Height != in.Height || cm.Width != in.Width || len(cm.Prob) != cm.Height*cm.Width {
		return fmt.Errorf("%w: got %dx%d with %d values for a %dx%d input",
			ErrOutputShape, cm.Height, cm.Width, len(cm.Prob), in.Height, in.Width)
	}
	return nil
}
