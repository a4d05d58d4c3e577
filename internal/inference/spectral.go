package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// Descriptor is the on-disk form of a spectral model.
//
//	name: spectral-cloud-v1
//	input: {height: 384, width: 384, channels: 4}
//	weights: [3.0, 3.0, 3.0, 4.0]   # red, green, blue, nir
//	bias: -3.5
type Descriptor struct {
	Name    string    `yaml:"name"`
	Input   Shape     `yaml:"input"`
	Weights []float64 `yaml:"weights"`
	Bias    float64   `yaml:"bias"`
}

// Validate checks that the descriptor can drive inference.
func (d Descriptor) Validate() error {
	channels := len(model.ScienceChannelOrder)
	if d.Input.Height <= 0 || d.Input.Width <= 0 {
		return fmt.Errorf("input shape %dx%d must be positive", d.Input.Height, d.Input.Width)
	}
	if d.Input.Channels != channels {
		return fmt.Errorf("input has %d channels, want %d", d.Input.Channels, channels)
	}
	if len(d.Weights) != channels {
		return fmt.Errorf("model has %d weights, want %d", len(d.Weights), channels)
	}
	if !finite(d.Bias) {
		return errors.New("bias must be finite")
	}
	for _, w := range d.Weights {
		if !finite(w) {
			return errors.New("weights must be finite")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SpectralEngine scores each pixel independently with a logistic function of
// its four normalized band values.
type SpectralEngine struct {
	desc Descriptor
}

// NewSpectralEngine validates d and returns an engine.
func NewSpectralEngine(d Descriptor) (*SpectralEngine, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, d.Name, err)
	}
	return &SpectralEngine{desc: d}, nil
}

// Load reads a YAML descriptor from path. Any failure is ErrModelUnavailable.
func Load(path string) (*SpectralEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrModelUnavailable, path, err)
	}
	return NewSpectralEngine(d)
}

// Name returns the model name from the descriptor.
func (e *SpectralEngine) Name() string { return e.desc.Name }

func (e *SpectralEngine) InputShape() Shape { return e.desc.Input }

func (e *SpectralEngine) Infer(ctx context.Context, in model.InferenceTensor) (model.CoverageMap, error) {
	if err := CheckShape(e.desc.Input, in); err != nil {
		return model.CoverageMap{}, err
	}

	channels := len(model.ScienceChannelOrder)
	out := model.CoverageMap{Height: in.Height, Width: in.Width, Prob: make([]float32, in.Height*in.Width)}
	for i := range out.Prob {
		if i%in.Width == 0 {
			if err := ctx.Err(); err != nil {
				return model.CoverageMap{}, err
			}
		}
		z := e.desc.Bias
		px := in.Data[i*channels : (i+1)*channels]
		for c, w := range e.desc.Weights {
			z += w * float64(px[c])
		}
		out.Prob[i] = float32(1 / (1 + math.Exp(-z)))
	}
	return out, nil
}
