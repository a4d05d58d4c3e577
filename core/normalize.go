package core

import (
	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

const (
	// DefaultSampleCeiling is the largest value a 16-bit sensor can report.
	DefaultSampleCeiling = 65535.0
	// DefaultPreviewGain brightens the generally dark raw radiance for display.
	DefaultPreviewGain = 3.5
)

// Normalizer rescales raw sensor samples. The zero value is not usable; use
// NewNormalizer or set both fields.
type Normalizer struct {
	// Ceiling is the sample value mapped to 1.0.
	Ceiling float64
	// Gain is the brightness stretch applied to preview and composite views.
	Gain float64
}

// NewNormalizer returns a normalizer for the 16-bit domain with the default
// preview gain.
func NewNormalizer() Normalizer {
	return Normalizer{Ceiling: DefaultSampleCeiling, Gain: DefaultPreviewGain}
}

// ToInferenceTensor stacks the bands in ScienceChannelOrder, divides by the
// ceiling and prepends a batch axis of one.
func (n Normalizer) ToInferenceTensor(frame model.MultiBandFrame) model.InferenceTensor {
	pixels := frame.Height() * frame.Width()
	channels := len(model.ScienceChannelOrder)
	data := make([]float32, pixels*channels)

	for c, ch := range model.ScienceChannelOrder {
		samples := frame.Band(ch).Samples
		for i := 0; i < pixels; i++ {
			data[i*channels+c] = float32(clamp01(float64(samples[i]) / n.Ceiling))
		}
	}

	return model.InferenceTensor{Height: frame.Height(), Width: frame.Width(), Data: data}
}

// ToPreviewTensor stacks Blue, Green, Red, applies Stretch and truncates the
// result to 8 bits. The output is lossy and never feeds a science artifact.
func (n Normalizer) ToPreviewTensor(frame model.MultiBandFrame) model.PreviewTensor {
	pixels := frame.Height() * frame.Width()
	channels := len(model.PreviewChannelOrder)
	data := make([]uint8, pixels*channels)

	for c, ch := range model.PreviewChannelOrder {
		samples := frame.Band(ch).Samples
		for i := 0; i < pixels; i++ {
			data[i*channels+c] = ToByte(n.Stretch(samples[i]))
		}
	}

	return model.PreviewTensor{Height: frame.Height(), Width: frame.Width(), Data: data}
}

// Stretch normalizes a sample, multiplies by the gain and clips to [0, 1].
func (n Normalizer) Stretch(sample uint16) float64 {
	return clamp01(float64(sample) / n.Ceiling * n.Gain)
}

// ToByte maps a value in [0, 1] onto [0, 255], truncating toward zero.
func ToByte(v float64) uint8 {
	return uint8(clamp01(v) * 255)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
