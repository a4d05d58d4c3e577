package model

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Channel names one spectral band of the imager.
type Channel string

const (
	ChannelRed   Channel = "red"
	ChannelGreen Channel = "green"
	ChannelBlue  Channel = "blue"
	ChannelNIR   Channel = "nir"
)

// ScienceChannelOrder is the channel order of the inference tensor and of the
// lossless downlink artifact. Ground-station decoders index channels by it.
var ScienceChannelOrder = [4]Channel{ChannelRed, ChannelGreen, ChannelBlue, ChannelNIR}

// PreviewChannelOrder is the channel order of the 8-bit preview tensor.
var PreviewChannelOrder = [3]Channel{ChannelBlue, ChannelGreen, ChannelRed}

// ReferenceChannel is the channel whose directory listing defines the
// available scenes of a category.
const ReferenceChannel = ChannelBlue

// Category selects which part of the raw archive a capture is drawn from.
// It is used for source selection only and is not carried downstream.
type Category string

const (
	CategoryClear  Category = "clear"
	CategoryCloudy Category = "cloudy"
)

// Categories lists every capture category in a stable order.
var Categories = []Category{CategoryClear, CategoryCloudy}

// SceneRef identifies one captured scene.
type SceneRef struct {
	Category Category
	// ID is the file suffix shared by the four channel files, e.g. "patch_100.TIF".
	ID string
}

// Stem returns the scene ID without its file extension. Artifact names use it.
func (r SceneRef) Stem() string {
	return strings.TrimSuffix(r.ID, filepath.Ext(r.ID))
}

func (r SceneRef) String() string {
	return string(r.Category) + "/" + r.ID
}

// ErrDimensionMismatch is returned when bands of one frame disagree in shape.
var ErrDimensionMismatch = errors.New("band dimensions disagree")

// RasterBand is a row-major grid of unsigned 16-bit samples for one channel.
type RasterBand struct {
	Height  int
	Width   int
	Samples []uint16
}

// At returns the sample at row y, column x.
func (b RasterBand) At(y, x int) uint16 {
	return b.Samples[y*b.Width+x]
}

// Validate checks that the sample slice matches the declared shape.
func (b RasterBand) Validate() error {
	n, err := area(b.Height, b.Width)
	if err != nil {
		return err
	}
	if len(b.Samples) != n {
		return fmt.Errorf("band has %d samples, want %d for %dx%d", len(b.Samples), n, b.Height, b.Width)
	}
	return nil
}

// area returns height*width, rejecting non-positive and overflowing shapes.
func area(height, width int) (int, error) {
	if height <= 0 || width <= 0 {
		return 0, fmt.Errorf("invalid band shape %dx%d", height, width)
	}
	if height > math.MaxInt/width {
		return 0, fmt.Errorf("band shape %dx%d overflows", height, width)
	}
	return height * width, nil
}

// MultiBandFrame holds the four bands of one scene. It is immutable once built
// by NewMultiBandFrame.
type MultiBandFrame struct {
	scene  SceneRef
	height int
	width  int
	bands  map[Channel]RasterBand
}

// NewMultiBandFrame builds a frame from exactly one band per channel of
// ScienceChannelOrder. All bands must share the same dimensions.
func NewMultiBandFrame(scene SceneRef, bands map[Channel]RasterBand) (MultiBandFrame, error) {
	if len(bands) != len(ScienceChannelOrder) {
		return MultiBandFrame{}, fmt.Errorf("frame %s: got %d bands, want %d", scene, len(bands), len(ScienceChannelOrder))
	}

	ref, ok := bands[ScienceChannelOrder[0]]
	if !ok {
		return MultiBandFrame{}, fmt.Errorf("frame %s: missing %s band", scene, ScienceChannelOrder[0])
	}

	copied := make(map[Channel]RasterBand, len(bands))
	for _, ch := range ScienceChannelOrder {
		b, ok := bands[ch]
		if !ok {
			return MultiBandFrame{}, fmt.Errorf("frame %s: missing %s band", scene, ch)
		}
		if err := b.Validate(); err != nil {
			return MultiBandFrame{}, fmt.Errorf("frame %s: %s band: %w", scene, ch, err)
		}
		if b.Height != ref.Height || b.Width != ref.Width {
			return MultiBandFrame{}, fmt.Errorf("frame %s: %s band is %dx%d, %s band is %dx%d: %w",
				scene, ch, b.Height, b.Width, ScienceChannelOrder[0], ref.Height, ref.Width, ErrDimensionMismatch)
		}
		samples := make([]uint16, len(b.Samples))
		copy(samples, b.Samples)
		copied[ch] = RasterBand{Height: b.Height, Width: b.Width, Samples: samples}
	}

	return MultiBandFrame{
		scene:  scene,
		height: ref.Height,
		width:  ref.Width,
		bands:  copied,
	}, nil
}

// Scene returns the scene this frame was captured from.
func (f MultiBandFrame) Scene() SceneRef { return f.scene }

// Height returns the number of rows of every band.
func (f MultiBandFrame) Height() int { return f.height }

// Width returns the number of columns of every band.
func (f MultiBandFrame) Width() int { return f.width }

// Band returns the band of the given channel. Callers must not modify the
// returned samples.
func (f MultiBandFrame) Band(ch Channel) RasterBand { return f.bands[ch] }

// Interleaved returns the samples as an H×W×4 pixel-interleaved array in
// ScienceChannelOrder.
func (f MultiBandFrame) Interleaved() []uint16 {
	n := f.height * f.width
	out := make([]uint16, n*len(ScienceChannelOrder))
	for c, ch := range ScienceChannelOrder {
		samples := f.bands[ch].Samples
		for i := 0; i < n; i++ {
			out[i*len(ScienceChannelOrder)+c] = samples[i]
		}
	}
	return out
}

// FrameFromInterleaved rebuilds a frame from an H×W×4 array laid out in
// ScienceChannelOrder.
func FrameFromInterleaved(scene SceneRef, height, width int, data []uint16) (MultiBandFrame, error) {
	channels := len(ScienceChannelOrder)
	n, err := area(height, width)
	if err != nil {
		return MultiBandFrame{}, err
	}
	if n > math.MaxInt/channels {
		return MultiBandFrame{}, fmt.Errorf("interleaved shape %dx%dx%d overflows", height, width, channels)
	}
	if len(data) != n*channels {
		return MultiBandFrame{}, fmt.Errorf("interleaved data has %d samples, want %d", len(data), n*channels)
	}
	bands := make(map[Channel]RasterBand, channels)
	for c, ch := range ScienceChannelOrder {
		samples := make([]uint16, n)
		for i := range samples {
			samples[i] = data[i*channels+c]
		}
		bands[ch] = RasterBand{Height: height, Width: width, Samples: samples}
	}
	return NewMultiBandFrame(scene, bands)
}
