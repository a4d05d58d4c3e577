package model

import "time"

// InferenceTensor is a normalized frame laid out NHWC with a batch of one and
// four channels in ScienceChannelOrder. Values lie in [0, 1].
type InferenceTensor struct {
	Height int
	Width  int
	Data   []float32
}

// Shape returns the tensor shape as (batch, height, width, channels).
func (t InferenceTensor) Shape() [4]int {
	return [4]int{1, t.Height, t.Width, len(ScienceChannelOrder)}
}

// At returns the value of channel c at row y, column x.
func (t InferenceTensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*len(ScienceChannelOrder)+c]
}

// PreviewTensor is a brightness-stretched 8-bit HWC image with three channels
// in PreviewChannelOrder. It is for display only.
type PreviewTensor struct {
	Height int
	Width  int
	Data   []uint8
}

// CoverageMap holds the per-pixel cloud probability produced by inference.
type CoverageMap struct {
	Height int
	Width  int
	Prob   []float32
}

// At returns the probability at row y, column x.
func (m CoverageMap) At(y, x int) float32 {
	return m.Prob[y*m.Width+x]
}

// Disposition is the keep/discard outcome of the decision policy.
type Disposition int

const (
	Keep Disposition = iota
	Discard
)

func (d Disposition) String() string {
	switch d {
	case Keep:
		return "keep"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Packet describes the artifact pair written for a kept scene.
type Packet struct {
	Scene        SceneRef
	ScienceName  string
	PreviewName  string
	ScienceBytes int
	PreviewBytes int
}

// Footprint is the sub-satellite point at capture time.
type Footprint struct {
	Time         time.Time
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeKm   float64
}
