package quicklook

import (
	"context"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/onboard-cloud-filter/core"
	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

func frame(t *testing.T) model.MultiBandFrame {
	t.Helper()
	bands := make(map[model.Channel]model.RasterBand)
	for _, ch := range model.ScienceChannelOrder {
		bands[ch] = model.RasterBand{Height: 2, Width: 2, Samples: []uint16{0, 10000, 20000, 65535}}
	}
	f, err := model.NewMultiBandFrame(model.SceneRef{Category: model.CategoryCloudy, ID: "patch_200.TIF"}, bands)
	if err != nil {
		t.Fatalf("NewMultiBandFrame: %v", err)
	}
	return f
}

func TestObserveWritesSideBySidePNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "quicklook")
	w, err := NewWriter(dir, core.NewNormalizer())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	cm := model.CoverageMap{Height: 2, Width: 2, Prob: []float32{0, 0.2, 0.9, 1}}
	if err := w.Observe(context.Background(), frame(t), cm, model.Discard); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	path := filepath.Join(dir, "quicklook_cloudy_patch_200_discard.png")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if got := img.Bounds().Size(); got.X != 4 || got.Y != 2 {
		t.Fatalf("quicklook size = %v, want 4x2", got)
	}
	if saved, dropped := w.Stats(); saved != 1 || dropped != 0 {
		t.Fatalf("Stats = %d saved, %d dropped; want 1, 0", saved, dropped)
	}
}

func TestRenderTintsCloudPixels(t *testing.T) {
	bands := make(map[model.Channel]model.RasterBand)
	for _, ch := range model.ScienceChannelOrder {
		bands[ch] = model.RasterBand{Height: 1, Width: 2, Samples: []uint16{0, 0}}
	}
	f, err := model.NewMultiBandFrame(model.SceneRef{Category: model.CategoryClear, ID: "patch_1.TIF"}, bands)
	if err != nil {
		t.Fatalf("NewMultiBandFrame: %v", err)
	}
	cm := model.CoverageMap{Height: 1, Width: 2, Prob: []float32{0.4, 1}}

	img, err := Render(f, cm, core.Normalizer{Ceiling: 65535, Gain: FalseColorGain})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	grey := img.RGBAAt(2, 0)
	if grey.R != grey.G || grey.G != grey.B {
		t.Fatalf("sub-threshold pixel %+v should be grey", grey)
	}
	cloud := img.RGBAAt(3, 0)
	if cloud.R != 255 || cloud.G >= cloud.R {
		t.Fatalf("cloud pixel %+v should be tinted red", cloud)
	}
}

func TestRenderMapsNIRRedGreenToDisplay(t *testing.T) {
	samples := map[model.Channel]uint16{
		model.ChannelRed:   10000,
		model.ChannelGreen: 2000,
		model.ChannelBlue:  30000,
		model.ChannelNIR:   5000,
	}
	bands := make(map[model.Channel]model.RasterBand)
	for ch, v := range samples {
		bands[ch] = model.RasterBand{Height: 1, Width: 1, Samples: []uint16{v}}
	}
	f, err := model.NewMultiBandFrame(model.SceneRef{Category: model.CategoryClear, ID: "patch_1.TIF"}, bands)
	if err != nil {
		t.Fatalf("NewMultiBandFrame: %v", err)
	}
	w, err := NewWriter(t.TempDir(), core.NewNormalizer())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	img, err := Render(f, model.CoverageMap{Height: 1, Width: 1, Prob: []float32{0}}, w.normalizer)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	// 5000, 10000 and 2000 of 65535, stretched by 3.
	want := color.RGBA{R: 58, G: 116, B: 23, A: 0xff}
	if got := img.RGBAAt(0, 0); got != want {
		t.Fatalf("false-colour pixel = %+v, want %+v", got, want)
	}
}

func TestObserveRejectsMismatchedCoverage(t *testing.T) {
	w, err := NewWriter(t.TempDir(), core.NewNormalizer())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	cm := model.CoverageMap{Height: 1, Width: 1, Prob: []float32{0}}
	if err := w.Observe(context.Background(), frame(t), cm, model.Keep); err == nil {
		t.Fatalf("Observe accepted a 1x1 coverage map for a 2x2 frame")
	}
	if _, dropped := w.Stats(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}
