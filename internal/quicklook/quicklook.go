// Package quicklook renders a side-by-side NIR false-colour view and coverage
// mask for every decided scene. It is a presentation consumer and never feeds
// the downlink.
package quicklook

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/signalsfoundry/onboard-cloud-filter/core"
	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// FalseColorGain is the brightness stretch of the false-colour half.
const FalseColorGain = 3.0

// Writer saves quicklook PNGs into a directory. Safe for concurrent use.
type Writer struct {
	dir        string
	normalizer core.Normalizer
	saved      atomic.Uint64
	dropped    atomic.Uint64
}

// NewWriter creates dir if needed and returns a writer targeting it. Only the
// normalizer's ceiling is used; the view is stretched by FalseColorGain.
func NewWriter(dir string, normalizer core.Normalizer) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create quicklook dir: %w", err)
	}
	return &Writer{dir: dir, normalizer: core.Normalizer{Ceiling: normalizer.Ceiling, Gain: FalseColorGain}}, nil
}

// Name returns the file name used for scene with disposition d.
func Name(scene model.SceneRef, d model.Disposition) string {
	return fmt.Sprintf("quicklook_%s_%s_%s.png", scene.Category, scene.Stem(), d)
}

// Observe renders the false-colour view on the left and the coverage map on
// the right.
func (w *Writer) Observe(ctx context.Context, frame model.MultiBandFrame, cm model.CoverageMap, d model.Disposition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := Render(frame, cm, w.normalizer)
	if err != nil {
		w.dropped.Add(1)
		return err
	}

	path := filepath.Join(w.dir, Name(frame.Scene(), d))
	f, err := os.Create(path)
	if err != nil {
		w.dropped.Add(1)
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		w.dropped.Add(1)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		w.dropped.Add(1)
		return fmt.Errorf("close %s: %w", path, err)
	}
	w.saved.Add(1)
	return nil
}

// Stats returns current save statistics.
func (w *Writer) Stats() (saved, dropped uint64) {
	return w.saved.Load(), w.dropped.Load()
}

// Render composes the NIR,Red,Green false-colour view of frame, stretched by
// n, and the coverage map into one image twice as wide. Coverage is drawn as
// grey levels; binarized cloud pixels are tinted red.
func Render(frame model.MultiBandFrame, cm model.CoverageMap, n core.Normalizer) (*image.RGBA, error) {
	w, h := frame.Width(), frame.Height()
	if cm.Height != h || cm.Width != w || len(cm.Prob) != cm.Height*cm.Width {
		return nil, fmt.Errorf("coverage map %dx%d does not match frame %dx%d", cm.Height, cm.Width, h, w)
	}

	nir := frame.Band(model.ChannelNIR)
	red := frame.Band(model.ChannelRed)
	green := frame.Band(model.ChannelGreen)

	out := image.NewRGBA(image.Rect(0, 0, 2*w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetRGBA(x, y, color.RGBA{
				R: core.ToByte(n.Stretch(nir.At(y, x))),
				G: core.ToByte(n.Stretch(red.At(y, x))),
				B: core.ToByte(n.Stretch(green.At(y, x))),
				A: 0xff,
			})

			p := cm.At(y, x)
			v := core.ToByte(float64(p))
			c := color.RGBA{R: v, G: v, B: v, A: 0xff}
			if p > core.CloudProbabilityCutoff {
				c.G, c.B = v/2, v/2
			}
			out.SetRGBA(w+x, y, c)
		}
	}
	return out, nil
}
