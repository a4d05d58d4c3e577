// Package groundstation decodes downlinked science packets and renders the
// analyst composites: true colour, the NIR band and NIR false colour.
package groundstation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalsfoundry/onboard-cloud-filter/core"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/downlink"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/logging"
	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// ErrNoPackets is returned when the downlink directory holds no science
// packets.
var ErrNoPackets = errors.New("no packets received")

// Composite names one rendered view of a packet.
type Composite string

const (
	// TrueColor maps Red, Green, Blue to the display channels.
	TrueColor Composite = "truecolor"
	// NIRBand renders the near-infrared band as grey levels. Clouds are
	// bright, snow is dark.
	NIRBand Composite = "nir"
	// FalseColor maps NIR, Red, Green to the display channels.
	FalseColor Composite = "falsecolor"
)

// Composites lists every view in render order.
var Composites = []Composite{TrueColor, NIRBand, FalseColor}

// Station reads packets from a downlink directory and writes composites to
// an output directory.
type Station struct {
	downlinkDir string
	outDir      string
	normalizer  core.Normalizer
	log         logging.Logger
}

// New returns a station. A nil logger is replaced by a no-op logger.
func New(downlinkDir, outDir string, normalizer core.Normalizer, log logging.Logger) *Station {
	if log == nil {
		log = logging.Noop()
	}
	return &Station{downlinkDir: downlinkDir, outDir: outDir, normalizer: normalizer, log: log}
}

// Analysis lists the files rendered for one packet.
type Analysis struct {
	Packet string
	Scene  model.SceneRef
	Files  map[Composite]string
}

// ListPackets returns the science packets of dir, sorted.
func ListPackets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || filepath.Ext(n) != ".npy" {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// SceneFromPacket recovers the scene reference encoded in a packet name. The
// capture category is not part of the downlink and stays empty.
func SceneFromPacket(name string) model.SceneRef {
	stem := strings.TrimSuffix(strings.TrimPrefix(name, "packet_"), ".npy")
	return model.SceneRef{ID: stem}
}

// Decode loads one packet of the downlink directory.
func (s *Station) Decode(name string) (model.MultiBandFrame, error) {
	data, err := os.ReadFile(filepath.Join(s.downlinkDir, name))
	if err != nil {
		return model.MultiBandFrame{}, fmt.Errorf("read packet %s: %w", name, err)
	}
	frame, err := downlink.DecodeScience(SceneFromPacket(name), data)
	if err != nil {
		return model.MultiBandFrame{}, fmt.Errorf("decode packet %s: %w", name, err)
	}
	return frame, nil
}

// Analyze renders every composite of one packet.
func (s *Station) Analyze(ctx context.Context, name string) (Analysis, error) {
	frame, err := s.Decode(name)
	if err != nil {
		return Analysis{}, err
	}
	if err := os.MkdirAll(s.outDir, 0o755); err != nil {
		return Analysis{}, fmt.Errorf("create output dir: %w", err)
	}

	a := Analysis{Packet: name, Scene: frame.Scene(), Files: make(map[Composite]string, len(Composites))}
	for _, c := range Composites {
		if err := ctx.Err(); err != nil {
			return a, err
		}
		path := filepath.Join(s.outDir, fmt.Sprintf("%s_%s.png", frame.Scene().Stem(), c))
		if err := writePNG(path, Render(frame, c, s.normalizer)); err != nil {
			return a, err
		}
		a.Files[c] = path
	}
	s.log.Info(ctx, "packet analysed",
		logging.String("packet", name),
		logging.Int("height", frame.Height()),
		logging.Int("width", frame.Width()),
	)
	return a, nil
}

// AnalyzeAll renders every packet of the downlink directory. A packet that
// fails to decode is logged and skipped.
func (s *Station) AnalyzeAll(ctx context.Context) ([]Analysis, error) {
	names, err := ListPackets(s.downlinkDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoPackets
	}
	s.log.Info(ctx, "packets received", logging.Int("count", len(names)))

	out := make([]Analysis, 0, len(names))
	for _, n := range names {
		a, err := s.Analyze(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.log.Warn(ctx, "packet rejected", logging.String("packet", n), logging.Err(err))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Render draws one composite of frame with the normalize, gain and clip
// stretch of n.
func Render(frame model.MultiBandFrame, c Composite, n core.Normalizer) image.Image {
	h, w := frame.Height(), frame.Width()
	rect := image.Rect(0, 0, w, h)

	if c == NIRBand {
		img := image.NewGray(rect)
		nir := frame.Band(model.ChannelNIR)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: core.ToByte(n.Stretch(nir.At(y, x)))})
			}
		}
		return img
	}

	var order [3]model.Channel
	switch c {
	case FalseColor:
		order = [3]model.Channel{model.ChannelNIR, model.ChannelRed, model.ChannelGreen}
	default:
		order = [3]model.Channel{model.ChannelRed, model.ChannelGreen, model.ChannelBlue}
	}
	r, g, b := frame.Band(order[0]), frame.Band(order[1]), frame.Band(order[2])

	img := image.NewRGBA(rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: core.ToByte(n.Stretch(r.At(y, x))),
				G: core.ToByte(n.Stretch(g.At(y, x))),
				B: core.ToByte(n.Stretch(b.At(y, x))),
				A: 0xff,
			})
		}
	}
	return img
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
