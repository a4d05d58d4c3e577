package downlink

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"reflect"

	"github.com/sbinet/npyio"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// DefaultJPEGQuality is the preview encoding quality.
const DefaultJPEGQuality = 90

// ScienceName is the file name of a scene's lossless artifact.
func ScienceName(scene model.SceneRef) string { return "packet_" + scene.Stem() + ".npy" }

// PreviewName is the file name of a scene's preview image.
func PreviewName(scene model.SceneRef) string { return "view_" + scene.Stem() + ".jpg" }

// ErrMalformedPacket indicates a science artifact that is not an H×W×4
// little-endian uint16 array.
var ErrMalformedPacket = errors.New("malformed science packet")

const scienceDType = "<u2"

// EncodeScience serialises every sample of frame as an H×W×4 uint16 .npy
// array in model.ScienceChannelOrder.
func EncodeScience(frame model.MultiBandFrame) ([]byte, error) {
	h, w, channels := frame.Height(), frame.Width(), len(model.ScienceChannelOrder)
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("encode science: empty frame %dx%d", h, w)
	}

	// npyio derives the shape tuple from nested fixed-size arrays.
	pixel := reflect.ArrayOf(channels, reflect.TypeOf(uint16(0)))
	arr := reflect.New(reflect.ArrayOf(h, reflect.ArrayOf(w, pixel))).Elem()
	data := frame.Interleaved()
	for y := 0; y < h; y++ {
		row := arr.Index(y)
		for x := 0; x < w; x++ {
			px := row.Index(x)
			base := (y*w + x) * channels
			for c := 0; c < channels; c++ {
				px.Index(c).SetUint(uint64(data[base+c]))
			}
		}
	}

	var buf bytes.Buffer
	if err := npyio.Write(&buf, arr.Interface()); err != nil {
		return nil, fmt.Errorf("encode science: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeScience rebuilds the frame of scene from a lossless artifact. The
// header shape is checked against the artifact size before any samples are
// allocated.
func DecodeScience(scene model.SceneRef, data []byte) (model.MultiBandFrame, error) {
	r, err := npyio.NewReader(bytes.NewReader(data))
	if err != nil {
		return model.MultiBandFrame{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	descr := r.Header.Descr
	if descr.Type != scienceDType || descr.Fortran {
		return model.MultiBandFrame{}, fmt.Errorf("%w: dtype %q fortran=%v, want %q in C order",
			ErrMalformedPacket, descr.Type, descr.Fortran, scienceDType)
	}
	shape := descr.Shape
	if len(shape) != 3 || shape[2] != len(model.ScienceChannelOrder) {
		return model.MultiBandFrame{}, fmt.Errorf("%w: shape %v, want (H, W, %d)",
			ErrMalformedPacket, shape, len(model.ScienceChannelOrder))
	}
	n, err := sampleCount(shape, len(data)/2)
	if err != nil {
		return model.MultiBandFrame{}, err
	}

	samples := make([]uint16, n)
	if err := r.Read(&samples); err != nil {
		return model.MultiBandFrame{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if len(samples) != n {
		return model.MultiBandFrame{}, fmt.Errorf("%w: read %d samples, want %d", ErrMalformedPacket, len(samples), n)
	}
	frame, err := model.FrameFromInterleaved(scene, shape[0], shape[1], samples)
	if err != nil {
		return model.MultiBandFrame{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	return frame, nil
}

// sampleCount multiplies shape out, failing when a dimension is not positive
// or the product exceeds limit.
func sampleCount(shape []int, limit int) (int, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: shape %v has a non-positive dimension", ErrMalformedPacket, shape)
		}
		if n > limit/d {
			return 0, fmt.Errorf("%w: shape %v needs more samples than the %d-sample artifact holds",
				ErrMalformedPacket, shape, limit)
		}
		n *= d
	}
	return n, nil
}

// PreviewImage converts a Blue,Green,Red preview tensor to an RGBA image.
func PreviewImage(p model.PreviewTensor) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	channels := len(model.PreviewChannelOrder)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			px := p.Data[(y*p.Width+x)*channels:]
			img.SetRGBA(x, y, color.RGBA{R: px[2], G: px[1], B: px[0], A: 0xff})
		}
	}
	return img
}

// EncodePreview JPEG-encodes a preview tensor.
func EncodePreview(p model.PreviewTensor, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, PreviewImage(p), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
