package downlink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

// ArtifactSink is the write surface of the downlink buffer.
type ArtifactSink interface {
	WriteArtifact(name string, data []byte) error
	Remove(name string) error
}

// PacketWriter persists the artifact pair of a kept scene.
type PacketWriter struct {
	sink        ArtifactSink
	jpegQuality int

	// stems holds one *sync.Mutex per scene stem so a rollback never removes
	// an artifact committed by a concurrent write of the same scene.
	stems sync.Map
}

// PacketOption customises a PacketWriter.
type PacketOption func(*PacketWriter)

// WithJPEGQuality sets the preview encoding quality (1-100).
func WithJPEGQuality(q int) PacketOption {
	return func(w *PacketWriter) {
		w.jpegQuality = q
	}
}

// NewPacketWriter returns a writer targeting sink.
func NewPacketWriter(sink ArtifactSink, opts ...PacketOption) *PacketWriter {
	w := &PacketWriter{sink: sink, jpegQuality: DefaultJPEGQuality}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write stores the science artifact and the preview of frame. The preview is
// written first and the science artifact last; if either fails, whatever was
// already written is removed and the error wraps ErrWriteFailure.
func (w *PacketWriter) Write(ctx context.Context, frame model.MultiBandFrame, preview model.PreviewTensor) (model.Packet, error) {
	scene := frame.Scene()
	pkt := model.Packet{
		Scene:       scene,
		ScienceName: ScienceName(scene),
		PreviewName: PreviewName(scene),
	}

	science, err := EncodeScience(frame)
	if err != nil {
		return pkt, fmt.Errorf("%w: encode science for %s: %v", ErrWriteFailure, scene, err)
	}
	jpg, err := EncodePreview(preview, w.jpegQuality)
	if err != nil {
		return pkt, fmt.Errorf("%w: %s: %v", ErrWriteFailure, scene, err)
	}
	if err := ctx.Err(); err != nil {
		return pkt, err
	}

	lock, _ := w.stems.LoadOrStore(scene.Stem(), &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if err := w.sink.WriteArtifact(pkt.PreviewName, jpg); err != nil {
		return pkt, wrapWrite(err)
	}
	if err := w.sink.WriteArtifact(pkt.ScienceName, science); err != nil {
		if rmErr := w.sink.Remove(pkt.PreviewName); rmErr != nil {
			return pkt, fmt.Errorf("%w (rollback of %s failed: %v)", wrapWrite(err), pkt.PreviewName, rmErr)
		}
		return pkt, wrapWrite(err)
	}

	pkt.ScienceBytes = len(science)
	pkt.PreviewBytes = len(jpg)
	return pkt, nil
}

func wrapWrite(err error) error {
	if errors.Is(err, ErrWriteFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrWriteFailure, err)
}
