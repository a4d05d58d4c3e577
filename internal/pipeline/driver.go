// Package pipeline sequences one capture cycle from scene selection to the
// downlink buffer, and runs cycles paced by the mission clock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/onboard-cloud-filter/bandstore"
	"github.com/signalsfoundry/onboard-cloud-filter/core"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/downlink"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/inference"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/logging"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/observability"
	"github.com/signalsfoundry/onboard-cloud-filter/model"
	"github.com/signalsfoundry/onboard-cloud-filter/timectrl"
)

const tracerName = "github.com/signalsfoundry/onboard-cloud-filter/internal/pipeline"

var errInference = errors.New("inference failed")

// Observer receives every decided scene. It runs after Deciding and before
// Packaging; its error is logged and never changes the outcome.
type Observer interface {
	Observe(ctx context.Context, frame model.MultiBandFrame, cm model.CoverageMap, d model.Disposition) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, frame model.MultiBandFrame, cm model.CoverageMap, d model.Disposition) error

func (f ObserverFunc) Observe(ctx context.Context, frame model.MultiBandFrame, cm model.CoverageMap, d model.Disposition) error {
	return f(ctx, frame, cm, d)
}

// Deps are the collaborators of a Driver. Store, Selector, Engine and Buffer
// are required.
type Deps struct {
	Store    bandstore.Store
	Selector bandstore.Selector
	Engine   inference.Engine
	Buffer   *downlink.Buffer

	// Clock paces Run. Defaults to an accelerated controller starting now.
	Clock *timectrl.TimeController
	// Track tags captures with the sub-satellite point when set.
	Track    core.GroundTrack
	Observer Observer
	Metrics  *observability.PipelineCollector
	Log      logging.Logger
}

// Config holds the tunables of a Driver.
type Config struct {
	Threshold   float64
	Normalizer  core.Normalizer
	JPEGQuality int
	// Cycles is the number of cycles Run executes; 0 runs until ctx is done.
	Cycles int
	// Workers > 1 runs up to that many cycles concurrently.
	Workers int
	// OnReport, when set, is called once per finished cycle. Calls are
	// serialised.
	OnReport func(CycleReport)
}

// DefaultConfig returns the flight defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:   core.DefaultCloudThreshold,
		Normalizer:  core.NewNormalizer(),
		JPEGQuality: downlink.DefaultJPEGQuality,
		Cycles:      5,
		Workers:     1,
	}
}

// Driver owns the inference engine and the downlink buffer for a run.
type Driver struct {
	store     bandstore.Store
	selector  bandstore.Selector
	assembler *core.Assembler
	engine    inference.Engine
	buffer    *downlink.Buffer
	writer    *downlink.PacketWriter
	clock     *timectrl.TimeController
	track     core.GroundTrack
	observer  Observer
	metrics   *observability.PipelineCollector
	log       logging.Logger
	tracer    trace.Tracer
	cfg       Config

	captureMu sync.Mutex
	reportMu  sync.Mutex
}

// New wires a driver. A nil engine yields inference.ErrModelUnavailable.
func New(deps Deps, cfg Config) (*Driver, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("pipeline: %w: no engine", inference.ErrModelUnavailable)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("pipeline: store is nil")
	}
	if deps.Selector == nil {
		return nil, fmt.Errorf("pipeline: selector is nil")
	}
	if deps.Buffer == nil {
		return nil, fmt.Errorf("pipeline: buffer is nil")
	}
	if deps.Log == nil {
		deps.Log = logging.Noop()
	}
	if deps.Clock == nil {
		deps.Clock = timectrl.NewTimeController(time.Now().UTC(), time.Second, timectrl.Accelerated)
	}
	if cfg.Normalizer == (core.Normalizer{}) {
		cfg.Normalizer = core.NewNormalizer()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &Driver{
		store:     deps.Store,
		selector:  deps.Selector,
		assembler: core.NewAssembler(deps.Store),
		engine:    deps.Engine,
		buffer:    deps.Buffer,
		writer:    downlink.NewPacketWriter(deps.Buffer, downlink.WithJPEGQuality(cfg.JPEGQuality)),
		clock:     deps.Clock,
		track:     deps.Track,
		observer:  deps.Observer,
		metrics:   deps.Metrics,
		log:       deps.Log,
		tracer:    observability.Tracer(tracerName),
		cfg:       cfg,
	}, nil
}

// Run resets the downlink buffer once, then runs the configured number of
// cycles paced by the clock. Per-cycle errors never escape; Run fails only if
// the buffer cannot be reset or ctx ends the run early.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	if err := d.buffer.Reset(); err != nil {
		return Summary{}, fmt.Errorf("reset downlink buffer: %w", err)
	}
	d.metrics.SetArtifacts(0)
	d.log.Info(ctx, "downlink buffer reset", logging.String("dir", d.buffer.Dir()))

	var sum Summary
	record := func(r CycleReport) {
		d.reportMu.Lock()
		defer d.reportMu.Unlock()
		sum.Add(r)
		if d.cfg.OnReport != nil {
			d.cfg.OnReport(r)
		}
	}

	var err error
	if d.cfg.Workers <= 1 {
		err = d.clock.Run(ctx, d.cfg.Cycles, func(ctx context.Context, cycle int, now time.Time) {
			record(d.RunCycle(ctx, cycle, now))
		})
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.cfg.Workers)
		err = d.clock.Run(gctx, d.cfg.Cycles, func(ctx context.Context, cycle int, now time.Time) {
			g.Go(func() error {
				record(d.RunCycle(ctx, cycle, now))
				return nil
			})
		})
		if werr := g.Wait(); err == nil {
			err = werr
		}
	}

	d.log.Info(ctx, "run complete",
		logging.Int("cycles", sum.Cycles),
		logging.Int("downlinked", sum.Downlinked),
		logging.Int("discarded", sum.Discarded),
		logging.Int("skipped", sum.Skipped),
		logging.Int("failed", sum.Failed),
		logging.Int("bytes_downlinked", sum.BytesDownlinked),
	)
	return sum, err
}

// RunCycle executes one capture event at mission time now and reports how it
// ended. It never returns an error; failures become the report's cause.
func (d *Driver) RunCycle(ctx context.Context, cycle int, now time.Time) (r CycleReport) {
	began := time.Now()
	ctx, log := logging.WithCycleLogger(ctx, d.log, cycle)
	ctx, span := d.tracer.Start(ctx, observability.CycleSpan, trace.WithAttributes(attribute.Int("cycle", cycle)))

	r = CycleReport{Cycle: cycle, CycleID: logging.CycleIDFromContext(ctx), Time: now}
	defer func() {
		r.Trace = append(r.Trace, StateIdle)
		r.Duration = time.Since(began)
		d.finish(ctx, log, span, &r)
	}()

	r.Trace = append(r.Trace, StateCapturing)
	var scene model.SceneRef
	if r.Err = d.stage(ctx, observability.StageCapture, func(ctx context.Context) error {
		var err error
		scene, err = d.capture(ctx)
		return err
	}); r.Err != nil {
		return r
	}
	r.Scene = scene
	span.SetAttributes(attribute.String("scene", scene.String()))
	log = log.With(logging.String("scene", scene.String()))
	r.Footprint = d.footprint(ctx, log, now)

	r.Trace = append(r.Trace, StateAssembling)
	var frame model.MultiBandFrame
	if r.Err = d.stage(ctx, observability.StageAssemble, func(ctx context.Context) error {
		var err error
		frame, err = d.assembler.Assemble(ctx, scene)
		return err
	}); r.Err != nil {
		return r
	}

	r.Trace = append(r.Trace, StateNormalizing)
	var tensor model.InferenceTensor
	_ = d.stage(ctx, observability.StageNormalize, func(context.Context) error {
		tensor = d.cfg.Normalizer.ToInferenceTensor(frame)
		return nil
	})

	r.Trace = append(r.Trace, StateInferring)
	var cm model.CoverageMap
	if r.Err = d.stage(ctx, observability.StageInfer, func(ctx context.Context) error {
		var err error
		cm, err = d.engine.Infer(ctx, tensor)
		if err == nil {
			err = inference.CheckCoverage(tensor, cm)
		}
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: %w", errInference, err)
		}
		return err
	}); r.Err != nil {
		return r
	}

	r.Trace = append(r.Trace, StateDeciding)
	_ = d.stage(ctx, observability.StageDecide, func(context.Context) error {
		r.Fraction, r.Disposition = core.Decide(cm, d.cfg.Threshold)
		r.Decided = true
		return nil
	})
	d.metrics.ObserveCloudFraction(r.Fraction)
	span.SetAttributes(
		attribute.Float64("cloud_fraction", r.Fraction),
		attribute.String("disposition", r.Disposition.String()),
	)
	if d.observer != nil {
		if err := d.observer.Observe(ctx, frame, cm, r.Disposition); err != nil {
			log.Warn(ctx, "observer failed", logging.Err(err))
		}
	}

	if r.Disposition == model.Discard {
		r.Trace = append(r.Trace, StateSkipping)
		r.Outcome = OutcomeDiscarded
		return r
	}

	r.Trace = append(r.Trace, StatePackaging)
	var pkt model.Packet
	if r.Err = d.stage(ctx, observability.StagePackage, func(ctx context.Context) error {
		var err error
		pkt, err = d.writer.Write(ctx, frame, d.cfg.Normalizer.ToPreviewTensor(frame))
		return err
	}); r.Err != nil {
		return r
	}
	r.Packet = &pkt
	r.Outcome = OutcomeDownlinked
	return r
}

func (d *Driver) capture(ctx context.Context) (model.SceneRef, error) {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	return bandstore.Capture(ctx, d.store, d.selector)
}

func (d *Driver) footprint(ctx context.Context, log logging.Logger, now time.Time) *model.Footprint {
	if d.track == nil {
		return nil
	}
	fp, err := d.track.FootprintAt(now)
	if err != nil {
		log.Warn(ctx, "footprint unavailable", logging.Err(err))
		return nil
	}
	return &fp
}

// stage runs fn inside a child span and records its duration.
func (d *Driver) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, observability.StageSpan(name))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Driver) finish(ctx context.Context, log logging.Logger, span trace.Span, r *CycleReport) {
	defer span.End()

	if r.Err != nil {
		r.Outcome, r.Cause = classify(r.Err)
		if r.Outcome == OutcomeSkipped {
			d.metrics.IncSkip(r.Cause)
		}
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, r.Cause)
	}
	d.metrics.ObserveCycle(string(r.Outcome))
	span.SetAttributes(attribute.String("outcome", string(r.Outcome)))

	fields := []logging.Field{
		logging.String("outcome", string(r.Outcome)),
		logging.String("stage", r.LastStage().String()),
		logging.Duration("duration", r.Duration),
	}
	if r.Footprint != nil {
		fields = append(fields,
			logging.Float("lat_deg", r.Footprint.LatitudeDeg),
			logging.Float("lon_deg", r.Footprint.LongitudeDeg),
		)
	}
	if r.Decided {
		fields = append(fields,
			logging.Float("cloud_fraction", r.Fraction),
			logging.String("disposition", r.Disposition.String()),
		)
	}

	switch r.Outcome {
	case OutcomeDownlinked:
		d.metrics.AddDownlinkBytes(r.Packet.ScienceBytes + r.Packet.PreviewBytes)
		if names, err := d.buffer.List(); err == nil {
			d.metrics.SetArtifacts(len(names))
		}
		log.Info(ctx, "scene downlinked", append(fields,
			logging.String("science", r.Packet.ScienceName),
			logging.String("preview", r.Packet.PreviewName),
		)...)
	case OutcomeDiscarded:
		log.Info(ctx, "scene discarded", fields...)
	case OutcomeFailed:
		log.Error(ctx, "scene failed", append(fields, logging.String("cause", r.Cause), logging.Err(r.Err))...)
	default:
		log.Warn(ctx, "cycle skipped", append(fields, logging.String("cause", r.Cause), logging.Err(r.Err))...)
	}
}
