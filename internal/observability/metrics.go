package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used for the stage duration histogram.
const (
	StageCapture   = "capture"
	StageAssemble  = "assemble"
	StageNormalize = "normalize"
	StageInfer     = "infer"
	StageDecide    = "decide"
	StagePackage   = "package"
)

// PipelineCollector bundles Prometheus metrics for the capture pipeline and
// the downlink buffer. All methods are safe on a nil receiver.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	Cycles         *prometheus.CounterVec
	Skips          *prometheus.CounterVec
	CloudFraction  prometheus.Histogram
	StageDurations *prometheus.HistogramVec
	DownlinkBytes  prometheus.Counter
	Artifacts      prometheus.Gauge
}

// NewPipelineCollector registers pipeline metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_cycles_total",
		Help: "Completed capture cycles, labeled by outcome.",
	}, []string{"outcome"}), "pipeline_cycles_total")
	if err != nil {
		return nil, err
	}

	skips, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_skips_total",
		Help: "Cycles skipped before a decision was reached, labeled by cause.",
	}, []string{"cause"}), "pipeline_skips_total")
	if err != nil {
		return nil, err
	}

	fraction, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_cloud_coverage_fraction",
		Help:    "Binarized cloud coverage fraction of decided scenes.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1},
	}), "pipeline_cloud_coverage_fraction")
	if err != nil {
		return nil, err
	}

	stages, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Duration of each pipeline stage in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"stage"}), "pipeline_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	bytesTotal, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "downlink_bytes_total",
		Help: "Bytes written to the downlink buffer across both artifacts of every packet.",
	}), "downlink_bytes_total")
	if err != nil {
		return nil, err
	}

	artifacts, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "downlink_artifacts",
		Help: "Current number of visible artifacts in the downlink buffer.",
	}), "downlink_artifacts")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:       gatherer,
		Cycles:         cycles,
		Skips:          skips,
		CloudFraction:  fraction,
		StageDurations: stages,
		DownlinkBytes:  bytesTotal,
		Artifacts:      artifacts,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PipelineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCycle counts one finished cycle.
func (c *PipelineCollector) ObserveCycle(outcome string) {
	if c == nil || c.Cycles == nil {
		return
	}
	c.Cycles.WithLabelValues(outcome).Inc()
}

// IncSkip counts a cycle that ended with the given cause.
func (c *PipelineCollector) IncSkip(cause string) {
	if c == nil || c.Skips == nil || cause == "" {
		return
	}
	c.Skips.WithLabelValues(cause).Inc()
}

// ObserveCloudFraction records the coverage fraction of a decided scene.
func (c *PipelineCollector) ObserveCloudFraction(f float64) {
	if c == nil || c.CloudFraction == nil {
		return
	}
	c.CloudFraction.Observe(f)
}

// ObserveStage records how long a stage took.
func (c *PipelineCollector) ObserveStage(stage string, d time.Duration) {
	if c == nil || c.StageDurations == nil {
		return
	}
	c.StageDurations.WithLabelValues(stage).Observe(d.Seconds())
}

// AddDownlinkBytes adds n bytes to the downlink volume counter.
func (c *PipelineCollector) AddDownlinkBytes(n int) {
	if c == nil || c.DownlinkBytes == nil || n <= 0 {
		return
	}
	c.DownlinkBytes.Add(float64(n))
}

// SetArtifacts updates the buffer occupancy gauge.
func (c *PipelineCollector) SetArtifacts(n int) {
	if c == nil || c.Artifacts == nil {
		return
	}
	c.Artifacts.Set(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
