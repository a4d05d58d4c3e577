package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/onboard-cloud-filter/bandstore"
	"github.com/signalsfoundry/onboard-cloud-filter/core"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/config"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/downlink"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/health"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/inference"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/logging"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/observability"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/pipeline"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/quicklook"
	"github.com/signalsfoundry/onboard-cloud-filter/timectrl"
)

func main() {
	configPath := flag.String("config", "configs/flight.yaml", "path to the YAML flight configuration")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	archive := flag.String("archive", "", "root of the raw band archive (overrides archive.root)")
	downlinkDir := flag.String("downlink", "", "downlink buffer directory (overrides downlink.dir)")
	modelPath := flag.String("model", "", "model descriptor path (overrides model.path)")
	cycles := flag.Int("cycles", 0, "capture cycles to run, 0 for continuous (overrides run.cycles)")
	interval := flag.Duration("interval", 0, "delay between cycles (overrides run.interval)")
	threshold := flag.Float64("threshold", 0, "cloud fraction above which scenes are discarded (overrides decision.cloud_threshold)")
	accelerated := flag.Bool("accelerated", false, "skip wall-clock pacing between cycles")
	workers := flag.Int("workers", 0, "scenes processed concurrently (overrides run.workers)")
	seed := flag.Uint64("seed", 0, "scene selection seed (overrides run.seed)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides metrics.addr)")
	healthAddr := flag.String("health-addr", "", "TCP address for the gRPC health service (overrides health.addr)")
	quicklookDir := flag.String("quicklook", "", "directory for coverage quicklooks (overrides quicklook.dir)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "archive":
			cfg.Archive.Root = *archive
		case "downlink":
			cfg.Downlink.Dir = *downlinkDir
		case "model":
			cfg.Model.Path = *modelPath
		case "cycles":
			cfg.Run.Cycles = *cycles
		case "interval":
			cfg.Run.Interval = *interval
		case "threshold":
			cfg.Decision.CloudThreshold = *threshold
		case "accelerated":
			if *accelerated {
				cfg.Run.Mode = timectrl.Accelerated.String()
			} else {
				cfg.Run.Mode = timectrl.RealTime.String()
			}
		case "workers":
			cfg.Run.Workers = *workers
		case "seed":
			cfg.Run.Seed = *seed
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		case "quicklook":
			cfg.Quicklook.Dir = *quicklookDir
		case "health-addr":
			cfg.Health.Addr = *healthAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		if errors.Is(err, inference.ErrModelUnavailable) {
			log.Error(ctx, "boot aborted: model unavailable", logging.Err(err))
		} else {
			log.Error(ctx, "flight software exited", logging.Err(err))
		}
		stop()
		os.Exit(1)
	}
}

// run boots the payload computer and executes the capture loop until the
// configured cycles complete or ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	engine, err := inference.Load(cfg.Model.Path)
	if err != nil {
		return err
	}
	shape := engine.InputShape()
	log.Info(ctx, "model loaded",
		logging.String("name", engine.Name()),
		logging.String("path", cfg.Model.Path),
		logging.Int("input_height", shape.Height),
		logging.Int("input_width", shape.Width),
	)

	var metrics *observability.PipelineCollector
	if cfg.Metrics.Addr != "" {
		metrics, err = observability.NewPipelineCollector(prometheus.NewRegistry())
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		srv := serveMetrics(cfg.Metrics.Addr, metrics, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var status *health.Server
	if cfg.Health.Addr != "" {
		lis, err := net.Listen("tcp", cfg.Health.Addr)
		if err != nil {
			return fmt.Errorf("listen for health: %w", err)
		}
		status = health.NewServer(log)
		go func() {
			if err := status.Serve(lis); err != nil {
				log.Warn(context.Background(), "health server exited", logging.Err(err))
			}
		}()
		defer status.Stop()
	}

	var track core.GroundTrack
	if cfg.Orbit.TLE1 != "" {
		track, err = core.NewGroundTrack(cfg.Orbit.TLE1, cfg.Orbit.TLE2)
		if err != nil {
			return fmt.Errorf("orbit: %w", err)
		}
	}

	normalizer := core.Normalizer{Ceiling: cfg.Normalize.Ceiling, Gain: cfg.Normalize.PreviewGain}

	var observer pipeline.Observer
	if cfg.Quicklook.Dir != "" {
		ql, err := quicklook.NewWriter(cfg.Quicklook.Dir, normalizer)
		if err != nil {
			return err
		}
		observer = ql
	}

	start := cfg.Run.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}

	driver, err := pipeline.New(pipeline.Deps{
		Store:    bandstore.NewFSStore(cfg.Archive.Root),
		Selector: bandstore.NewRandomSelector(cfg.Run.Seed),
		Engine:   engine,
		Buffer:   downlink.NewBuffer(cfg.Downlink.Dir),
		Clock:    timectrl.NewTimeController(start, cfg.Run.Interval, cfg.TimeMode()),
		Track:    track,
		Observer: observer,
		Metrics:  metrics,
		Log:      log,
	}, pipeline.Config{
		Threshold:   cfg.Decision.CloudThreshold,
		Normalizer:  normalizer,
		JPEGQuality: cfg.Downlink.JPEGQuality,
		Cycles:      cfg.Run.Cycles,
		Workers:     cfg.Run.Workers,
		OnReport:    downlinkStatus(status),
	})
	if err != nil {
		return err
	}

	if status != nil {
		status.SetServing("", true)
		status.SetServing(health.PipelineService, true)
		status.SetServing(health.DownlinkService, true)
	}

	log.Info(ctx, "payload computer online",
		logging.String("archive", cfg.Archive.Root),
		logging.String("downlink", cfg.Downlink.Dir),
		logging.Int("cycles", cfg.Run.Cycles),
		logging.String("mode", cfg.Run.Mode),
		logging.Float("cloud_threshold", cfg.Decision.CloudThreshold),
	)

	if _, err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// downlinkStatus reports the downlink service as not serving after a cycle
// fails to write its packet and as serving again after the next success.
func downlinkStatus(status *health.Server) func(pipeline.CycleReport) {
	if status == nil {
		return nil
	}
	return func(r pipeline.CycleReport) {
		switch r.Outcome {
		case pipeline.OutcomeFailed:
			status.SetServing(health.DownlinkService, false)
		case pipeline.OutcomeDownlinked:
			status.SetServing(health.DownlinkService, true)
		}
	}
}

func serveMetrics(addr string, collector *observability.PipelineCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
