package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/onboard-cloud-filter/core"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/groundstation"
	"github.com/signalsfoundry/onboard-cloud-filter/internal/logging"
)

// Options configures one ground-station pass.
type Options struct {
	DownlinkDir string
	OutDir      string
	Packet      string // analyse only this packet when set
	Ceiling     float64
	Gain        float64
}

func main() {
	opts := Options{}
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	flag.StringVar(&opts.DownlinkDir, "downlink", "to_downlink", "directory holding received packets")
	flag.StringVar(&opts.OutDir, "out", "analysis", "directory for rendered composites")
	flag.StringVar(&opts.Packet, "packet", "", "single packet name to analyse")
	flag.Float64Var(&opts.Ceiling, "ceiling", 65535, "sample value mapped to full scale")
	flag.Float64Var(&opts.Gain, "gain", 3.5, "brightness stretch applied before clipping")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	logFormat := flag.String("log-format", "", "log format (text, json, console); defaults to LOG_FORMAT")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	level, format := *logLevel, *logFormat
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	log := logging.New(logging.Config{Level: level, Format: format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := run(ctx, opts, log)
	switch {
	case errors.Is(err, groundstation.ErrNoPackets):
		log.Warn(ctx, "no packets received", logging.String("downlink", opts.DownlinkDir))
	case err != nil:
		log.Error(ctx, "ground station failed", logging.Err(err))
		stop()
		os.Exit(1)
	default:
		log.Info(ctx, "analysis complete",
			logging.Int("packets", len(results)),
			logging.String("out", opts.OutDir),
		)
	}
}

func run(ctx context.Context, opts Options, log logging.Logger) ([]groundstation.Analysis, error) {
	if opts.Ceiling <= 0 || opts.Gain <= 0 {
		return nil, fmt.Errorf("ceiling and gain must be positive, got %v and %v", opts.Ceiling, opts.Gain)
	}
	station := groundstation.New(opts.DownlinkDir, opts.OutDir,
		core.Normalizer{Ceiling: opts.Ceiling, Gain: opts.Gain}, log)

	if opts.Packet != "" {
		a, err := station.Analyze(ctx, opts.Packet)
		if err != nil {
			return nil, err
		}
		return []groundstation.Analysis{a}, nil
	}
	return station.AnalyzeAll(ctx)
}
