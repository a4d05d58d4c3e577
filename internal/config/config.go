// Package config loads flight-software settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/onboard-cloud-filter/timectrl"
)

// Config is the complete flight-software configuration.
type Config struct {
	Archive   ArchiveConfig   `yaml:"archive"`
	Downlink  DownlinkConfig  `yaml:"downlink"`
	Model     ModelConfig     `yaml:"model"`
	Decision  DecisionConfig  `yaml:"decision"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Run       RunConfig       `yaml:"run"`
	Orbit     OrbitConfig     `yaml:"orbit"`
	Quicklook QuicklookConfig `yaml:"quicklook"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

// ArchiveConfig locates the raw band archive.
type ArchiveConfig struct {
	Root string `yaml:"root"`
}

// DownlinkConfig controls the downlink buffer.
type DownlinkConfig struct {
	Dir         string `yaml:"dir"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// ModelConfig locates the inference model descriptor.
type ModelConfig struct {
	Path string `yaml:"path"`
}

// DecisionConfig holds the keep/discard policy.
type DecisionConfig struct {
	CloudThreshold float64 `yaml:"cloud_threshold"` // discard when coverage fraction exceeds this
}

// NormalizeConfig holds the radiometric scaling constants.
type NormalizeConfig struct {
	Ceiling     float64 `yaml:"ceiling"`
	PreviewGain float64 `yaml:"preview_gain"`
}

// RunConfig controls cycle pacing.
type RunConfig struct {
	Cycles   int           `yaml:"cycles"` // 0 runs until interrupted
	Interval time.Duration `yaml:"interval"`
	Mode     string        `yaml:"mode"` // realtime | accelerated
	Workers  int           `yaml:"workers"`
	Seed     uint64        `yaml:"seed"` // 0 seeds from the clock
	Start    time.Time     `yaml:"start"`
}

// OrbitConfig optionally provides a two-line element set for footprint
// tagging. Both lines must be set together.
type OrbitConfig struct {
	TLE1 string `yaml:"tle1"`
	TLE2 string `yaml:"tle2"`
}

// QuicklookConfig enables the coverage-mask preview writer when Dir is set.
type QuicklookConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// HealthConfig enables the gRPC health service when Addr is set.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the baseline flight configuration.
func DefaultConfig() Config {
	return Config{
		Archive:   ArchiveConfig{Root: "raw_data"},
		Downlink:  DownlinkConfig{Dir: "to_downlink", JPEGQuality: 90},
		Model:     ModelConfig{Path: "configs/model.yaml"},
		Decision:  DecisionConfig{CloudThreshold: 0.10},
		Normalize: NormalizeConfig{Ceiling: 65535, PreviewGain: 3.5},
		Run: RunConfig{
			Cycles:   5,
			Interval: time.Second,
			Mode:     "realtime",
			Workers:  1,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies ONBOARD_* environment overrides
// and validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports the first setting that is out of range.
func (c Config) Validate() error {
	switch {
	case c.Archive.Root == "":
		return errors.New("archive.root is required")
	case c.Downlink.Dir == "":
		return errors.New("downlink.dir is required")
	case c.Model.Path == "":
		return errors.New("model.path is required")
	case c.Decision.CloudThreshold < 0 || c.Decision.CloudThreshold > 1:
		return fmt.Errorf("decision.cloud_threshold %v outside [0, 1]", c.Decision.CloudThreshold)
	case c.Normalize.Ceiling <= 0:
		return fmt.Errorf("normalize.ceiling must be positive, got %v", c.Normalize.Ceiling)
	case c.Normalize.PreviewGain <= 0:
		return fmt.Errorf("normalize.preview_gain must be positive, got %v", c.Normalize.PreviewGain)
	case c.Downlink.JPEGQuality < 1 || c.Downlink.JPEGQuality > 100:
		return fmt.Errorf("downlink.jpeg_quality %d outside [1, 100]", c.Downlink.JPEGQuality)
	case c.Run.Cycles < 0:
		return fmt.Errorf("run.cycles must not be negative, got %d", c.Run.Cycles)
	case c.Run.Interval < 0:
		return fmt.Errorf("run.interval must not be negative, got %v", c.Run.Interval)
	case c.Run.Workers < 1:
		return fmt.Errorf("run.workers must be at least 1, got %d", c.Run.Workers)
	case (c.Orbit.TLE1 == "") != (c.Orbit.TLE2 == ""):
		return errors.New("orbit.tle1 and orbit.tle2 must be set together")
	}
	if _, err := timectrl.ParseMode(c.Run.Mode); err != nil {
		return fmt.Errorf("run.mode: %w", err)
	}
	return nil
}

// TimeMode returns the parsed run mode. Call after Validate.
func (c Config) TimeMode() timectrl.Mode {
	m, _ := timectrl.ParseMode(c.Run.Mode)
	return m
}

func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("ONBOARD_ARCHIVE_ROOT", &cfg.Archive.Root)
	setString("ONBOARD_DOWNLINK_DIR", &cfg.Downlink.Dir)
	setString("ONBOARD_MODEL_PATH", &cfg.Model.Path)
	setString("ONBOARD_TIME_MODE", &cfg.Run.Mode)
	setString("ONBOARD_TLE1", &cfg.Orbit.TLE1)
	setString("ONBOARD_TLE2", &cfg.Orbit.TLE2)
	setString("ONBOARD_QUICKLOOK_DIR", &cfg.Quicklook.Dir)
	setString("ONBOARD_METRICS_ADDR", &cfg.Metrics.Addr)
	setString("ONBOARD_HEALTH_ADDR", &cfg.Health.Addr)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("ONBOARD_CLOUD_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ONBOARD_CLOUD_THRESHOLD: %w", err)
		}
		cfg.Decision.CloudThreshold = f
	}
	if v := os.Getenv("ONBOARD_PREVIEW_GAIN"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ONBOARD_PREVIEW_GAIN: %w", err)
		}
		cfg.Normalize.PreviewGain = f
	}
	if v := os.Getenv("ONBOARD_CYCLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ONBOARD_CYCLES: %w", err)
		}
		cfg.Run.Cycles = n
	}
	if v := os.Getenv("ONBOARD_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ONBOARD_WORKERS: %w", err)
		}
		cfg.Run.Workers = n
	}
	if v := os.Getenv("ONBOARD_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ONBOARD_INTERVAL: %w", err)
		}
		cfg.Run.Interval = d
	}
	if v := os.Getenv("ONBOARD_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ONBOARD_SEED: %w", err)
		}
		cfg.Run.Seed = n
	}
	return nil
}
