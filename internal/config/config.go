// Package config loads and saves the analysis settings document.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"pendant-drop/internal/edge"
	"pendant-drop/internal/fit"
	"pendant-drop/internal/frame"
	"pendant-drop/internal/logger"
	"pendant-drop/internal/physics"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
)

// CurrentVersion is the document version written by Save.
const CurrentVersion = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the full settings document.
type Config struct {
	Version         int               `json:"version"`
	Crop            frame.CropRegion  `json:"crop"`
	Edge            edge.Params       `json:"edge"`
	CalibrationEdge edge.Params       `json:"calibration_edge"`
	Fit             FitConfig         `json:"fit"`
	Physics         physics.Constants `json:"physics"`
	Run             RunConfig         `json:"run"`
	Log             logger.Options    `json:"log"`
	Metrics         MetricsConfig     `json:"metrics"`
}

// FitConfig holds the solver settings and the starting Bond number.
type FitConfig struct {
	InitialBond    float64 `json:"initial_bond" validate:"gt=0"`
	MaxEvaluations int     `json:"max_evaluations" validate:"gt=0"`
	FTol           float64 `json:"ftol" validate:"gte=0"`
	XTol           float64 `json:"xtol" validate:"gte=0"`
	GTol           float64 `json:"gtol" validate:"gte=0"`
}

// Options converts the section into solver options.
func (f FitConfig) Options() fit.Options {
	opts := fit.DefaultOptions()
	opts.MaxEvaluations = f.MaxEvaluations
	opts.FTol = f.FTol
	opts.XTol = f.XTol
	opts.GTol = f.GTol
	return opts
}

// RunConfig selects the frames of an analysis. EndFrame 0 means the last
// frame of the source.
type RunConfig struct {
	StartFrame        int `json:"start_frame" validate:"gte=0"`
	EndFrame          int `json:"end_frame" validate:"gte=0"`
	CalibrationOffset int `json:"calibration_offset" validate:"gte=0"`
	ProgressInterval  int `json:"progress_interval" validate:"gt=0"`
}

// CalibrationFrame is the reference frame index.
func (r RunConfig) CalibrationFrame() int {
	return r.StartFrame + r.CalibrationOffset
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns the settings for a 1920x1080 pendant drop recording.
func Default() *Config {
	fitOpts := fit.DefaultOptions()
	return &Config{
		Version:         CurrentVersion,
		Crop:            frame.CropRegion{XStart: 445, YStart: 88, XEnd: 1160, YEnd: 932},
		Edge:            edge.DefaultParams(),
		CalibrationEdge: edge.CalibrationParams(),
		Fit: FitConfig{
			InitialBond:    0.3,
			MaxEvaluations: fitOpts.MaxEvaluations,
			FTol:           fitOpts.FTol,
			XTol:           fitOpts.XTol,
			GTol:           fitOpts.GTol,
		},
		Physics: physics.Constants{
			DeltaRho:          998,
			Gravity:           physics.StandardGravity,
			CalibrationFactor: 1e-5,
		},
		Run: RunConfig{
			StartFrame:        5,
			EndFrame:          545,
			CalibrationOffset: 1,
			ProgressInterval:  50,
		},
		Log: logger.Options{Level: "info"},
	}
}

// Load reads a settings file. Fields missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the settings file, creating its directory if needed.
func (c *Config) Save(path string) error {
	c.Version = CurrentVersion
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Environment keys read by ApplyEnv.
const (
	EnvLogLevel          = "DROP_LOG_LEVEL"
	EnvLogFile           = "DROP_LOG_FILE"
	EnvDeltaRho          = "DROP_DELTA_RHO"
	EnvCalibrationFactor = "DROP_CALIBRATION_FACTOR"
	EnvMetricsAddr       = "DROP_METRICS_ADDR"
)

// LoadEnv loads the given .env files into the process environment. Missing
// files are ignored; variables already set win.
func LoadEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides settings from DROP_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv(EnvLogFile); ok {
		c.Log.File = v
	}
	if v, ok := os.LookupEnv(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
	var errs []error
	if v, ok := os.LookupEnv(EnvDeltaRho); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvDeltaRho, err))
		} else {
			c.Physics.DeltaRho = f
		}
	}
	if v, ok := os.LookupEnv(EnvCalibrationFactor); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvCalibrationFactor, err))
		} else {
			c.Physics.CalibrationFactor = f
		}
	}
	return errors.Join(errs...)
}

// NewValidator returns a validator that knows the custom "odd" tag and
// reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("odd", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 1
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var validate = NewValidator()

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Run.EndFrame != 0 && c.Run.EndFrame < c.Run.StartFrame {
		return fmt.Errorf("run: end frame %d before start frame %d", c.Run.EndFrame, c.Run.StartFrame)
	}
	if err := c.Edge.Validate(); err != nil {
		return fmt.Errorf("edge: %w", err)
	}
	if err := c.CalibrationEdge.Validate(); err != nil {
		return fmt.Errorf("calibration_edge: %w", err)
	}
	return nil
}
