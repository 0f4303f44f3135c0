package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kacperjurak/goftircore"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when FTIR_CONFIG is not set.
const DefaultPath = "ftirsolver.yaml"

// AnchorFlags collects repeated -anchor x:y flags.
type AnchorFlags []goftircore.Anchor

func (a *AnchorFlags) String() string {
	parts := make([]string, len(*a))
	for i, an := range *a {
		parts[i] = fmt.Sprintf("%g:%g", an.X, an.Y)
	}
	return strings.Join(parts, ",")
}

func (a *AnchorFlags) Set(value string) error {
	xs, ys, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("anchor %q: want x:y", value)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return fmt.Errorf("anchor %q: %w", value, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return fmt.Errorf("anchor %q: %w", value, err)
	}
	*a = append(*a, goftircore.Anchor{X: x, Y: y})
	return nil
}

// Config holds the processing settings shared by the CLI and the server.
type Config struct {
	Lambda        float64 `yaml:"lambda"`
	P             float64 `yaml:"p"`
	Smooth        bool    `yaml:"smooth"`
	MaxIterations int     `yaml:"max_iterations"`
	BlendFraction float64 `yaml:"blend_fraction"`

	// SGWindow 0 selects the window from the series length.
	SGWindow int `yaml:"sg_window"`
	SGOrder  int `yaml:"sg_order"`

	// GridStep 0 uses the finest resolution among correlated spectra.
	GridStep     float64 `yaml:"grid_step"`
	UseCorrected bool    `yaml:"use_corrected"`

	MinProminence float64 `yaml:"min_prominence"`
	PeakHalfWidth int     `yaml:"peak_half_width"`

	Quiet bool `yaml:"quiet"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string `yaml:"port"`
	WorkerCount     int    `yaml:"workers"`
	EnableProfiling bool   `yaml:"profiling"`
	// MaxBodyBytes bounds request documents.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	CatalogPath   string `yaml:"catalog"`
	WatchInbox    string `yaml:"watch_inbox"`
	WatchOutbox   string `yaml:"watch_outbox"`
	WatchSchedule string `yaml:"watch_schedule"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Lambda:        goftircore.DefaultLambda,
		P:             goftircore.DefaultP,
		MaxIterations: goftircore.DefaultMaxIterations,
		BlendFraction: goftircore.DefaultBlendFraction,
		SGOrder:       3,
		MinProminence: 0.01,
		PeakHalfWidth: 10,
	}
}

// DefaultServerConfig returns server configuration with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:          "8080",
		WorkerCount:   5,
		MaxBodyBytes:  32 << 20,
		WatchSchedule: "*/5 * * * *",
	}
}

type document struct {
	Processing *Config       `yaml:"processing"`
	Server     *ServerConfig `yaml:"server"`
}

// Load reads path (or $FTIR_CONFIG, or DefaultPath when path is empty) over
// the defaults and applies FTIR_* environment overrides. A missing file is
// not an error.
func Load(path string) (*Config, *ServerConfig, error) {
	cfg, srv := DefaultConfig(), DefaultServerConfig()

	if path == "" {
		path = DefaultPath
		if env := os.Getenv("FTIR_CONFIG"); env != "" {
			path = env
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		doc := document{Processing: cfg, Server: srv}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("%w: parse %s: %v", goftircore.ErrInvalidParameter, path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(cfg, srv); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := srv.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, srv, nil
}

func applyEnv(cfg *Config, srv *ServerConfig) error {
	var errs []error
	errs = append(errs,
		envOverrideFloat(&cfg.Lambda, "FTIR_LAMBDA"),
		envOverrideFloat(&cfg.P, "FTIR_P"),
		envOverrideBool(&cfg.Smooth, "FTIR_SMOOTH"),
		envOverrideInt(&cfg.MaxIterations, "FTIR_MAX_ITER"),
		envOverrideFloat(&cfg.BlendFraction, "FTIR_BLEND_FRACTION"),
		envOverrideInt(&cfg.SGWindow, "FTIR_SG_WINDOW"),
		envOverrideInt(&cfg.SGOrder, "FTIR_SG_ORDER"),
		envOverrideFloat(&cfg.GridStep, "FTIR_GRID_STEP"),
		envOverrideBool(&cfg.UseCorrected, "FTIR_USE_CORRECTED"),
		envOverrideBool(&cfg.Quiet, "FTIR_QUIET"),
		envOverrideInt(&srv.WorkerCount, "FTIR_WORKERS"),
		envOverrideBool(&srv.EnableProfiling, "FTIR_PROFILING"),
	)
	envOverride(&srv.Port, "FTIR_PORT")
	envOverride(&srv.CatalogPath, "FTIR_CATALOG")
	envOverride(&srv.WatchInbox, "FTIR_WATCH_INBOX")
	envOverride(&srv.WatchOutbox, "FTIR_WATCH_OUTBOX")
	envOverride(&srv.WatchSchedule, "FTIR_WATCH_SCHEDULE")
	return errors.Join(errs...)
}

// Params returns the ALS parameters selected by c.
func (c *Config) Params() goftircore.Params {
	return goftircore.Params{Lambda: c.Lambda, P: c.P, Smooth: c.Smooth}
}

// Smoothing returns the explicit Savitzky-Golay filter, or nil when the
// window is chosen per series.
func (c *Config) Smoothing() *goftircore.SavitzkyGolay {
	if c.SGWindow == 0 {
		return nil
	}
	return &goftircore.SavitzkyGolay{Window: c.SGWindow, Order: c.SGOrder}
}

// Solver prepares a solver for s configured from c.
func (c *Config) Solver(s *goftircore.Spectrum) *goftircore.Solver {
	solver := goftircore.NewSpectrumSolver(s, c.Params())
	solver.MaxIterations = c.MaxIterations
	solver.BlendFraction = c.BlendFraction
	solver.Smoothing = c.Smoothing()
	return solver
}

// Refitter returns a refit coordinator configured from c.
func (c *Config) Refitter() *goftircore.Refitter {
	r := goftircore.NewRefitter()
	r.MaxIterations = c.MaxIterations
	r.BlendFraction = c.BlendFraction
	r.Smoothing = c.Smoothing()
	return r
}

// Validate rejects settings no computation could run with. Nothing is
// replaced by a default.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be >= 1, got %d", goftircore.ErrInvalidParameter, c.MaxIterations)
	}
	if !(c.BlendFraction > 0 && c.BlendFraction <= 0.5) {
		return fmt.Errorf("%w: blend_fraction must be in (0, 0.5], got %g", goftircore.ErrInvalidParameter, c.BlendFraction)
	}
	if sg := c.Smoothing(); sg != nil {
		if err := sg.Validate(); err != nil {
			return err
		}
	}
	if c.GridStep < 0 || math.IsNaN(c.GridStep) || math.IsInf(c.GridStep, 0) {
		return fmt.Errorf("%w: grid_step must be >= 0, got %g", goftircore.ErrInvalidParameter, c.GridStep)
	}
	if c.MinProminence < 0 || math.IsNaN(c.MinProminence) {
		return fmt.Errorf("%w: min_prominence must be >= 0, got %g", goftircore.ErrInvalidParameter, c.MinProminence)
	}
	if c.PeakHalfWidth < 1 {
		return fmt.Errorf("%w: peak_half_width must be >= 1, got %d", goftircore.ErrInvalidParameter, c.PeakHalfWidth)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if _, err := strconv.ParseUint(s.Port, 10, 16); err != nil {
		return fmt.Errorf("%w: port %q", goftircore.ErrInvalidParameter, s.Port)
	}
	if s.WorkerCount < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", goftircore.ErrInvalidParameter, s.WorkerCount)
	}
	if s.MaxBodyBytes < 1 {
		return fmt.Errorf("%w: max_body_bytes must be positive", goftircore.ErrInvalidParameter)
	}
	if (s.WatchInbox == "") != (s.WatchOutbox == "") {
		return fmt.Errorf("%w: watch_inbox and watch_outbox must be set together", goftircore.ErrInvalidParameter)
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: invalid %s %q: %v", goftircore.ErrInvalidParameter, envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: invalid %s %q: %v", goftircore.ErrInvalidParameter, envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid %s %q: %v", goftircore.ErrInvalidParameter, envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
