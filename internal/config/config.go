package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StepperConfig holds the configuration for a stepper motor driving one mount axis.
type StepperConfig struct {
	StepPin       int     `yaml:"step_pin"`
	DirPin        int     `yaml:"dir_pin"`
	EnablePin     int     `yaml:"enable_pin"` // A4988 ENABLE pin (BCM). 0 = not used. Active LOW.
	StepsPerRev   int     `yaml:"steps_per_rev"`
	Microstepping int     `yaml:"microstepping"`
	GearRatio     float64 `yaml:"gear_ratio"` // worm/belt reduction between motor and axis (default 1)
}

// CameraConfig describes how to communicate with the camera.
// Type selects a concrete implementation ("nikon_d90_gpio" or "replay").
type CameraConfig struct {
	Type           string `yaml:"type"`
	FocusPin       int    `yaml:"focus_pin"`
	ShutterPin     int    `yaml:"shutter_pin"`
	FocusDelayMs   int    `yaml:"focus_delay_ms"`   // pre-release delay (ms)
	ImageDir       string `yaml:"image_dir"`        // directory where frames land (tethering download dir, or replay source)
	ImageTimeoutMs int    `yaml:"image_timeout_ms"` // how long to wait for the frame after the shutter closes
}

// LensConfig describes the optics in front of the camera.
type LensConfig struct {
	Name          string  `yaml:"name"`
	FocalLengthMm float64 `yaml:"focal_length_mm"`
}

// SensorConfig is optional: physical sensor size in mm.
type SensorConfig struct {
	WidthMm  float64 `yaml:"width_mm"`
	HeightMm float64 `yaml:"height_mm"`
}

// SolverConfig points at the external astrometry executable.
type SolverConfig struct {
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`      // extra arguments placed before the image path
	TimeoutS int      `yaml:"timeout_s"` // 0 = default (180 s), negative = no timeout
}

// SearchConfig holds the acquisition search parameters.
type SearchConfig struct {
	Pattern        string  `yaml:"pattern"`         // "cross" or "spiral"
	RAOffsetDeg    float64 `yaml:"ra_offset_deg"`   // 0 = derived from field of view
	DecOffsetDeg   float64 `yaml:"dec_offset_deg"`  // 0 = derived from field of view
	OverlapPercent float64 `yaml:"overlap_percent"` // overlap between neighbouring search fields
	ExposureS      float64 `yaml:"exposure_s"`
	SpiralPoints   int     `yaml:"spiral_points"`
	SpiralStepX    int     `yaml:"spiral_step_x"`
	SpiralStepY    int     `yaml:"spiral_step_y"`
	SettleTimeoutS int     `yaml:"settle_timeout_s"`
	DisableSeconds int     `yaml:"disable_seconds"`
}

// DeviceConfig selects the actuator backend.
type DeviceConfig struct {
	Backend          string `yaml:"backend"` // "gpio" or "http"
	URL              string `yaml:"url"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Executor         string `yaml:"executor"` // executor device receiving disable/end_script commands
	Target           string `yaml:"target"`   // target name recorded when disabling locally
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
	ReadoutMarginMs  int    `yaml:"readout_margin_ms"` // expose limit past the exposure time; 0 = none
	PollIntervalMs   int    `yaml:"poll_interval_ms"`
	SettleMs         int    `yaml:"settle_ms"` // local mount: vibration damping after a move
}

// ArchiveConfig controls where frames end up.
type ArchiveConfig struct {
	Dir      string `yaml:"dir"`
	TrashDir string `yaml:"trash_dir"` // empty = discarded frames are deleted
	DBPath   string `yaml:"db_path"`   // empty = no ledger
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	MoveSpeedMs int  `yaml:"move_speed_ms"` // delay between motor steps
	DebugLevel  int  `yaml:"debug_level"`   // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool `yaml:"mock_gpio"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	RAStepper  StepperConfig  `yaml:"ra_stepper"`
	DecStepper StepperConfig  `yaml:"dec_stepper"`
	Camera     CameraConfig   `yaml:"camera"`
	Lens       LensConfig     `yaml:"lens"`
	Sensor     *SensorConfig  `yaml:"sensor,omitempty"` // optional
	Solver     SolverConfig   `yaml:"solver"`
	Search     SearchConfig   `yaml:"search"`
	Device     DeviceConfig   `yaml:"device"`
	Archive    ArchiveConfig  `yaml:"archive"`
	Defaults   DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file located directly
// inside a "configs" directory and does not climb out of it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "../") {
		return fmt.Errorf("config path %q must not contain '..'", path)
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Solver.Command == "" {
		return fmt.Errorf("solver.command is required")
	}
	if c.Solver.TimeoutS == 0 {
		c.Solver.TimeoutS = 180
	}

	switch c.Device.Backend {
	case "":
		c.Device.Backend = "gpio"
	case "gpio", "http":
	default:
		return fmt.Errorf("unsupported device.backend: %s", c.Device.Backend)
	}
	if c.Device.Backend == "http" && c.Device.URL == "" {
		return fmt.Errorf("device.url is required for the http backend")
	}
	if c.Device.Backend == "gpio" {
		if c.Camera.Type == "" {
			return fmt.Errorf("camera.type is required")
		}
		if c.Camera.ImageDir == "" {
			return fmt.Errorf("camera.image_dir is required")
		}
	}
	if c.Device.Executor == "" {
		c.Device.Executor = "EXEC"
	}
	if c.Device.Target == "" {
		c.Device.Target = "current"
	}
	if c.Device.RequestTimeoutMs <= 0 {
		c.Device.RequestTimeoutMs = 10000
	}
	if c.Device.PollIntervalMs <= 0 {
		c.Device.PollIntervalMs = 500
	}
	if c.Device.SettleMs < 0 {
		c.Device.SettleMs = 0
	}

	switch c.Search.Pattern {
	case "":
		c.Search.Pattern = "cross"
	case "cross", "spiral":
	default:
		return fmt.Errorf("search.pattern must be cross or spiral, got %q", c.Search.Pattern)
	}
	if c.Search.OverlapPercent < 0 || c.Search.OverlapPercent >= 100 {
		return fmt.Errorf("search.overlap_percent must be between 0 and 100, got %.2f", c.Search.OverlapPercent)
	}
	if c.Search.OverlapPercent == 0 {
		c.Search.OverlapPercent = 30
	}
	if c.Search.ExposureS <= 0 {
		c.Search.ExposureS = 10
	}
	if c.Search.SpiralPoints <= 0 {
		c.Search.SpiralPoints = 24
	}
	if c.Search.SpiralStepX <= 0 {
		c.Search.SpiralStepX = 1
	}
	if c.Search.SpiralStepY <= 0 {
		c.Search.SpiralStepY = 1
	}
	if c.Search.SettleTimeoutS <= 0 {
		c.Search.SettleTimeoutS = 300
	}
	if c.Search.DisableSeconds <= 0 {
		c.Search.DisableSeconds = 1200
	}
	if (c.Search.RAOffsetDeg == 0 || c.Search.DecOffsetDeg == 0) &&
		(c.Sensor == nil || c.Lens.FocalLengthMm <= 0) {
		return fmt.Errorf("search offsets must be set when sensor and lens.focal_length_mm are not")
	}

	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500
	}
	if c.Camera.ImageTimeoutMs <= 0 {
		c.Camera.ImageTimeoutMs = 30000
	}
	if c.RAStepper.GearRatio <= 0 {
		c.RAStepper.GearRatio = 1
	}
	if c.DecStepper.GearRatio <= 0 {
		c.DecStepper.GearRatio = 1
	}
	if c.Defaults.MoveSpeedMs <= 0 {
		c.Defaults.MoveSpeedMs = 2
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = "archive"
	}
	return nil
}

// MoveSpeed returns the duration between two motor steps.
func (c *Config) MoveSpeed() time.Duration {
	return time.Duration(c.Defaults.MoveSpeedMs) * time.Millisecond
}

// OverlapRatio returns the search overlap as a ratio (0.0 to 1.0).
func (c *Config) OverlapRatio() float64 {
	return c.Search.OverlapPercent / 100.0
}

// Exposure returns the search exposure time.
func (c *Config) Exposure() time.Duration {
	return time.Duration(c.Search.ExposureS * float64(time.Second))
}

// SettleTimeout returns the bound on the mount idle wait.
func (c *Config) SettleTimeout() time.Duration {
	return time.Duration(c.Search.SettleTimeoutS) * time.Second
}

// DisableDuration returns how long a target is disabled after a failed search.
func (c *Config) DisableDuration() time.Duration {
	return time.Duration(c.Search.DisableSeconds) * time.Second
}

// SolverTimeout returns the solver deadline, 0 meaning none.
func (c *Config) SolverTimeout() time.Duration {
	if c.Solver.TimeoutS < 0 {
		return 0
	}
	return time.Duration(c.Solver.TimeoutS) * time.Second
}

// FocusDelay returns the pre-release delay.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ImageTimeout returns how long to wait for a frame to appear.
func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.Camera.ImageTimeoutMs) * time.Millisecond
}

// RequestTimeout returns the per-request HTTP timeout of the remote backend.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Device.RequestTimeoutMs) * time.Millisecond
}

// ReadoutMargin returns how long a remote exposure may run past its
// exposure time.
func (c *Config) ReadoutMargin() time.Duration {
	return time.Duration(c.Device.ReadoutMarginMs) * time.Millisecond
}

// PollInterval returns the idle polling interval of the remote backend.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Device.PollIntervalMs) * time.Millisecond
}

// Settle returns the local mount settle delay.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Device.SettleMs) * time.Millisecond
}
