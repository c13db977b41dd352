package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cjeanneret/PointGo/internal/archive"
	"github.com/cjeanneret/PointGo/internal/config"
	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/hw/camera"
	"github.com/cjeanneret/PointGo/internal/hw/gpio"
	"github.com/cjeanneret/PointGo/internal/hw/mount"
	"github.com/cjeanneret/PointGo/internal/hw/remote"
	"github.com/cjeanneret/PointGo/internal/hw/stepper"
	"github.com/cjeanneret/PointGo/internal/logic/centering"
	"github.com/cjeanneret/PointGo/internal/logic/geometry"
	"github.com/cjeanneret/PointGo/internal/logic/motion"
	"github.com/cjeanneret/PointGo/internal/solver"
	"github.com/cjeanneret/PointGo/internal/web"
)

// rig is everything an acquisition needs, built once from the config.
type rig struct {
	actuator centering.Actuator
	solver   centering.Solver
	ledger   *archive.Ledger // nil without archive.db_path
	closers  []func() error
}

func (r *rig) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// newRig builds the archive, the ledger, the solver and the actuator of
// the configured backend.
func newRig(cfg *config.Config) (*rig, error) {
	r := &rig{
		solver: solver.NewSubprocess(cfg.Solver.Command, cfg.Solver.Args, cfg.SolverTimeout()),
	}

	debug.Step(1, "Opening archive")
	store, err := archive.NewStore(cfg.Archive.Dir, cfg.Archive.TrashDir)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if cfg.Archive.DBPath != "" {
		ledger, err := archive.OpenLedger(cfg.Archive.DBPath)
		if err != nil {
			return nil, err
		}
		r.ledger = ledger
		r.closers = append(r.closers, ledger.Close)
	}

	debug.Step(2, "Initializing "+cfg.Device.Backend+" backend")
	switch cfg.Device.Backend {
	case "http":
		client, err := remote.NewClient(cfg.Device.URL, store,
			remote.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
			remote.WithAuth(cfg.Device.User, cfg.Device.Password),
			remote.WithExecutor(cfg.Device.Executor),
			remote.WithPollInterval(cfg.PollInterval()),
			remote.WithReadoutMargin(cfg.ReadoutMargin()),
		)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.actuator = client
	default:
		m, err := newLocalMount(cfg, store, r)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.actuator = m
	}
	return r, nil
}

func newLocalMount(cfg *config.Config, store *archive.Store, r *rig) (*mount.Mount, error) {
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO failed: %w", err)
	}
	r.closers = append(r.closers, gpioDriver.Close)

	stepDelay := cfg.MoveSpeed() / 2
	raMotor := stepper.NewStepper(gpioDriver, stepper.Config{
		Name:          "ra",
		StepPin:       cfg.RAStepper.StepPin,
		DirPin:        cfg.RAStepper.DirPin,
		EnablePin:     cfg.RAStepper.EnablePin,
		StepsPerRev:   cfg.RAStepper.StepsPerRev,
		Microstepping: cfg.RAStepper.Microstepping,
		StepDelay:     stepDelay,
	})
	debug.PrintStruct("RA stepper config", cfg.RAStepper)
	decMotor := stepper.NewStepper(gpioDriver, stepper.Config{
		Name:          "dec",
		StepPin:       cfg.DecStepper.StepPin,
		DirPin:        cfg.DecStepper.DirPin,
		EnablePin:     cfg.DecStepper.EnablePin,
		StepsPerRev:   cfg.DecStepper.StepsPerRev,
		Microstepping: cfg.DecStepper.Microstepping,
		StepDelay:     stepDelay,
	})
	debug.PrintStruct("Dec stepper config", cfg.DecStepper)

	cam, err := newCameraFromConfig(gpioDriver, cfg)
	if err != nil {
		return nil, fmt.Errorf("init camera failed: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)

	opts := []mount.Option{
		mount.WithSettle(cfg.Settle()),
		mount.WithTerminate(func() { debug.Info("Observation script ended") }),
	}
	if r.ledger != nil {
		opts = append(opts, mount.WithLedger(r.ledger, cfg.Device.Target))
	}
	mc := motion.NewController(raMotor, decMotor, geometry.NewStepsCalculator(cfg))
	return mount.New(mc, cam, store, opts...), nil
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case "nikon_d90_gpio":
		return camera.NewNikonD90GPIO(
			g,
			cfg.Camera.FocusPin,
			cfg.Camera.ShutterPin,
			cfg.FocusDelay(),
			cfg.Camera.ImageDir,
			cfg.ImageTimeout(),
		), nil
	case "replay":
		return camera.NewReplay(cfg.Camera.ImageDir, filepath.Join(cfg.Archive.Dir, ".incoming"))
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// executeAcquisition runs one search with the given overrides applied to
// a copy of the base config.
func executeAcquisition(ctx context.Context, baseCfg *config.Config, r *rig, overrides web.Overrides) (*centering.Session, error) {
	cfg := applyOverridesToCopy(baseCfg, overrides)

	if r.ledger != nil && cfg.Device.Backend != "http" {
		until, ok, err := r.ledger.DisabledUntil(ctx, cfg.Device.Target)
		if err != nil {
			return nil, err
		}
		if ok && until.After(time.Now()) {
			return nil, fmt.Errorf("target %q is disabled until %s", cfg.Device.Target, until.Format(time.RFC3339))
		}
	}

	debug.Step(3, "Calculating search path")
	base, err := geometry.BaseOffset(cfg)
	if err != nil {
		return nil, err
	}
	path, err := geometry.NewPath(cfg.Search.Pattern, cfg.Search.SpiralPoints, cfg.Search.SpiralStepX, cfg.Search.SpiralStepY)
	if err != nil {
		return nil, err
	}
	debug.Path(cfg.Search.Pattern, len(path))
	debug.Value("Base offset", base)
	debug.Value("Exposure", cfg.Exposure())

	opts := []centering.Option{
		centering.WithSettleTimeout(cfg.SettleTimeout()),
		centering.WithDisableDuration(cfg.DisableDuration()),
	}
	if r.ledger != nil {
		opts = append(opts, centering.WithRecorder(r.ledger))
	}

	debug.Section("Starting acquisition")
	return centering.NewController(r.actuator, r.solver, opts...).Run(ctx, base, cfg.Exposure(), path)
}
