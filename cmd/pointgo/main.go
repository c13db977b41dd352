package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cjeanneret/PointGo/internal/config"
	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/web"
	"github.com/spf13/cobra"
)

// exitEscalated is the exit status of a run whose search failed and
// disabled the target.
const exitEscalated = 3

type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e == nil || e.Err == nil {
		return "command failed"
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type rootOptions struct {
	configPath string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			if coded.Err != nil {
				_, _ = fmt.Fprintln(os.Stderr, coded.Err)
			}
			cancel()
			os.Exit(coded.Code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "pointgo",
		Short:         "Find a telescope target by searching around it and plate solving",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")

	root.AddCommand(
		newRunCmd(opts),
		newSolveCmd(opts),
		newSpiralCmd(),
		newServeCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// loadConfig validates and reads the config, then starts the debug logger
// at the configured level.
func loadConfig(path string) (*config.Config, error) {
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", path)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Backend", cfg.Device.Backend)
	return cfg, nil
}

// applyOverridesToCopy returns a new config with overrides applied.
// Zero values in overrides mean "use base config".
func applyOverridesToCopy(baseCfg *config.Config, overrides web.Overrides) *config.Config {
	cfg := *baseCfg
	if overrides.RAOffsetDeg > 0 {
		cfg.Search.RAOffsetDeg = overrides.RAOffsetDeg
	}
	if overrides.DecOffsetDeg > 0 {
		cfg.Search.DecOffsetDeg = overrides.DecOffsetDeg
	}
	if overrides.ExposureS > 0 {
		cfg.Search.ExposureS = overrides.ExposureS
	}
	if overrides.Pattern != "" {
		cfg.Search.Pattern = overrides.Pattern
	}
	if overrides.SpiralPoints > 0 {
		cfg.Search.SpiralPoints = overrides.SpiralPoints
	}
	return &cfg
}
