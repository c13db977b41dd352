package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/logic/centering"
	"github.com/cjeanneret/PointGo/internal/logic/geometry"
	"github.com/cjeanneret/PointGo/internal/web"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web UI to start acquisitions and follow their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port <= 0 || port > 65535 {
				return fmt.Errorf("port must be 1-65535, got %d", port)
			}
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			r, err := newRig(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := r.Close(); err != nil {
					debug.Warn("Closing rig failed: %v", err)
				}
			}()

			broadcaster := web.NewStatusBroadcaster()
			debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

			formDefaults := web.FormConfig{
				RAOffsetDeg:  cfg.Search.RAOffsetDeg,
				DecOffsetDeg: cfg.Search.DecOffsetDeg,
				ExposureS:    cfg.Search.ExposureS,
				Pattern:      cfg.Search.Pattern,
				SpiralPoints: cfg.Search.SpiralPoints,
			}
			if base, err := geometry.BaseOffset(cfg); err == nil {
				formDefaults.RAOffsetDeg = base.RA
				formDefaults.DecOffsetDeg = base.Dec
			}

			run := func(ctx context.Context, overrides web.Overrides) (*centering.Session, error) {
				return executeAcquisition(ctx, cfg, r, overrides)
			}
			srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, run, formDefaults)
			if err := srv.Run(cmd.Context()); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "port to listen on")
	return cmd
}
