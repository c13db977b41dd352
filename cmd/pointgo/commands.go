package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cjeanneret/PointGo/internal/archive"
	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/logic/centering"
	"github.com/cjeanneret/PointGo/internal/logic/geometry"
	"github.com/cjeanneret/PointGo/internal/solver"
	"github.com/cjeanneret/PointGo/internal/web"
	"github.com/spf13/cobra"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var overrides web.Overrides

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one acquisition search for the current target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Only non-zero values are applied; zero means "use config default".
			if err := web.ValidateOverrides(overrides); err != nil {
				return fmt.Errorf("invalid override: %w", err)
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

			s, err := executeAcquisition(cmd.Context(), cfg, r, overrides)
			if s != nil {
				printSession(cmd.OutOrStdout(), s)
			}
			if err != nil {
				return err
			}
			if s.Outcome == centering.Exhausted {
				return &exitError{
					Code: exitEscalated,
					Err:  fmt.Errorf("target not found after %d attempts, disabled for %s", len(s.Attempts), cfg.DisableDuration()),
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&overrides.RAOffsetDeg, "ra", 0, "override RA search offset in degrees")
	cmd.Flags().Float64Var(&overrides.DecOffsetDeg, "dec", 0, "override Dec search offset in degrees")
	cmd.Flags().Float64Var(&overrides.ExposureS, "exptime", 0, "override exposure time in seconds")
	cmd.Flags().StringVar(&overrides.Pattern, "pattern", "", "override search pattern (cross or spiral)")
	cmd.Flags().IntVar(&overrides.SpiralPoints, "points", 0, "override number of spiral points")
	return cmd
}

func printSession(w io.Writer, s *centering.Session) {
	_, _ = fmt.Fprintf(w, "session %s: %s\n", s.ID, s.Outcome)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tOFFSET\tIMAGE\tRESULT")
	for _, a := range s.Attempts {
		result := "correction " + a.Correction.String()
		if !a.Succeeded() {
			result = a.Err.Error()
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", a.Index, a.Offset, a.Image, result)
	}
	_ = tw.Flush()
	if s.Outcome == centering.Resolved {
		_, _ = fmt.Fprintf(w, "resolved at entry %d, correction %s\n", s.Index, s.Correction)
	}
}

func newSolveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "solve <image>",
		Short: "Plate solve one image with the configured solver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}
			res, err := solver.NewSubprocess(cfg.Solver.Command, cfg.Solver.Args, cfg.SolverTimeout()).Solve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "format: %s\n", res.Format)
			_, _ = fmt.Fprintf(out, "fields: %q\n", res.Fields)
			ra, dec, err := res.Correction()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "correction: ra=%g dec=%g\n", ra, dec)
			return nil
		},
	}
}

type spiralOptions struct {
	points       int
	stepX, stepY int
	ra, dec      float64
	pattern      string
}

func newSpiralCmd() *cobra.Command {
	opts := spiralOptions{points: 24, stepX: 1, stepY: 1, ra: 1, dec: 1, pattern: "spiral"}

	cmd := &cobra.Command{
		Use:   "spiral",
		Short: "Print the offsets a search would visit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := geometry.NewPath(opts.pattern, opts.points, opts.stepX, opts.stepY)
			if err != nil {
				return err
			}
			base := geometry.Offset{RA: opts.ra, Dec: opts.dec}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "#\tX\tY\tRA\tDEC")
			for i, st := range path {
				o := st.Scale(base)
				_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%g\t%g\n", i, st.X, st.Y, o.RA, o.Dec)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&opts.points, "points", opts.points, "number of spiral points")
	cmd.Flags().IntVar(&opts.stepX, "step-x", opts.stepX, "initial spiral step along x")
	cmd.Flags().IntVar(&opts.stepY, "step-y", opts.stepY, "initial spiral step along y")
	cmd.Flags().Float64Var(&opts.ra, "ra", opts.ra, "RA base offset in degrees")
	cmd.Flags().Float64Var(&opts.dec, "dec", opts.dec, "Dec base offset in degrees")
	cmd.Flags().StringVar(&opts.pattern, "pattern", opts.pattern, "search pattern (cross or spiral)")
	return cmd
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent acquisition sessions from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cfg.Archive.DBPath == "" {
				return errors.New("archive.db_path is not set")
			}
			ledger, err := archive.OpenLedger(cfg.Archive.DBPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			records, err := ledger.RecentSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STARTED\tSESSION\tOUTCOME\tATTEMPTS\tCORRECTION")
			for _, rec := range records {
				corr := "-"
				if rec.Correction != nil {
					corr = fmt.Sprintf("%g %g", rec.Correction[0], rec.Correction[1])
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					rec.StartedAt.Local().Format(time.DateTime), rec.ID, rec.Outcome, rec.Attempts, corr)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to list")
	return cmd
}
