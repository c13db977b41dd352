// Package centering contains the pointing-acquisition search: nudge the
// mount through a path of offsets until one of the frames solves, then
// fold the solution into the pointing model.
package centering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/logic/geometry"
	"github.com/google/uuid"
)

const (
	DefaultSettleTimeout   = 300 * time.Second
	DefaultDisableDuration = 1200 * time.Second
)

var (
	ErrOffsetApply   = errors.New("apply temporary offset")
	ErrSettleTimeout = errors.New("mount did not settle")
	ErrExposure      = errors.New("exposure")
)

// Controller runs acquisition searches. It keeps no state between runs.
type Controller struct {
	actuator Actuator
	solver   Solver
	recorder Recorder

	settleTimeout   time.Duration
	disableDuration time.Duration
	now             func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithSettleTimeout bounds the wait for the mount after each offset.
func WithSettleTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.settleTimeout = d
		}
	}
}

// WithDisableDuration sets how long the target is disabled once the
// whole path failed.
func WithDisableDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.disableDuration = d
		}
	}
}

// WithRecorder persists sessions and attempts.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

func NewController(a Actuator, s Solver, opts ...Option) *Controller {
	c := &Controller{
		actuator:        a,
		solver:          s,
		settleTimeout:   DefaultSettleTimeout,
		disableDuration: DefaultDisableDuration,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run tries each path entry scaled by base until a frame solves.
//
// A resolved or exhausted search returns a nil error; the outcome is in
// the session. When every entry failed the target is disabled and the
// script terminated before Run returns. A cancelled context stops the
// search between attempts and is returned as the error, without
// escalation.
func (c *Controller) Run(ctx context.Context, base geometry.Offset, exposure time.Duration, path geometry.Path) (*Session, error) {
	s := &Session{
		ID:       uuid.NewString(),
		Base:     base,
		Exposure: exposure,
		Path:     append(geometry.Path(nil), path...),
		Started:  c.now(),
	}
	debug.Summary(fmt.Sprintf("Acquisition %s", s.ID))
	debug.Path(fmt.Sprintf("base %s, exposure %v", base, exposure), len(path))
	c.record("session start", func() error { return c.recorder.SessionStarted(ctx, s) })

	for i, step := range s.Path {
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, s, Cancelled), err
		}
		s.Index = i

		offset := step.Scale(base)
		debug.Attempt(i+1, len(s.Path), offset.RA, offset.Dec)
		a := c.attempt(ctx, exposure, offset)
		a.Index = i
		a.Step = step
		s.Attempts = append(s.Attempts, a)
		c.record("attempt", func() error { return c.recorder.AttemptFinished(context.WithoutCancel(ctx), s, a) })

		if a.Succeeded() {
			s.Correction = a.Correction
			debug.Info("Target acquired at offset %s, correction %s", offset, a.Correction)
			return c.finish(ctx, s, Resolved), nil
		}

		debug.Warn("Offset %s failed: %v", offset, a.Err)
		if a.Image != "" {
			if err := c.actuator.DiscardImage(context.WithoutCancel(ctx), a.Image); err != nil {
				debug.Warn("Discard %s: %v", a.Image, err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return c.finish(ctx, s, Cancelled), err
	}

	debug.Errorf("No offset of %d produced a solvable frame, disabling target for %v", len(s.Path), c.disableDuration)
	if err := c.actuator.DisableCurrentTarget(ctx, c.disableDuration); err != nil {
		debug.Errorf("Disable target: %v", err)
	}
	s = c.finish(ctx, s, Exhausted)
	if err := c.actuator.TerminateScript(ctx); err != nil {
		debug.Errorf("Terminate script: %v", err)
	}
	return s, nil
}

// attempt applies one offset, exposes, solves and corrects. Once the
// exposure stage is reached the temporary offset is cleared again on
// every branch.
func (c *Controller) attempt(ctx context.Context, exposure time.Duration, offset geometry.Offset) (a Attempt) {
	a = Attempt{Offset: offset, Started: c.now()}
	defer func() { a.Finished = c.now() }()

	if err := c.actuator.SetTemporaryOffset(ctx, offset.RA, offset.Dec); err != nil {
		a.Err = fmt.Errorf("%w %s: %w", ErrOffsetApply, offset, err)
		return a
	}

	settled, err := c.actuator.WaitIdle(ctx, c.settleTimeout)
	switch {
	case err != nil:
		debug.Verbose("Settle: %v", err)
	case !settled:
		debug.Verbose("Settle: %v after %v", ErrSettleTimeout, c.settleTimeout)
	default:
		debug.Verbose("Settle: idle")
	}
	a.Settled = err == nil && settled

	cleared := false
	defer func() {
		if cleared {
			return
		}
		if err := c.actuator.SetTemporaryOffset(context.WithoutCancel(ctx), 0, 0); err != nil {
			debug.Warn("Clear temporary offset: %v", err)
		}
	}()

	if err := c.actuator.SetExposureTime(ctx, exposure); err != nil {
		a.Err = fmt.Errorf("%w: set exposure time %v: %w", ErrExposure, exposure, err)
		return a
	}
	image, err := c.actuator.ExposeNow(ctx)
	if err != nil {
		a.Err = fmt.Errorf("%w: %w", ErrExposure, err)
		return a
	}
	a.Image = image
	debug.Live("Exposed %s", image)

	res, err := c.solver.Solve(ctx, image)
	if err != nil {
		a.Err = err
		return a
	}
	a.Solution = res
	debug.Info("Solver %s fields: %s %s %s %s", res.Format, res.Fields[0], res.Fields[1], res.Fields[2], res.Fields[3])

	ra, dec, err := res.Correction()
	if err != nil {
		a.Err = err
		return a
	}
	if err := c.actuator.ApplyPermanentCorrection(ctx, ra, dec); err != nil {
		a.Err = fmt.Errorf("apply correction (%g, %g): %w", ra, dec, err)
		return a
	}
	a.Correction = geometry.Offset{RA: ra, Dec: dec}

	// Correction applied: from here on failures are only logged.
	cleared = true
	if err := c.actuator.SetTemporaryOffset(ctx, 0, 0); err != nil {
		debug.Warn("Clear temporary offset: %v", err)
	}
	if err := c.actuator.ArchiveImage(ctx, image); err != nil {
		debug.Warn("Archive %s: %v", image, err)
	}
	return a
}

func (c *Controller) finish(ctx context.Context, s *Session, o Outcome) *Session {
	s.Outcome = o
	s.Finished = c.now()
	debug.Info("Acquisition %s %s after %d attempt(s) in %v", s.ID, o, len(s.Attempts), s.Finished.Sub(s.Started).Round(time.Millisecond))
	c.record("session end", func() error { return c.recorder.SessionFinished(context.WithoutCancel(ctx), s) })
	return s
}

func (c *Controller) record(what string, fn func() error) {
	if c.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		debug.Warn("Record %s: %v", what, err)
	}
}
