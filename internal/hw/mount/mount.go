// Package mount drives a local stepper mount with a tethered camera, the
// hardware PointGo started on, as the observatory seen by the
// acquisition search.
package mount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PointGo/internal/archive"
	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/hw/camera"
	"github.com/cjeanneret/PointGo/internal/logic/geometry"
	"github.com/cjeanneret/PointGo/internal/logic/motion"
)

// Mount implements centering.Actuator on top of the motion controller,
// a camera and the local archive.
type Mount struct {
	motion *motion.Controller
	camera camera.Camera
	store  *archive.Store

	ledger    *archive.Ledger // optional
	target    string
	settle    time.Duration
	terminate func()
	now       func() time.Time

	exposure time.Duration
}

// Option configures a Mount.
type Option func(*Mount)

// WithLedger records target disables in the ledger under the given name.
func WithLedger(l *archive.Ledger, target string) Option {
	return func(m *Mount) {
		m.ledger = l
		m.target = target
	}
}

// WithSettle sets how long the mount is left to damp after a move.
func WithSettle(d time.Duration) Option {
	return func(m *Mount) { m.settle = d }
}

// WithTerminate sets what ending the observation script does.
func WithTerminate(fn func()) Option {
	return func(m *Mount) { m.terminate = fn }
}

func New(mc *motion.Controller, cam camera.Camera, store *archive.Store, opts ...Option) *Mount {
	m := &Mount{
		motion:   mc,
		camera:   cam,
		store:    store,
		now:      time.Now,
		exposure: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTemporaryOffset moves both axes to the offset, on top of the
// pointing correction.
func (m *Mount) SetTemporaryOffset(ctx context.Context, ra, dec float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.motion.EnableMotors(); err != nil {
		return fmt.Errorf("enable motors: %w", err)
	}
	return m.motion.SetOffset(geometry.Offset{RA: ra, Dec: dec})
}

// WaitIdle lets the mount settle. Moves are synchronous, so only the
// vibration delay remains; it is cut short (and reported as not idle)
// when it exceeds timeout.
func (m *Mount) WaitIdle(ctx context.Context, timeout time.Duration) (bool, error) {
	wait, idle := m.settle, true
	if timeout > 0 && wait > timeout {
		wait, idle = timeout, false
	}
	if wait <= 0 {
		return idle, nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.C:
		return idle, nil
	}
}

func (m *Mount) SetExposureTime(ctx context.Context, exposure time.Duration) error {
	if exposure <= 0 {
		return errors.New("exposure time must be positive")
	}
	m.exposure = exposure
	return nil
}

// ExposeNow takes a frame with the configured exposure time.
func (m *Mount) ExposeNow(ctx context.Context) (string, error) {
	return m.camera.Expose(ctx, m.exposure)
}

// ApplyPermanentCorrection adds the correction to the pointing model and
// moves the mount by it.
func (m *Mount) ApplyPermanentCorrection(ctx context.Context, ra, dec float64) error {
	if err := m.motion.ApplyCorrection(geometry.Offset{RA: ra, Dec: dec}); err != nil {
		return err
	}
	debug.Info("Pointing correction now %s", m.motion.Correction())
	return nil
}

// DisableCurrentTarget records the cooldown in the ledger. Without a
// ledger it is only logged.
func (m *Mount) DisableCurrentTarget(ctx context.Context, cooldown time.Duration) error {
	until := m.now().Add(cooldown)
	if m.ledger == nil {
		debug.Warn("Target %q disabled until %s (no ledger)", m.target, until.Format(time.RFC3339))
		return nil
	}
	if err := m.ledger.DisableTarget(ctx, m.target, until); err != nil {
		return err
	}
	debug.Info("Target %q disabled until %s", m.target, until.Format(time.RFC3339))
	return nil
}

func (m *Mount) ArchiveImage(ctx context.Context, image string) error {
	_, err := m.store.Archive(image)
	return err
}

func (m *Mount) DiscardImage(ctx context.Context, image string) error {
	return m.store.Discard(image)
}

// TerminateScript releases the motors and hands over to the terminate
// callback.
func (m *Mount) TerminateScript(ctx context.Context) error {
	if err := m.motion.DisableMotors(); err != nil {
		debug.Warn("Disable motors: %v", err)
	}
	if m.terminate != nil {
		m.terminate()
	}
	return nil
}
