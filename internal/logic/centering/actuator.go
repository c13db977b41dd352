package centering

import (
	"context"
	"time"

	"github.com/cjeanneret/PointGo/internal/solver"
)

// Actuator is everything the controller needs from the observatory: the
// mount, the camera, the image store and the script executor. Every call
// blocks until the device has acknowledged it.
type Actuator interface {
	// SetTemporaryOffset points the mount away from the target's nominal
	// position by (ra, dec) degrees. (0, 0) returns to nominal.
	SetTemporaryOffset(ctx context.Context, ra, dec float64) error
	// WaitIdle blocks until the mount has settled or timeout elapses.
	// It reports false on timeout.
	WaitIdle(ctx context.Context, timeout time.Duration) (bool, error)
	SetExposureTime(ctx context.Context, exposure time.Duration) error
	// ExposeNow takes a frame and returns its path once readout is done.
	ExposeNow(ctx context.Context) (string, error)
	// ApplyPermanentCorrection adds (ra, dec) degrees to the pointing model.
	ApplyPermanentCorrection(ctx context.Context, ra, dec float64) error
	DisableCurrentTarget(ctx context.Context, cooldown time.Duration) error
	ArchiveImage(ctx context.Context, image string) error
	DiscardImage(ctx context.Context, image string) error
	// TerminateScript ends the observation script the search runs in.
	TerminateScript(ctx context.Context) error
}

// Solver turns a frame into the four numeric fields of a solution.
type Solver interface {
	Solve(ctx context.Context, image string) (solver.Result, error)
}

// Recorder persists a session as it progresses. Recorder failures are
// logged and never interrupt the search.
type Recorder interface {
	SessionStarted(ctx context.Context, s *Session) error
	AttemptFinished(ctx context.Context, s *Session, a Attempt) error
	SessionFinished(ctx context.Context, s *Session) error
}
