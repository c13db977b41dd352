package camera

import (
	"context"
	"time"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract imaging camera, regardless of how it's
// controlled (GPIO remote cable, tethering, replayed frames, etc.).
type Camera interface {
	// Expose takes a single frame of the given length and returns the
	// path of the resulting image once it is readable.
	Expose(ctx context.Context, exposure time.Duration) (string, error)
}
