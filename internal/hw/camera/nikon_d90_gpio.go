package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/hw/gpio"
	"golang.org/x/sync/errgroup"
)

// NikonD90GPIO is a Camera implementation for a Nikon D90 in bulb mode,
// controlled via the 3-pin remote connector and tethered so that frames
// are downloaded into imageDir:
// - GND: connected to Raspberry Pi ground
// - FOCUS: half-press (activate by setting to LOW)
// - SHUTTER: release (activate by setting to LOW, held for the exposure)
type NikonD90GPIO struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration // half-press before release (AF is off on a telescope; this wakes the body)
	imageDir     string
	imageTimeout time.Duration // wait for the download after the shutter closes
	quiet        time.Duration // download considered complete after this long without writes
}

// NewNikonD90GPIO creates a GPIO-controlled Nikon D90 trigger.
func NewNikonD90GPIO(g gpio.Driver, focusPin, shutterPin int, focusDelay time.Duration, imageDir string, imageTimeout time.Duration) *NikonD90GPIO {
	_ = g.SetupPin(focusPin, gpio.Output)
	_ = g.SetupPin(shutterPin, gpio.Output)

	// By default, lines are HIGH (inactive)
	_ = g.WritePin(focusPin, gpio.High)
	_ = g.WritePin(shutterPin, gpio.High)

	return &NikonD90GPIO{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		imageDir:     imageDir,
		imageTimeout: imageTimeout,
		quiet:        500 * time.Millisecond,
	}
}

// Expose opens the shutter for exposure and returns the downloaded frame.
// The download directory is watched before the shutter opens so the frame
// cannot be missed.
func (n *NikonD90GPIO) Expose(ctx context.Context, exposure time.Duration) (string, error) {
	watcher, err := WatchImages(n.imageDir, n.quiet)
	if err != nil {
		return "", err
	}
	defer watcher.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.bulb(gctx, exposure)
	})

	var image string
	g.Go(func() error {
		wctx, cancel := context.WithTimeout(gctx, n.focusDelay+exposure+n.imageTimeout)
		defer cancel()
		path, err := watcher.Next(wctx)
		if err != nil {
			return err
		}
		image = path
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", err
	}
	debug.Live("Camera: frame %s", image)
	return image, nil
}

// bulb runs FOCUS -> wake delay -> SHUTTER held for exposure -> release.
// Lines are always released, even when ctx is cancelled mid-exposure.
func (n *NikonD90GPIO) bulb(ctx context.Context, exposure time.Duration) error {
	debug.Printf("Camera: bulb exposure %v (focus=%d, shutter=%d)", exposure, n.focusPin, n.shutterPin)

	if err := n.gpio.WritePin(n.focusPin, gpio.Low); err != nil {
		return err
	}
	defer func() { _ = n.gpio.WritePin(n.focusPin, gpio.High) }()

	if err := sleep(ctx, n.focusDelay); err != nil {
		return err
	}

	debug.Verbose("Camera: opening shutter (pin %d -> LOW)", n.shutterPin)
	if err := n.gpio.WritePin(n.shutterPin, gpio.Low); err != nil {
		return err
	}
	holdErr := sleep(ctx, exposure)

	debug.Verbose("Camera: closing shutter (pin %d -> HIGH)", n.shutterPin)
	if err := n.gpio.WritePin(n.shutterPin, gpio.High); err != nil {
		return fmt.Errorf("release shutter: %w", err)
	}
	return holdErr
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
