package motion

import (
	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/hw/stepper"
	"github.com/cjeanneret/PointGo/internal/logic/geometry"
)

// Controller drives the RA and Dec axes of the mount in degrees.
// It keeps two displacements from the position the mount was pointed at
// when created: a temporary offset, used while searching and cleared
// afterwards, and an accumulated pointing correction that is never cleared.
// Axis position = correction + offset.
type Controller struct {
	ra    *stepper.Stepper
	dec   *stepper.Stepper
	steps *geometry.StepsCalculator

	offset     geometry.Offset
	correction geometry.Offset
}

func NewController(ra, dec *stepper.Stepper, steps *geometry.StepsCalculator) *Controller {
	return &Controller{
		ra:    ra,
		dec:   dec,
		steps: steps,
	}
}

// Offset returns the temporary offset currently applied.
func (c *Controller) Offset() geometry.Offset {
	return c.offset
}

// Correction returns the accumulated pointing correction.
func (c *Controller) Correction() geometry.Offset {
	return c.correction
}

// SetOffset replaces the temporary offset and moves the mount there.
func (c *Controller) SetOffset(o geometry.Offset) error {
	if err := c.moveTo(c.correction.RA+o.RA, c.correction.Dec+o.Dec); err != nil {
		return err
	}
	c.offset = o
	return nil
}

// ApplyCorrection adds delta to the pointing correction and moves the
// mount by the same amount.
func (c *Controller) ApplyCorrection(delta geometry.Offset) error {
	next := geometry.Offset{
		RA:  c.correction.RA + delta.RA,
		Dec: c.correction.Dec + delta.Dec,
	}
	if err := c.moveTo(next.RA+c.offset.RA, next.Dec+c.offset.Dec); err != nil {
		return err
	}
	c.correction = next
	return nil
}

// moveTo positions both axes, RA first. Axes move sequentially.
func (c *Controller) moveTo(raDeg, decDeg float64) error {
	raTarget := c.steps.RAStepsFromAngle(raDeg)
	decTarget := c.steps.DecStepsFromAngle(decDeg)

	if d := raTarget - c.ra.Position(); d != 0 {
		debug.Move("ra", d)
		if err := c.ra.MoveTo(raTarget); err != nil {
			return err
		}
	}
	if d := decTarget - c.dec.Position(); d != 0 {
		debug.Move("dec", d)
		if err := c.dec.MoveTo(decTarget); err != nil {
			return err
		}
	}
	return nil
}

// EnableMotors energizes both axis drivers.
func (c *Controller) EnableMotors() error {
	if err := c.ra.Enable(); err != nil {
		return err
	}
	return c.dec.Enable()
}

// DisableMotors releases both axis drivers.
func (c *Controller) DisableMotors() error {
	if err := c.ra.Disable(); err != nil {
		return err
	}
	return c.dec.Disable()
}
