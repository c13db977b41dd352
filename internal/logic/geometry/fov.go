package geometry

import (
	"fmt"
	"math"

	"github.com/cjeanneret/PointGo/internal/config"
)

// FOVCalculator computes the field of view of the imaging train and the
// spacing between neighbouring search fields.
type FOVCalculator struct {
	cfg *config.Config
}

// NewFOVCalculator creates a new FOV calculator.
// Returns an error if sensor or lens information is missing.
func NewFOVCalculator(cfg *config.Config) (*FOVCalculator, error) {
	if cfg.Sensor == nil {
		return nil, fmt.Errorf("sensor configuration is required for FOV calculations")
	}
	if cfg.Lens.FocalLengthMm <= 0 {
		return nil, fmt.Errorf("lens.focal_length_mm must be > 0 for FOV calculations")
	}
	return &FOVCalculator{cfg: cfg}, nil
}

// HorizontalFOV calculates the field width in degrees.
// Formula: FOV = 2 × arctan(sensor_width / (2 × focal_length))
func (f *FOVCalculator) HorizontalFOV() float64 {
	return fieldAngle(f.cfg.Sensor.WidthMm, f.cfg.Lens.FocalLengthMm)
}

// VerticalFOV calculates the field height in degrees.
func (f *FOVCalculator) VerticalFOV() float64 {
	return fieldAngle(f.cfg.Sensor.HeightMm, f.cfg.Lens.FocalLengthMm)
}

func fieldAngle(sizeMm, focalMm float64) float64 {
	return 2.0 * math.Atan(sizeMm/(2.0*focalMm)) * 180.0 / math.Pi
}

// SearchOffset returns the base search offset: one field, less the
// configured overlap, along each axis. The sensor's long side is assumed
// to lie along right ascension.
func (f *FOVCalculator) SearchOffset() Offset {
	keep := 1.0 - f.cfg.OverlapRatio()
	return Offset{
		RA:  f.HorizontalFOV() * keep,
		Dec: f.VerticalFOV() * keep,
	}
}

// BaseOffset resolves the search base offset: explicit config values win,
// missing ones are derived from the field of view.
func BaseOffset(cfg *config.Config) (Offset, error) {
	base := Offset{RA: cfg.Search.RAOffsetDeg, Dec: cfg.Search.DecOffsetDeg}
	if base.RA != 0 && base.Dec != 0 {
		return base, nil
	}
	fov, err := NewFOVCalculator(cfg)
	if err != nil {
		return Offset{}, fmt.Errorf("derive search offset: %w", err)
	}
	derived := fov.SearchOffset()
	if base.RA == 0 {
		base.RA = derived.RA
	}
	if base.Dec == 0 {
		base.Dec = derived.Dec
	}
	return base, nil
}
