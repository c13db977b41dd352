package geometry

import (
	"math"

	"github.com/cjeanneret/PointGo/internal/config"
)

// StepsCalculator converts axis angles to motor microsteps.
type StepsCalculator struct {
	raStepsPerDegree  float64
	decStepsPerDegree float64
}

// NewStepsCalculator creates a step calculator from configuration.
func NewStepsCalculator(cfg *config.Config) *StepsCalculator {
	return &StepsCalculator{
		raStepsPerDegree:  stepsPerDegree(cfg.RAStepper),
		decStepsPerDegree: stepsPerDegree(cfg.DecStepper),
	}
}

func stepsPerDegree(s config.StepperConfig) float64 {
	ratio := s.GearRatio
	if ratio <= 0 {
		ratio = 1
	}
	// microsteps per output revolution of the axis
	perRev := float64(s.StepsPerRev*s.Microstepping) * ratio
	return perRev / 360.0
}

// RAStepsFromAngle converts a right ascension axis angle (degrees) to microsteps.
func (s *StepsCalculator) RAStepsFromAngle(angleDegrees float64) int {
	return int(math.Round(angleDegrees * s.raStepsPerDegree))
}

// DecStepsFromAngle converts a declination axis angle (degrees) to microsteps.
func (s *StepsCalculator) DecStepsFromAngle(angleDegrees float64) int {
	return int(math.Round(angleDegrees * s.decStepsPerDegree))
}

// Resolution returns the smallest angle (degrees) each axis can move.
func (s *StepsCalculator) Resolution() (ra, dec float64) {
	if s.raStepsPerDegree > 0 {
		ra = 1 / s.raStepsPerDegree
	}
	if s.decStepsPerDegree > 0 {
		dec = 1 / s.decStepsPerDegree
	}
	return ra, dec
}
