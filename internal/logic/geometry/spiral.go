package geometry

// SpiralState is a snapshot of the spiral generator.
// RingLength == 2*StepSizeX + StepSizeY holds after every transition.
type SpiralState struct {
	StepSizeX  int
	StepSizeY  int
	RingLength int
	Step       int
	Direction  int // +1 or -1
}

// Spiral produces unit deltas whose running sum traces a rectangular
// spiral growing around the origin. Each half ring walks StepSizeX cells
// along y, StepSizeY cells along x, then StepSizeX cells back along y;
// the direction flips between half rings and both sides grow, so no
// lattice point is visited twice. The sequence is infinite; start over
// with a new Spiral.
type Spiral struct {
	state SpiralState
}

// NewSpiral creates a generator with independent initial step sizes per
// axis, allowing non-square spacing. Sizes below 1 are raised to 1.
func NewSpiral(stepSizeX, stepSizeY int) *Spiral {
	if stepSizeX < 1 {
		stepSizeX = 1
	}
	if stepSizeY < 1 {
		stepSizeY = 1
	}
	return &Spiral{state: SpiralState{
		StepSizeX:  stepSizeX,
		StepSizeY:  stepSizeY,
		RingLength: 2*stepSizeX + stepSizeY,
		Direction:  1,
	}}
}

// State returns a copy of the current generator state.
func (s *Spiral) State() SpiralState {
	return s.state
}

// Next returns the next unit delta (dx, dy), each in {-1, 0, 1}.
func (s *Spiral) Next() (dx, dy int) {
	st := &s.state
	if st.Step == st.RingLength {
		st.Direction = -st.Direction
		if st.Direction == 1 {
			st.StepSizeX++
		}
		st.StepSizeY++
		st.RingLength = 2*st.StepSizeX + st.StepSizeY
		st.Step = 0
	}

	switch {
	case st.Step < st.StepSizeX:
		dx, dy = 0, 1
	case st.Step < st.StepSizeX+st.StepSizeY:
		dx, dy = 1, 0
	default:
		dx, dy = 0, -1
	}

	st.Step++
	return dx * st.Direction, dy * st.Direction
}
