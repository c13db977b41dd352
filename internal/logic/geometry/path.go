package geometry

import (
	"fmt"
	"iter"
)

// Offset is a pointing displacement in degrees, relative to the target's
// nominal position.
type Offset struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// IsZero reports whether the offset is (0, 0).
func (o Offset) IsZero() bool {
	return o.RA == 0 && o.Dec == 0
}

func (o Offset) String() string {
	return fmt.Sprintf("(%.5f, %.5f)", o.RA, o.Dec)
}

// Step is an unscaled lattice position of a search path.
type Step struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Scale turns the step into an angular offset: (X*base.RA, Y*base.Dec).
func (s Step) Scale(base Offset) Offset {
	return Offset{
		RA:  float64(s.X) * base.RA,
		Dec: float64(s.Y) * base.Dec,
	}
}

// Path is a finite, ordered list of search positions. Constructors return
// a fresh slice on every call, so callers may keep or modify what they get.
type Path []Step

// CrossPath returns the default four point cross around the nominal position.
func CrossPath() Path {
	return Path{{-1, 0}, {0, -1}, {1, 0}, {0, 1}}
}

// SpiralSteps yields the cumulative positions of an unbounded spiral.
// Each range over the sequence starts a fresh generator.
func SpiralSteps(stepSizeX, stepSizeY int) iter.Seq[Step] {
	return func(yield func(Step) bool) {
		gen := NewSpiral(stepSizeX, stepSizeY)
		var pos Step
		for {
			dx, dy := gen.Next()
			pos.X += dx
			pos.Y += dy
			if !yield(pos) {
				return
			}
		}
	}
}

// SpiralPath returns the first n positions of a spiral search.
func SpiralPath(n, stepSizeX, stepSizeY int) Path {
	if n <= 0 {
		return Path{}
	}
	p := make(Path, 0, n)
	for st := range SpiralSteps(stepSizeX, stepSizeY) {
		p = append(p, st)
		if len(p) == n {
			break
		}
	}
	return p
}

// NewPath builds a path by name: "cross" or "spiral" (n points).
func NewPath(pattern string, n, stepSizeX, stepSizeY int) (Path, error) {
	switch pattern {
	case "", "cross":
		return CrossPath(), nil
	case "spiral":
		if n <= 0 {
			return nil, fmt.Errorf("spiral path needs at least one point, got %d", n)
		}
		return SpiralPath(n, stepSizeX, stepSizeY), nil
	default:
		return nil, fmt.Errorf("unknown search pattern: %s", pattern)
	}
}

// Offsets scales every step of the path by base.
func (p Path) Offsets(base Offset) []Offset {
	out := make([]Offset, len(p))
	for i, s := range p {
		out[i] = s.Scale(base)
	}
	return out
}
