package geometry

import "testing"

func TestSpiral_FirstRing(t *testing.T) {
	gen := NewSpiral(1, 1)

	wantDeltas := [][2]int{{0, 1}, {1, 0}, {0, -1}, {0, -1}, {-1, 0}, {-1, 0}, {0, 1}, {0, 1}}
	wantPos := [][2]int{{0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}}

	x, y := 0, 0
	for i := range wantDeltas {
		dx, dy := gen.Next()
		if dx != wantDeltas[i][0] || dy != wantDeltas[i][1] {
			t.Errorf("delta %d = (%d,%d), want (%d,%d)", i, dx, dy, wantDeltas[i][0], wantDeltas[i][1])
		}
		x += dx
		y += dy
		if x != wantPos[i][0] || y != wantPos[i][1] {
			t.Errorf("position %d = (%d,%d), want (%d,%d)", i, x, y, wantPos[i][0], wantPos[i][1])
		}
	}
}

func TestSpiral_DeltasAreUnit(t *testing.T) {
	gen := NewSpiral(2, 3)
	for i := 0; i < 1000; i++ {
		dx, dy := gen.Next()
		if abs(dx)+abs(dy) != 1 {
			t.Fatalf("delta %d = (%d,%d), want a unit step along one axis", i, dx, dy)
		}
	}
}

func TestSpiral_NoRepeatedPositions(t *testing.T) {
	sizes := []struct{ x, y int }{
		{1, 1}, {1, 2}, {2, 1}, {1, 3}, {3, 1}, {2, 2}, {3, 5}, {4, 1},
	}
	const n = 2000
	for _, sz := range sizes {
		gen := NewSpiral(sz.x, sz.y)
		seen := make(map[[2]int]int, n)
		x, y := 0, 0
		for i := 0; i < n; i++ {
			dx, dy := gen.Next()
			x += dx
			y += dy
			p := [2]int{x, y}
			if prev, ok := seen[p]; ok {
				t.Fatalf("spiral(%d,%d): position %v visited at call %d and %d", sz.x, sz.y, p, prev, i)
			}
			seen[p] = i
		}
	}
}

func TestSpiral_RingLengthInvariant(t *testing.T) {
	gen := NewSpiral(1, 2)
	check := func(st SpiralState) {
		t.Helper()
		if st.RingLength != 2*st.StepSizeX+st.StepSizeY {
			t.Fatalf("ringLength = %d, want 2*%d+%d", st.RingLength, st.StepSizeX, st.StepSizeY)
		}
		if st.Step < 0 || st.Step > st.RingLength {
			t.Fatalf("step = %d out of [0,%d]", st.Step, st.RingLength)
		}
	}
	check(gen.State())

	expansions := 0
	prev := gen.State()
	for expansions < 12 {
		gen.Next()
		st := gen.State()
		check(st)
		if st.StepSizeY != prev.StepSizeY {
			expansions++
			if st.Step != 1 {
				t.Errorf("after expansion step = %d, want 1", st.Step)
			}
			if st.Direction != -prev.Direction {
				t.Errorf("direction did not flip: %d -> %d", prev.Direction, st.Direction)
			}
			if st.Direction == 1 && st.StepSizeX != prev.StepSizeX+1 {
				t.Errorf("stepSizeX = %d, want %d on positive half ring", st.StepSizeX, prev.StepSizeX+1)
			}
			if st.Direction == -1 && st.StepSizeX != prev.StepSizeX {
				t.Errorf("stepSizeX changed on negative half ring: %d -> %d", prev.StepSizeX, st.StepSizeX)
			}
		}
		prev = st
	}
}

func TestNewSpiral_ClampsStepSizes(t *testing.T) {
	st := NewSpiral(0, -4).State()
	if st.StepSizeX != 1 || st.StepSizeY != 1 {
		t.Errorf("step sizes = (%d,%d), want (1,1)", st.StepSizeX, st.StepSizeY)
	}
	if st.RingLength != 3 || st.Direction != 1 || st.Step != 0 {
		t.Errorf("state = %+v", st)
	}
}

func TestSpiral_Deterministic(t *testing.T) {
	a := NewSpiral(2, 1)
	b := NewSpiral(2, 1)
	for i := 0; i < 200; i++ {
		ax, ay := a.Next()
		bx, by := b.Next()
		if ax != bx || ay != by {
			t.Fatalf("call %d differs: (%d,%d) vs (%d,%d)", i, ax, ay, bx, by)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
