package centering

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/PointGo/internal/debug"
	"github.com/cjeanneret/PointGo/internal/logic/geometry"
	"github.com/cjeanneret/PointGo/internal/solver"
)

// fakeActuator records every call and keeps the temporary offset and
// pointing correction like a real mount would.
type fakeActuator struct {
	mu sync.Mutex

	offsets    []geometry.Offset // every SetTemporaryOffset argument
	offset     geometry.Offset
	correction geometry.Offset
	exposures  []time.Duration
	shots      int
	archived   []string
	discarded  []string
	disabled   []time.Duration
	terminated int

	idle       bool
	offsetErr  func(ra, dec float64) error
	exptimeErr error
	exposeErr  error
	disableErr error
	onExpose   func()
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{idle: true}
}

func (f *fakeActuator) SetTemporaryOffset(ctx context.Context, ra, dec float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, geometry.Offset{RA: ra, Dec: dec})
	if f.offsetErr != nil {
		if err := f.offsetErr(ra, dec); err != nil {
			return err
		}
	}
	f.offset = geometry.Offset{RA: ra, Dec: dec}
	return nil
}

func (f *fakeActuator) WaitIdle(ctx context.Context, timeout time.Duration) (bool, error) {
	return f.idle, nil
}

func (f *fakeActuator) SetExposureTime(ctx context.Context, exposure time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exptimeErr != nil {
		return f.exptimeErr
	}
	f.exposures = append(f.exposures, exposure)
	return nil
}

func (f *fakeActuator) ExposeNow(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exposeErr != nil {
		return "", f.exposeErr
	}
	f.shots++
	if f.onExpose != nil {
		f.onExpose()
	}
	return fmt.Sprintf("frame%d.fits", f.shots), nil
}

func (f *fakeActuator) ApplyPermanentCorrection(ctx context.Context, ra, dec float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.correction.RA += ra
	f.correction.Dec += dec
	return nil
}

func (f *fakeActuator) DisableCurrentTarget(ctx context.Context, cooldown time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, cooldown)
	return f.disableErr
}

func (f *fakeActuator) ArchiveImage(ctx context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, image)
	return nil
}

func (f *fakeActuator) DiscardImage(ctx context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, image)
	return nil
}

func (f *fakeActuator) TerminateScript(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
	return nil
}

// fakeSolver answers with the line registered for an image and fails
// for every other one.
type fakeSolver struct {
	lines  map[string]string
	solved []string
}

func (s *fakeSolver) Solve(ctx context.Context, image string) (solver.Result, error) {
	if err := ctx.Err(); err != nil {
		return solver.Result{}, err
	}
	s.solved = append(s.solved, image)
	line, ok := s.lines[image]
	if !ok {
		return solver.Result{}, solver.ErrSolveFailure
	}
	res, ok := solver.ParseLine(line)
	if !ok {
		return solver.Result{}, solver.ErrSolveFailure
	}
	return res, nil
}

type fakeRecorder struct {
	started, attempts, finished int
	last                        Outcome
}

func (r *fakeRecorder) SessionStarted(ctx context.Context, s *Session) error {
	r.started++
	return nil
}

func (r *fakeRecorder) AttemptFinished(ctx context.Context, s *Session, a Attempt) error {
	r.attempts++
	return errors.New("disk full")
}

func (r *fakeRecorder) SessionFinished(ctx context.Context, s *Session) error {
	r.finished++
	r.last = s.Outcome
	return nil
}

// captureLog sends debug output at info level to a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	debug.SetOutput(&buf)
	debug.Init(debug.LevelInfo)
	t.Cleanup(func() {
		debug.Init(debug.LevelOff)
		debug.SetOutput(os.Stdout)
	})
	return &buf
}

func TestRun_ResolvesOnSecondEntry(t *testing.T) {
	captureLog(t)
	act := newFakeActuator()
	sol := &fakeSolver{lines: map[string]string{"frame2.fits": "correct 10 20 3 4"}}
	ctrl := NewController(act, sol)

	base := geometry.Offset{RA: 0.5, Dec: 0.25}
	s, err := ctrl.Run(context.Background(), base, 10*time.Second, geometry.CrossPath())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.Outcome != Resolved {
		t.Fatalf("outcome = %v, want resolved", s.Outcome)
	}
	if s.Index != 1 || len(s.Attempts) != 2 {
		t.Errorf("stopped at index %d after %d attempts, want 1 and 2", s.Index, len(s.Attempts))
	}
	if s.Correction != (geometry.Offset{RA: 3, Dec: 4}) {
		t.Errorf("session correction = %v, want (3, 4)", s.Correction)
	}
	if act.correction != (geometry.Offset{RA: 3, Dec: 4}) {
		t.Errorf("applied correction = %v, want (3, 4)", act.correction)
	}
	if !act.offset.IsZero() {
		t.Errorf("temporary offset left at %v", act.offset)
	}
	if act.shots != 2 {
		t.Errorf("exposures = %d, want 2", act.shots)
	}
	if len(act.archived) != 1 || act.archived[0] != "frame2.fits" {
		t.Errorf("archived = %v, want [frame2.fits]", act.archived)
	}
	if len(act.discarded) != 1 || act.discarded[0] != "frame1.fits" {
		t.Errorf("discarded = %v, want [frame1.fits]", act.discarded)
	}
	if len(act.disabled) != 0 || act.terminated != 0 {
		t.Errorf("escalated on a resolved search: disabled=%v terminated=%d", act.disabled, act.terminated)
	}
	for _, d := range act.exposures {
		if d != 10*time.Second {
			t.Errorf("exposure time = %v, want 10s", d)
		}
	}
	if s.ID == "" {
		t.Error("session has no ID")
	}
}

func TestRun_ExhaustedEscalates(t *testing.T) {
	buf := captureLog(t)
	act := newFakeActuator()
	ctrl := NewController(act, &fakeSolver{})

	s, err := ctrl.Run(context.Background(), geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.CrossPath())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.Outcome != Exhausted {
		t.Fatalf("outcome = %v, want exhausted", s.Outcome)
	}
	if len(act.discarded) != 4 {
		t.Errorf("discarded %d frames, want 4", len(act.discarded))
	}
	if len(act.archived) != 0 {
		t.Errorf("archived %v on a failed search", act.archived)
	}
	if len(act.disabled) != 1 || act.disabled[0] != 1200*time.Second {
		t.Errorf("disabled = %v, want [20m0s]", act.disabled)
	}
	if act.terminated != 1 {
		t.Errorf("terminated %d times, want 1", act.terminated)
	}
	if n := strings.Count(buf.String(), "[ERROR]"); n != 1 {
		t.Errorf("error log lines = %d, want 1:\n%s", n, buf.String())
	}
	if n := strings.Count(buf.String(), "[WARN] Offset"); n != 4 {
		t.Errorf("warning log lines = %d, want 4", n)
	}
	if !act.offset.IsZero() {
		t.Errorf("temporary offset left at %v", act.offset)
	}
	for i, a := range s.Attempts {
		if !errors.Is(a.Err, solver.ErrSolveFailure) {
			t.Errorf("attempt %d err = %v, want solve failure", i, a.Err)
		}
	}
}

func TestRun_ScalesPathByBase(t *testing.T) {
	captureLog(t)
	act := newFakeActuator()
	ctrl := NewController(act, &fakeSolver{})

	path := geometry.SpiralPath(4, 1, 1)
	base := geometry.Offset{RA: 0.2, Dec: 0.1}
	if _, err := ctrl.Run(context.Background(), base, time.Second, path); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Each attempt sets the scaled offset and then clears it.
	want := []geometry.Offset{}
	for _, st := range path {
		want = append(want, st.Scale(base), geometry.Offset{})
	}
	if len(act.offsets) != len(want) {
		t.Fatalf("offset calls = %v, want %v", act.offsets, want)
	}
	for i := range want {
		if act.offsets[i] != want[i] {
			t.Errorf("offset call %d = %v, want %v", i, act.offsets[i], want[i])
		}
	}
}

func TestRun_OffsetFailureSkipsExposure(t *testing.T) {
	captureLog(t)
	act := newFakeActuator()
	act.offsetErr = func(ra, dec float64) error {
		if ra != 0 || dec != 0 {
			return errors.New("mount refused")
		}
		return nil
	}
	ctrl := NewController(act, &fakeSolver{})

	s, err := ctrl.Run(context.Background(), geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.CrossPath())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Outcome != Exhausted {
		t.Fatalf("outcome = %v, want exhausted", s.Outcome)
	}
	if act.shots != 0 || len(act.discarded) != 0 {
		t.Errorf("shots=%d discarded=%v, want none", act.shots, act.discarded)
	}
	// No exposure stage reached, so no clearing call either.
	if len(act.offsets) != 4 {
		t.Errorf("offset calls = %v, want the 4 refused ones", act.offsets)
	}
	for i, a := range s.Attempts {
		if !errors.Is(a.Err, ErrOffsetApply) {
			t.Errorf("attempt %d err = %v, want ErrOffsetApply", i, a.Err)
		}
		if a.Image != "" {
			t.Errorf("attempt %d has image %q", i, a.Image)
		}
	}
}

func TestRun_ExposureFailureClearsOffset(t *testing.T) {
	captureLog(t)
	act := newFakeActuator()
	act.exposeErr = errors.New("camera busy")
	ctrl := NewController(act, &fakeSolver{})

	s, err := ctrl.Run(context.Background(), geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.Path{{X: 1, Y: 0}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(s.Attempts[0].Err, ErrExposure) {
		t.Errorf("err = %v, want ErrExposure", s.Attempts[0].Err)
	}
	if !act.offset.IsZero() {
		t.Errorf("temporary offset left at %v", act.offset)
	}
	if len(act.discarded) != 0 {
		t.Errorf("discarded %v without an image", act.discarded)
	}
}

func TestRun_SettleTimeoutIsNotFatal(t *testing.T) {
	captureLog(t)
	act := newFakeActuator()
	act.idle = false
	sol := &fakeSolver{lines: map[string]string{"frame1.fits": "solved 1 2 (0.5 -0.5)"}}
	ctrl := NewController(act, sol, WithSettleTimeout(time.Millisecond))

	s, err := ctrl.Run(context.Background(), geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.CrossPath())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Outcome != Resolved {
		t.Fatalf("outcome = %v, want resolved", s.Outcome)
	}
	if s.Attempts[0].Settled {
		t.Error("attempt reported settled after a settle timeout")
	}
	if s.Correction != (geometry.Offset{RA: 0.5, Dec: -0.5}) {
		t.Errorf("correction = %v, want (0.5, -0.5)", s.Correction)
	}
}

func TestRun_UnparseableCorrectionAdvances(t *testing.T) {
	captureLog(t)
	act := newFakeActuator()
	sol := &fakeSolver{lines: map[string]string{
		"frame1.fits": "correct 1 2 3.3.3 4",
		"frame2.fits": "correct 1 2 -1 1",
	}}
	ctrl := NewController(act, sol)

	s, err := ctrl.Run(context.Background(), geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.CrossPath())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(s.Attempts[0].Err, solver.ErrUnparseableField) {
		t.Errorf("first attempt err = %v, want ErrUnparseableField", s.Attempts[0].Err)
	}
	if s.Outcome != Resolved || s.Index != 1 {
		t.Errorf("outcome = %v at %d, want resolved at 1", s.Outcome, s.Index)
	}
	if act.correction != (geometry.Offset{RA: -1, Dec: 1}) {
		t.Errorf("applied correction = %v, want (-1, 1)", act.correction)
	}
}

func TestRun_CancelledDoesNotEscalate(t *testing.T) {
	captureLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	act := newFakeActuator()
	act.onExpose = cancel
	ctrl := NewController(act, &fakeSolver{})

	s, err := ctrl.Run(ctx, geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.CrossPath())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.Outcome != Cancelled {
		t.Errorf("outcome = %v, want cancelled", s.Outcome)
	}
	if len(s.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(s.Attempts))
	}
	if len(act.discarded) != 1 {
		t.Errorf("discarded = %v, want the interrupted frame", act.discarded)
	}
	if !act.offset.IsZero() {
		t.Errorf("temporary offset left at %v", act.offset)
	}
	if len(act.disabled) != 0 || act.terminated != 0 {
		t.Errorf("escalated a cancelled search: disabled=%v terminated=%d", act.disabled, act.terminated)
	}
}

func TestRun_EscalationErrorsAreLogged(t *testing.T) {
	buf := captureLog(t)
	act := newFakeActuator()
	act.disableErr = errors.New("executor offline")
	ctrl := NewController(act, &fakeSolver{}, WithDisableDuration(time.Minute))

	s, err := ctrl.Run(context.Background(), geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.Path{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Outcome != Exhausted {
		t.Errorf("outcome = %v, want exhausted", s.Outcome)
	}
	if len(act.disabled) != 1 || act.disabled[0] != time.Minute {
		t.Errorf("disabled = %v, want [1m0s]", act.disabled)
	}
	if act.terminated != 1 {
		t.Errorf("terminated = %d, want 1 even after a failed disable", act.terminated)
	}
	if !strings.Contains(buf.String(), "executor offline") {
		t.Errorf("disable failure not logged:\n%s", buf.String())
	}
}

func TestRun_RecorderSeesEverySession(t *testing.T) {
	captureLog(t)
	act := newFakeActuator()
	rec := &fakeRecorder{}
	sol := &fakeSolver{lines: map[string]string{"frame3.fits": "correct 0 0 0.1 0.1"}}
	ctrl := NewController(act, sol, WithRecorder(rec))

	if _, err := ctrl.Run(context.Background(), geometry.Offset{RA: 1, Dec: 1}, time.Second, geometry.CrossPath()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.started != 1 || rec.attempts != 3 || rec.finished != 1 {
		t.Errorf("recorder saw started=%d attempts=%d finished=%d, want 1/3/1", rec.started, rec.attempts, rec.finished)
	}
	if rec.last != Resolved {
		t.Errorf("recorded outcome = %v, want resolved", rec.last)
	}
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		Pending:     "pending",
		Resolved:    "resolved",
		Exhausted:   "exhausted",
		Cancelled:   "cancelled",
		Outcome(42): "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
