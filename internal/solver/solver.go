// Package solver runs an external plate solver on a captured frame and
// extracts the pointing correction from its standard output.
package solver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/cjeanneret/PointGo/internal/debug"
)

var (
	// ErrSolveFailure is returned when the solver produced no usable line,
	// could not be started, or ran past its timeout.
	ErrSolveFailure = errors.New("astrometry did not succeed")
	// ErrUnparseableField is returned when a matched line carries a
	// correction field that is not a number.
	ErrUnparseableField = errors.New("unparseable solver field")
)

// Format tells which kind of line a Result was parsed from.
type Format int

const (
	// FormatOffset is "<word> N N (N N)".
	FormatOffset Format = iota + 1
	// FormatCorrect is "correct N N N N".
	FormatCorrect
)

func (f Format) String() string {
	switch f {
	case FormatOffset:
		return "offset"
	case FormatCorrect:
		return "correct"
	default:
		return "unknown"
	}
}

// Result holds the four numeric tokens of the first matching line,
// unparsed and in order of appearance.
type Result struct {
	Format Format
	Fields [4]string
	Line   string
}

// Correction returns the RA and Dec correction in degrees: the third and
// fourth field, whichever format matched.
func (r Result) Correction() (ra, dec float64, err error) {
	ra, err = strconv.ParseFloat(r.Fields[2], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ra %q", ErrUnparseableField, r.Fields[2])
	}
	dec, err = strconv.ParseFloat(r.Fields[3], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: dec %q", ErrUnparseableField, r.Fields[3])
	}
	return ra, dec, nil
}

const num = `([-+]?[0-9][0-9.eE+-]*)`

var (
	offsetLine  = regexp.MustCompile(`^\s*\w+\s+` + num + `\s+` + num + `\s+\(\s*` + num + `\s+` + num + `\s*\)`)
	correctLine = regexp.MustCompile(`^\s*correct\s+` + num + `\s+` + num + `\s+` + num + `\s+` + num)
)

// ParseLine matches a single line of solver output. The offset form is
// tried first; the second return value is false when neither matches.
func ParseLine(line string) (Result, bool) {
	if m := offsetLine.FindStringSubmatch(line); m != nil {
		return Result{Format: FormatOffset, Fields: [4]string{m[1], m[2], m[3], m[4]}, Line: line}, true
	}
	if m := correctLine.FindStringSubmatch(line); m != nil {
		return Result{Format: FormatCorrect, Fields: [4]string{m[1], m[2], m[3], m[4]}, Line: line}, true
	}
	return Result{}, false
}

// Scan reads r line by line and returns the first matching line.
func Scan(r io.Reader) (Result, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		debug.Trace("solver: %s", line)
		if res, ok := ParseLine(line); ok {
			return res, nil
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: read output: %v", ErrSolveFailure, err)
	}
	return Result{}, ErrSolveFailure
}

// waitDelay bounds how long Wait lingers on a killed solver's output.
const waitDelay = time.Second

// Subprocess invokes "<command> [args...] <image>".
type Subprocess struct {
	command string
	args    []string
	timeout time.Duration
}

// NewSubprocess creates a solver adapter. A zero timeout lets the
// process run until it exits.
func NewSubprocess(command string, args []string, timeout time.Duration) *Subprocess {
	return &Subprocess{
		command: command,
		args:    append([]string(nil), args...),
		timeout: timeout,
	}
}

// Solve runs the solver on image and returns the first recognised line.
// Once a line matches, the rest of the output is drained and the process
// reaped without holding up the caller.
func (s *Subprocess) Solve(ctx context.Context, image string) (Result, error) {
	var cancel context.CancelFunc
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	args := append(append([]string(nil), s.args...), image)
	cmd := exec.CommandContext(ctx, s.command, args...)
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return Result{}, fmt.Errorf("%w: %v", ErrSolveFailure, err)
	}
	debug.Verbose("Solver: %s %v", s.command, args)
	if err := cmd.Start(); err != nil {
		cancel()
		return Result{}, fmt.Errorf("%w: start %s: %v", ErrSolveFailure, s.command, err)
	}

	scanned := make(chan scanResult, 1)
	go func() {
		res, err := Scan(stdout)
		scanned <- scanResult{res, err}
	}()

	var sr scanResult
	select {
	case sr = <-scanned:
	case <-ctx.Done():
		// A process outside the group may still hold stdout open. Wait
		// closes our end so the scan returns.
		_ = cmd.Wait()
		<-scanned
		err := s.interrupted(ctx)
		cancel()
		return Result{}, err
	}
	if sr.err == nil {
		go func() {
			_, _ = io.Copy(io.Discard, stdout)
			_ = cmd.Wait()
			cancel()
		}()
		return sr.res, nil
	}

	_ = cmd.Wait()
	defer cancel()
	if ctx.Err() != nil {
		return Result{}, s.interrupted(ctx)
	}
	return Result{}, sr.err
}

type scanResult struct {
	res Result
	err error
}

func (s *Subprocess) interrupted(ctx context.Context) error {
	if s.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %v", ErrSolveFailure, s.timeout)
	}
	return fmt.Errorf("%w: %v", ErrSolveFailure, ctx.Err())
}
