package centering

import (
	"time"

	"github.com/cjeanneret/PointGo/internal/logic/geometry"
	"github.com/cjeanneret/PointGo/internal/solver"
)

// Outcome is the terminal state of a session.
type Outcome int

const (
	Pending Outcome = iota
	Resolved
	Exhausted
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Attempt is the result of trying one path entry.
type Attempt struct {
	Index      int
	Step       geometry.Step
	Offset     geometry.Offset
	Image      string // empty when the attempt failed before exposing
	Settled    bool
	Solution   solver.Result
	Correction geometry.Offset
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Succeeded reports whether the attempt produced an applied correction.
func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Session is the state of one Run call.
type Session struct {
	ID         string
	Base       geometry.Offset
	Exposure   time.Duration
	Path       geometry.Path
	Index      int // path entry being tried, or the one that resolved
	Attempts   []Attempt
	Outcome    Outcome
	Correction geometry.Offset
	Started    time.Time
	Finished   time.Time
}

// Last returns the most recent attempt, if any.
func (s *Session) Last() (Attempt, bool) {
	if len(s.Attempts) == 0 {
		return Attempt{}, false
	}
	return s.Attempts[len(s.Attempts)-1], true
}
