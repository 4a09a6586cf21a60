package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// State is a position in the run state machine:
//
//	Idle → Extracting → Resolving → Validating → Loading → Committed
//
// Any working state may move to Failed. Stage-only commands that stop before
// Loading end in Staged.
type State int

const (
	StateIdle State = iota
	StateExtracting
	StateResolving
	StateValidating
	StateLoading
	StateCommitted
	StateStaged
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtracting:
		return "extracting"
	case StateResolving:
		return "resolving"
	case StateValidating:
		return "validating"
	case StateLoading:
		return "loading"
	case StateCommitted:
		return "committed"
	case StateStaged:
		return "staged"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateStaged || s == StateFailed
}

// working reports whether s is a stage state.
func (s State) working() bool {
	return s >= StateExtracting && s <= StateLoading
}

// ExitCode is the process status for a run that failed in stage s.
func (s State) ExitCode() int {
	switch s {
	case StateExtracting:
		return 2
	case StateResolving:
		return 3
	case StateValidating:
		return 4
	case StateLoading:
		return 5
	default:
		return 1
	}
}

// canTransition encodes the state machine. Stages may be skipped forward
// when a run starts from a prior stage's output, never backward.
func canTransition(from, to State) bool {
	switch {
	case from.Terminal():
		return false
	case to == StateFailed:
		return from.working()
	case to == StateCommitted:
		return from == StateLoading
	case to == StateStaged:
		return from == StateResolving || from == StateValidating || from == StateExtracting
	case to.working():
		return to > from
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// StageError is a run failure attributed to the stage it happened in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExitCode returns the process status for err: 0 for nil, the failing stage's
// code for a *StageError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage.ExitCode()
	}
	return 1
}
