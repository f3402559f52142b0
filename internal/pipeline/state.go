package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Stage is a state of the analysis state machine.
type Stage string

const (
	Pending      Stage = "Pending"
	Profiling    Stage = "Profiling"
	Resolving    Stage = "Resolving"
	Planning     Stage = "Planning"
	Executing    Stage = "Executing"
	Synthesizing Stage = "Synthesizing"
	Done         Stage = "Done"
	Failed       Stage = "Failed"
)

// next is the only forward edge out of each working stage. Failed is
// reachable from any of them.
var next = map[Stage]Stage{
	Pending:      Profiling,
	Profiling:    Resolving,
	Resolving:    Planning,
	Planning:     Executing,
	Executing:    Synthesizing,
	Synthesizing: Done,
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool { return s == Done || s == Failed }

// Transition records one state change.
type Transition struct {
	From Stage     `json:"from"`
	To   Stage     `json:"to"`
	At   time.Time `json:"at"`
}

// Observer is notified of every transition as it happens.
type Observer func(Transition)

// ErrCancelled matches a run aborted because its context ended.
var ErrCancelled = errors.New("analysis cancelled")

// PipelineError reports the stage a run failed in. The caller gets either a
// complete result or this error, never both.
type PipelineError struct {
	Stage       Stage
	Reason      string
	Err         error
	Transitions []Transition
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("analysis failed during %s: %s", e.Stage, e.Reason)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// machine enforces the stage order and records transitions.
type machine struct {
	state       Stage
	transitions []Transition
	now         func() time.Time
	observe     Observer
}

func (m *machine) advance(to Stage) error {
	if m.state.Terminal() {
		return fmt.Errorf("cannot leave terminal state %s", m.state)
	}
	if to != Failed && next[m.state] != to {
		return fmt.Errorf("illegal transition %s -> %s", m.state, to)
	}
	t := Transition{From: m.state, To: to, At: m.now()}
	m.transitions = append(m.transitions, t)
	m.state = to
	if m.observe != nil {
		m.observe(t)
	}
	return nil
}

func (m *machine) history() []Transition {
	return append([]Transition(nil), m.transitions...)
}
