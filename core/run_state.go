package core

import "fmt"

// RunState is the lifecycle state of one orchestration run.
type RunState string

const (
	RunCreated    RunState = "created"
	RunConfigured RunState = "configured"
	RunRunning    RunState = "running"
	RunIdle       RunState = "idle"
	RunCancelled  RunState = "cancelled"
	RunFailed     RunState = "failed"
	RunClosed     RunState = "closed"
)

var runTransitions = map[RunState][]RunState{
	RunCreated:    {RunConfigured, RunFailed, RunClosed},
	RunConfigured: {RunRunning, RunFailed, RunClosed},
	RunRunning:    {RunIdle, RunCancelled, RunFailed, RunClosed},
	RunIdle:       {RunClosed},
	RunCancelled:  {RunClosed},
	RunFailed:     {RunClosed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s RunState) CanTransition(next RunState) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool { return s == RunClosed }

// Transition validates and returns next.
func (s RunState) Transition(next RunState) (RunState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("invalid run state transition %s -> %s", s, next)
	}
	return next, nil
}
