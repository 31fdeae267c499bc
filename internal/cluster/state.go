package cluster

import "github.com/loykin/herd/internal/process"

// State is the lifecycle state of one instance. Transitions are applied only
// by the controller loop, so for a given instance they are totally ordered.
type State string

const (
	StatePending   State = "pending"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateExited    State = "exited"
	// StateFailed is terminal: the instance exceeded its restart budget and
	// is reported but never retried.
	StateFailed State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateFailed }

// started reports whether the underlying process has been spawned and has
// not exited: the "Started" gate condition. Health classification does not
// matter here; a boot node accepts peers before its first probe passes.
func (s State) started() bool {
	switch s {
	case StateRunning, StateHealthy, StateUnhealthy:
		return true
	}
	return false
}

// Satisfies reports whether an instance in this state, with the given exit
// code, meets a dependency's required state.
func (s State) Satisfies(req process.RequiredState, exitCode int) bool {
	switch req {
	case process.StateStarted:
		return s.started()
	case process.StateHealthy:
		return s == StateHealthy
	case process.StateCompleted:
		return s == StateExited && exitCode == 0
	}
	return false
}
