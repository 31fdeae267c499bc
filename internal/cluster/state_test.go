package cluster

import (
	"testing"

	"github.com/loykin/herd/internal/process"
)

func TestSatisfies(t *testing.T) {
	cases := []struct {
		state State
		req   process.RequiredState
		code  int
		want  bool
	}{
		{StateRunning, process.StateStarted, 0, true},
		{StateHealthy, process.StateStarted, 0, true},
		{StateUnhealthy, process.StateStarted, 0, true},
		{StatePending, process.StateStarted, 0, false},
		{StateStarting, process.StateStarted, 0, false},
		{StateExited, process.StateStarted, 0, false},

		{StateHealthy, process.StateHealthy, 0, true},
		{StateRunning, process.StateHealthy, 0, false},
		{StateUnhealthy, process.StateHealthy, 0, false},

		{StateExited, process.StateCompleted, 0, true},
		{StateExited, process.StateCompleted, 1, false},
		{StateRunning, process.StateCompleted, 0, false},
	}
	for _, tc := range cases {
		if got := tc.state.Satisfies(tc.req, tc.code); got != tc.want {
			t.Fatalf("%s satisfies %s(code=%d): got %v", tc.state, tc.req, tc.code, got)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !StateFailed.Terminal() {
		t.Fatal("failed must be terminal")
	}
	for _, s := range []State{StatePending, StateStarting, StateRunning, StateHealthy, StateUnhealthy, StateExited} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}
