package cluster

import (
	"context"
	"time"

	"github.com/loykin/herd/internal/monitor"
	"github.com/loykin/herd/internal/process"
)

// TaskFunc is a builtin one-shot task run in place of an exec'd command for
// specs that declare Task instead of Command (the key materializer).
type TaskFunc func(ctx context.Context) error

// instance is one scheduled replica of a node spec. All fields are owned by
// the controller loop; nothing outside it may mutate them.
type instance struct {
	name    string // spec name + replica suffix
	node    string // spec name
	replica int    // 1-based
	spec    process.Spec

	state     State
	sinceAt   time.Time
	proc      *process.Process
	exitCode  int
	exitErr   error
	restarts  int
	restartAt []time.Time // restart timestamps inside the escalation window
	// remediating is set between the Unhealthy trigger and the resulting
	// exit, so the exit handler applies the cooldown exactly once.
	remediating bool
	// stopRequested suppresses restart policy during teardown.
	stopRequested bool
	// stuckReported ensures a stuck-pending instance is surfaced once.
	stuckReported bool
	createdAt     time.Time
}

func newInstance(spec process.Spec, replica int) *instance {
	name := spec.InstanceName(replica)
	return &instance{
		name:      name,
		node:      spec.Name,
		replica:   replica,
		spec:      spec,
		state:     StatePending,
		sinceAt:   time.Now(),
		createdAt: time.Now(),
	}
}

// reset prepares a fresh lifecycle round after remediation. The original
// spec is kept: a restarted instance re-passes the gate with the exact
// declaration it was loaded with.
func (in *instance) reset() {
	in.proc = nil
	in.exitCode = 0
	in.exitErr = nil
	in.remediating = false
	in.state = StatePending
	in.sinceAt = time.Now()
}

// pid returns the current PID or zero.
func (in *instance) pid() int {
	if in.proc == nil {
		return 0
	}
	return in.proc.Snapshot().PID
}

// InstanceStatus is the externally visible snapshot of one instance.
type InstanceStatus struct {
	Name     string          `json:"name"`
	Node     string          `json:"node"`
	Replica  int             `json:"replica"`
	Role     process.Role    `json:"role"`
	State    State           `json:"state"`
	Since    time.Time       `json:"since"`
	PID      int             `json:"pid,omitempty"`
	ExitCode int             `json:"exit_code"`
	Restarts int             `json:"restarts"`
	Health   *monitor.Record `json:"health,omitempty"`
}
