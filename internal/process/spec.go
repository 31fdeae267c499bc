package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/herd/internal/cmdline"
	"github.com/loykin/herd/internal/logger"
	"github.com/loykin/herd/internal/probe"
)

// Role classifies a node spec within the test network.
type Role string

const (
	RoleBoot    Role = "boot"
	RolePeer    Role = "peer"
	RoleSync    Role = "sync"
	RoleSpammer Role = "spammer"
	RoleChecker Role = "checker"
	RoleSupport Role = "support"
)

// OneShot reports whether instances of this role are expected to run to
// completion rather than stay up.
func (r Role) OneShot() bool { return r == RoleSupport || r == RoleChecker }

func (r Role) Valid() bool {
	switch r {
	case RoleBoot, RolePeer, RoleSync, RoleSpammer, RoleChecker, RoleSupport:
		return true
	}
	return false
}

// RestartPolicy controls whether an exited or unhealthy instance is rescheduled.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNever, RestartOnFailure, RestartAlways:
		return true
	}
	return false
}

// RequiredState is the condition a dependency must reach before a dependent
// instance may start. Started and Healthy are deliberately independent
// conditions: a boot node accepts connections (Started) well before its
// first probe passes (Healthy).
type RequiredState string

const (
	StateCompleted RequiredState = "completed"
	StateStarted   RequiredState = "started"
	StateHealthy   RequiredState = "healthy"
)

func (s RequiredState) Valid() bool {
	switch s {
	case StateCompleted, StateStarted, StateHealthy:
		return true
	}
	return false
}

// Dependency is one gating edge: the named spec must reach State before the
// dependent starts. For multi-replica targets a single replica satisfies the
// edge unless AllReplicas is set.
type Dependency struct {
	Target      string        `json:"target" mapstructure:"target"`
	State       RequiredState `json:"state" mapstructure:"state"`
	AllReplicas bool          `json:"all_replicas" mapstructure:"all_replicas"`
}

// Spec describes one node role to be managed. Specs are immutable after
// configuration load; Replicas > 1 fans out to independently scheduled
// instances named <name>-1..<name>-N.
type Spec struct {
	Name            string            `json:"name"`
	Role            Role              `json:"role"`
	Command         string            `json:"command"`
	Task            string            `json:"task"` // builtin task name; mutually exclusive with Command
	WorkDir         string            `json:"work_dir"`
	Env             []string          `json:"env"`
	PIDFile         string            `json:"pid_file"`
	Replicas        int               `json:"replicas"`
	DependsOn       []Dependency      `json:"depends_on"`
	Probe           *probe.Config     `json:"probe"`
	RestartPolicy   RestartPolicy     `json:"restart_policy"`
	RestartInterval time.Duration     `json:"restart_interval"` // cooldown before a remediation restart
	MaxRestarts     int               `json:"max_restarts"`     // escalation threshold within RestartWindow
	RestartWindow   time.Duration     `json:"restart_window"`
	StartDuration   time.Duration     `json:"start_duration"` // minimum uptime before the start counts
	Ports           []int             `json:"ports"`          // informational only
	Log             logger.FileConfig `json:"log"`
}

// Normalize fills defaults. Called once at load time.
func (s *Spec) Normalize() {
	if s.Role == "" {
		s.Role = RolePeer
	}
	if s.Replicas < 1 {
		s.Replicas = 1
	}
	if s.RestartPolicy == "" {
		if s.Role.OneShot() {
			s.RestartPolicy = RestartNever
		} else {
			s.RestartPolicy = RestartAlways
		}
	}
	if s.RestartInterval <= 0 {
		s.RestartInterval = time.Second
	}
	if s.MaxRestarts <= 0 {
		s.MaxRestarts = 5
	}
	if s.RestartWindow <= 0 {
		s.RestartWindow = 5 * time.Minute
	}
	if s.Probe != nil {
		s.Probe.Normalize()
	}
}

// Validate checks fields that do not require the full graph.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("node spec requires a name")
	}
	if !s.Role.Valid() {
		return fmt.Errorf("node %s: unknown role %q", s.Name, s.Role)
	}
	if strings.TrimSpace(s.Command) == "" && strings.TrimSpace(s.Task) == "" {
		return fmt.Errorf("node %s: command is required", s.Name)
	}
	if strings.TrimSpace(s.Command) != "" && strings.TrimSpace(s.Task) != "" {
		return fmt.Errorf("node %s: command and task are mutually exclusive", s.Name)
	}
	if s.Task != "" && !s.Role.OneShot() {
		return fmt.Errorf("node %s: builtin task requires a one-shot role", s.Name)
	}
	if !s.RestartPolicy.Valid() {
		return fmt.Errorf("node %s: unknown restart policy %q", s.Name, s.RestartPolicy)
	}
	for _, d := range s.DependsOn {
		if strings.TrimSpace(d.Target) == "" {
			return fmt.Errorf("node %s: dependency with empty target", s.Name)
		}
		if !d.State.Valid() {
			return fmt.Errorf("node %s: dependency on %s has unknown state %q", s.Name, d.Target, d.State)
		}
	}
	if s.Probe != nil {
		if _, err := probe.New(*s.Probe); err != nil {
			return fmt.Errorf("node %s: %w", s.Name, err)
		}
	}
	return nil
}

// InstanceName returns the name of replica i (1-based). Single-replica specs
// keep the bare name.
func (s *Spec) InstanceName(i int) string {
	if s.Replicas <= 1 {
		return s.Name
	}
	return fmt.Sprintf("%s-%d", s.Name, i)
}

// BuildCommand constructs an *exec.Cmd for the spec's command string via
// cmdline.Split, so an explicit "sh -c" is never wrapped in a second shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	name, args := cmdline.Split(s.Command)
	// #nosec G204
	return exec.Command(name, args...)
}
