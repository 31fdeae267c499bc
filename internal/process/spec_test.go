package process

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeDefaults(t *testing.T) {
	s := Spec{Name: "peer", Command: "sleep 1"}
	s.Normalize()
	if s.Role != RolePeer {
		t.Fatalf("default role: %q", s.Role)
	}
	if s.Replicas != 1 {
		t.Fatalf("default replicas: %d", s.Replicas)
	}
	if s.RestartPolicy != RestartAlways {
		t.Fatalf("long-running default policy: %q", s.RestartPolicy)
	}
	if s.RestartInterval != time.Second || s.MaxRestarts != 5 || s.RestartWindow != 5*time.Minute {
		t.Fatalf("remediation defaults: %+v", s)
	}
}

func TestNormalizeOneShotPolicy(t *testing.T) {
	s := Spec{Name: "keys", Role: RoleSupport, Command: "true"}
	s.Normalize()
	if s.RestartPolicy != RestartNever {
		t.Fatalf("one-shot default policy: %q", s.RestartPolicy)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want string // substring of expected error, empty for ok
	}{
		{"ok", Spec{Name: "a", Role: RolePeer, Command: "sleep 1", RestartPolicy: RestartAlways}, ""},
		{"no name", Spec{Role: RolePeer, Command: "x", RestartPolicy: RestartNever}, "requires a name"},
		{"bad role", Spec{Name: "a", Role: "gateway", Command: "x", RestartPolicy: RestartNever}, "unknown role"},
		{"no command", Spec{Name: "a", Role: RolePeer, RestartPolicy: RestartNever}, "command is required"},
		{"command and task", Spec{Name: "a", Role: RoleSupport, Command: "x", Task: "y", RestartPolicy: RestartNever}, "mutually exclusive"},
		{"task on long-running", Spec{Name: "a", Role: RolePeer, Task: "y", RestartPolicy: RestartNever}, "one-shot"},
		{"bad dep state", Spec{Name: "a", Role: RolePeer, Command: "x", RestartPolicy: RestartNever,
			DependsOn: []Dependency{{Target: "b", State: "ready"}}}, "unknown state"},
		{"empty dep target", Spec{Name: "a", Role: RolePeer, Command: "x", RestartPolicy: RestartNever,
			DependsOn: []Dependency{{State: StateStarted}}}, "empty target"},
	}
	for _, tc := range cases {
		err := tc.spec.Validate()
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: got %v, want %q", tc.name, err, tc.want)
		}
	}
}

func TestInstanceName(t *testing.T) {
	s := Spec{Name: "peer", Replicas: 3}
	if got := s.InstanceName(2); got != "peer-2" {
		t.Fatalf("replica name: %q", got)
	}
	single := Spec{Name: "boot", Replicas: 1}
	if got := single.InstanceName(1); got != "boot" {
		t.Fatalf("single name: %q", got)
	}
}

func TestBuildCommandShellDetection(t *testing.T) {
	plain := Spec{Command: "sleep 5"}
	if c := plain.BuildCommand(); len(c.Args) != 2 || c.Args[0] != "sleep" {
		t.Fatalf("plain command: %v", c.Args)
	}
	meta := Spec{Command: "echo hi > /tmp/x"}
	if c := meta.BuildCommand(); c.Args[0] != "/bin/sh" || c.Args[1] != "-c" {
		t.Fatalf("metachar command should use shell: %v", c.Args)
	}
	explicit := Spec{Command: `sh -c 'echo hi'`}
	c := explicit.BuildCommand()
	if c.Args[0] != "/bin/sh" || c.Args[2] != "echo hi" {
		t.Fatalf("explicit shell should not double-wrap: %v", c.Args)
	}
}
