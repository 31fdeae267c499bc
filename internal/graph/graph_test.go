package graph

import (
	"errors"
	"testing"

	"github.com/loykin/herd/internal/probe"
	"github.com/loykin/herd/internal/process"
)

func spec(name string, role process.Role, deps ...process.Dependency) process.Spec {
	s := process.Spec{Name: name, Role: role, Command: "sleep 1", DependsOn: deps}
	s.Normalize()
	return s
}

func probed(s process.Spec) process.Spec {
	s.Probe = &probe.Config{Command: "true"}
	s.Probe.Normalize()
	return s
}

func dep(target string, state process.RequiredState) process.Dependency {
	return process.Dependency{Target: target, State: state}
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		specs []process.Spec
	}{
		{"duplicate names", []process.Spec{spec("a", process.RolePeer), spec("a", process.RolePeer)}},
		{"self dependency", []process.Spec{spec("a", process.RolePeer, dep("a", process.StateStarted))}},
		{"unknown target", []process.Spec{spec("a", process.RolePeer, dep("ghost", process.StateStarted))}},
		{"completion of long-running", []process.Spec{
			spec("boot", process.RoleBoot),
			spec("peer", process.RolePeer, dep("boot", process.StateCompleted)),
		}},
		{"healthy without probe", []process.Spec{
			spec("boot", process.RoleBoot),
			spec("peer", process.RolePeer, dep("boot", process.StateHealthy)),
		}},
	}
	for _, tc := range cases {
		if _, err := New(tc.specs); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: got %v, want ErrConfig", tc.name, err)
		}
	}
}

func TestCycleOnCompletedEdgesRejected(t *testing.T) {
	specs := []process.Spec{
		spec("a", process.RoleSupport, dep("b", process.StateCompleted)),
		spec("b", process.RoleSupport, dep("a", process.StateCompleted)),
	}
	if _, err := New(specs); !errors.Is(err, ErrConfig) {
		t.Fatalf("completed cycle should be rejected, got %v", err)
	}
}

func TestCycleOnHealthyEdgesRejected(t *testing.T) {
	specs := []process.Spec{
		probed(spec("a", process.RolePeer, dep("b", process.StateHealthy))),
		probed(spec("b", process.RolePeer, dep("a", process.StateHealthy))),
	}
	if _, err := New(specs); !errors.Is(err, ErrConfig) {
		t.Fatalf("healthy cycle should be rejected, got %v", err)
	}
}

func TestMutualStartedEdgesAllowed(t *testing.T) {
	// Peers joining each other's mesh is a legal mutual dependency.
	specs := []process.Spec{
		spec("peer-a", process.RolePeer, dep("peer-b", process.StateStarted)),
		spec("peer-b", process.RolePeer, dep("peer-a", process.StateStarted)),
	}
	g, err := New(specs)
	if err != nil {
		t.Fatalf("started mesh rejected: %v", err)
	}
	order := g.StartOrder()
	if len(order) != 2 {
		t.Fatalf("order: %v", order)
	}
}

func TestStartOrderRespectsDependencies(t *testing.T) {
	specs := []process.Spec{
		spec("peer", process.RolePeer, dep("boot", process.StateStarted)),
		spec("boot", process.RoleBoot, dep("keys", process.StateCompleted)),
		spec("keys", process.RoleSupport),
	}
	g, err := New(specs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	pos := make(map[string]int)
	for i, name := range g.StartOrder() {
		pos[name] = i
	}
	if !(pos["keys"] < pos["boot"] && pos["boot"] < pos["peer"]) {
		t.Fatalf("start order: %v", g.StartOrder())
	}
	down := g.TeardownOrder()
	if down[0] != "peer" || down[len(down)-1] != "keys" {
		t.Fatalf("teardown order: %v", down)
	}
}

func TestDependents(t *testing.T) {
	specs := []process.Spec{
		spec("keys", process.RoleSupport),
		spec("boot", process.RoleBoot, dep("keys", process.StateCompleted)),
		spec("peer", process.RolePeer, dep("keys", process.StateCompleted), dep("boot", process.StateStarted)),
	}
	g, err := New(specs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := g.Dependents("keys")
	if len(got) != 2 || got[0] != "boot" || got[1] != "peer" {
		t.Fatalf("dependents: %v", got)
	}
}
