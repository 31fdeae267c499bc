package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/loykin/herd/internal/process"
)

// ErrConfig marks configuration errors detected at load time. No instance is
// ever started once validation fails.
var ErrConfig = errors.New("invalid cluster configuration")

// Graph is the resolved dependency graph over a set of node specs. It is
// built once at load time and read-only afterwards.
type Graph struct {
	specs map[string]process.Spec
	// edges[from] lists the gating dependencies declared by from.
	edges map[string][]process.Dependency
	order []string // topological start order (dependencies first)
}

// New resolves and validates the dependency graph for the given specs.
// It rejects duplicate or unresolvable names and any cycle among
// Completed/Healthy edges.
func New(specs []process.Spec) (*Graph, error) {
	g := &Graph{
		specs: make(map[string]process.Spec, len(specs)),
		edges: make(map[string][]process.Dependency, len(specs)),
	}
	for _, s := range specs {
		if _, dup := g.specs[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate node name %q", ErrConfig, s.Name)
		}
		g.specs[s.Name] = s
		g.edges[s.Name] = s.DependsOn
	}
	for name, deps := range g.edges {
		for _, d := range deps {
			if d.Target == name {
				return nil, fmt.Errorf("%w: node %q depends on itself", ErrConfig, name)
			}
			target, ok := g.specs[d.Target]
			if !ok {
				return nil, fmt.Errorf("%w: node %q depends on unknown node %q", ErrConfig, name, d.Target)
			}
			if d.State == process.StateCompleted && !target.Role.OneShot() {
				return nil, fmt.Errorf("%w: node %q requires completion of %q, which is a long-running %s node",
					ErrConfig, name, d.Target, target.Role)
			}
			if d.State == process.StateHealthy && target.Probe == nil {
				return nil, fmt.Errorf("%w: node %q requires health of %q, which declares no probe",
					ErrConfig, name, d.Target)
			}
		}
	}
	if cyc := g.findCycle(); len(cyc) > 0 {
		return nil, fmt.Errorf("%w: dependency cycle: %v", ErrConfig, cyc)
	}
	g.order = g.topoOrder()
	return g, nil
}

// Spec returns the spec for name. The second result is false for unknown names.
func (g *Graph) Spec(name string) (process.Spec, bool) {
	s, ok := g.specs[name]
	return s, ok
}

// Specs returns all specs in startup order (dependencies first).
func (g *Graph) Specs() []process.Spec {
	out := make([]process.Spec, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.specs[name])
	}
	return out
}

// Dependencies returns the gating edges declared by name.
func (g *Graph) Dependencies(name string) []process.Dependency {
	return g.edges[name]
}

// Dependents returns the names of specs that declare an edge onto name.
func (g *Graph) Dependents(name string) []string {
	var out []string
	for from, deps := range g.edges {
		for _, d := range deps {
			if d.Target == name {
				out = append(out, from)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// StartOrder returns node names with dependencies before dependents.
func (g *Graph) StartOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// TeardownOrder returns node names with dependents before dependencies, so
// shutdown never pulls shared state out from under a live consumer.
func (g *Graph) TeardownOrder() []string {
	out := g.StartOrder()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// findCycle runs DFS over the subgraph restricted to Completed and Healthy
// edges. Started edges are exempt: a started-but-not-healthy mesh is how
// peers join each other and may legitimately be mutual.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.specs))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		for _, d := range g.edges[name] {
			if d.State == process.StateStarted {
				continue
			}
			switch color[d.Target] {
			case gray:
				// unwind the stack to the cycle entry point
				for i, n := range stack {
					if n == d.Target {
						cycle = append(append([]string{}, stack[i:]...), d.Target)
						return true
					}
				}
			case white:
				if visit(d.Target) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	names := g.sortedNames()
	for _, name := range names {
		if color[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}

// topoOrder computes a stable startup order over all edge kinds. Started
// edges may form cycles; members of such a cycle are emitted in name order
// once their non-cyclic dependencies are placed.
func (g *Graph) topoOrder() []string {
	indeg := make(map[string]int, len(g.specs))
	for name := range g.specs {
		indeg[name] = 0
	}
	for name, deps := range g.edges {
		seen := make(map[string]bool, len(deps))
		for _, d := range deps {
			if !seen[d.Target] {
				seen[d.Target] = true
				indeg[name]++
			}
		}
	}
	var order []string
	ready := make([]string, 0, len(indeg))
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	emitted := make(map[string]bool, len(indeg))
	for len(order) < len(g.specs) {
		if len(ready) == 0 {
			// Started-edge cycle: emit the remaining names deterministically.
			var rest []string
			for name := range g.specs {
				if !emitted[name] {
					rest = append(rest, name)
				}
			}
			sort.Strings(rest)
			order = append(order, rest...)
			break
		}
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		emitted[name] = true
		var next []string
		for _, dep := range g.Dependents(name) {
			if emitted[dep] {
				continue
			}
			indeg[dep]--
			if indeg[dep] == 0 {
				next = append(next, dep)
			}
		}
		ready = append(ready, next...)
		sort.Strings(ready)
	}
	return order
}

func (g *Graph) sortedNames() []string {
	names := make([]string, 0, len(g.specs))
	for name := range g.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
