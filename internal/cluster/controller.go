package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loykin/herd/internal/env"
	"github.com/loykin/herd/internal/graph"
	"github.com/loykin/herd/internal/history"
	"github.com/loykin/herd/internal/metrics"
	"github.com/loykin/herd/internal/monitor"
	"github.com/loykin/herd/internal/process"
	"github.com/loykin/herd/internal/store"
)

const (
	defaultStopGrace    = 3 * time.Second
	defaultPendingGrace = 2 * time.Minute
	pendingScanPeriod   = 5 * time.Second
)

type eventKind int

const (
	evStarted eventKind = iota
	evExited
	evRestartDue
)

// event is an internal transition request emitted by instance runners and
// remediation timers. The controller loop is the only consumer, which keeps
// per-instance transitions totally ordered.
type event struct {
	kind     eventKind
	instance string
	exitCode int
	err      error
}

// Options configures a Controller.
type Options struct {
	Graph     *graph.Graph
	GlobalEnv []string            // "K=V" globals applied to every node
	Store     store.Store         // optional transition persistence
	Sinks     []history.Sink      // optional cluster-health event sinks
	Tasks     map[string]TaskFunc // builtin tasks referenced by spec.Task
	// StopGrace is the SIGTERM-to-SIGKILL window during teardown and
	// remediation. PendingGrace bounds how long an instance may sit in
	// Pending before being surfaced as stuck.
	StopGrace    time.Duration
	PendingGrace time.Duration
}

// Controller owns every instance of the cluster and drives the lifecycle
// state machine. Probes and remediation timers never mutate instances; they
// emit events consumed by the run loop.
type Controller struct {
	g     *graph.Graph
	envM  *env.Env
	mon   *monitor.Monitor
	st    store.Store
	sinks []history.Sink
	tasks map[string]TaskFunc

	stopGrace    time.Duration
	pendingGrace time.Duration

	mu        sync.RWMutex
	instances map[string]*instance
	byNode    map[string][]*instance

	events    chan event
	monEvents chan monitor.Event
}

func New(opts Options) *Controller {
	e := env.New()
	for _, kv := range opts.GlobalEnv {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	stopGrace := opts.StopGrace
	if stopGrace <= 0 {
		stopGrace = defaultStopGrace
	}
	pendingGrace := opts.PendingGrace
	if pendingGrace <= 0 {
		pendingGrace = defaultPendingGrace
	}
	monEvents := make(chan monitor.Event, 64)
	c := &Controller{
		g:            opts.Graph,
		envM:         e,
		mon:          monitor.New(monEvents),
		st:           opts.Store,
		sinks:        opts.Sinks,
		tasks:        opts.Tasks,
		stopGrace:    stopGrace,
		pendingGrace: pendingGrace,
		instances:    make(map[string]*instance),
		byNode:       make(map[string][]*instance),
		events:       make(chan event, 64),
		monEvents:    monEvents,
	}
	for _, spec := range opts.Graph.Specs() {
		for i := 1; i <= spec.Replicas; i++ {
			in := newInstance(spec, i)
			c.instances[in.name] = in
			c.byNode[spec.Name] = append(c.byNode[spec.Name], in)
		}
	}
	return c
}

// Run drives the cluster until ctx is cancelled, then tears it down in
// reverse dependency order. It returns nil on a clean teardown.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("cluster starting", "nodes", len(c.g.StartOrder()), "instances", len(c.instances))
	c.evaluateGates(runCtx)

	scan := time.NewTicker(pendingScanPeriod)
	defer scan.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel() // stop probes and in-flight runner sends first
			c.teardown()
			slog.Info("cluster stopped")
			return nil
		case ev := <-c.events:
			c.handle(runCtx, ev)
		case me := <-c.monEvents:
			c.handleHealth(runCtx, me)
		case <-scan.C:
			c.scanStuckPending()
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	c.mu.Lock()
	in := c.instances[ev.instance]
	if in == nil {
		c.mu.Unlock()
		return
	}
	switch ev.kind {
	case evStarted:
		if in.state != StateStarting {
			c.mu.Unlock()
			return
		}
		c.applyTransition(in, StateRunning, "")
		spec := in.spec
		name := in.name
		c.mu.Unlock()
		if spec.Probe != nil {
			if err := c.mon.Watch(ctx, name, *spec.Probe); err != nil {
				slog.Error("failed to watch instance", "instance", name, "error", err)
			}
		}
	case evExited:
		c.mon.Unwatch(in.name)
		in.exitCode = ev.exitCode
		in.exitErr = ev.err
		detail := ""
		if ev.err != nil {
			detail = ev.err.Error()
		}
		c.applyTransition(in, StateExited, detail)
		if in.stopRequested {
			c.mu.Unlock()
			return
		}
		c.decideRestart(ctx, in)
		c.mu.Unlock()
	case evRestartDue:
		if in.state != StateExited || in.stopRequested {
			c.mu.Unlock()
			return
		}
		in.reset()
		in.restarts++
		metrics.IncRestart(in.name)
		c.applyTransition(in, StatePending, "rescheduled after restart cooldown")
		c.mu.Unlock()
	}
	c.evaluateGates(ctx)
}

func (c *Controller) handleHealth(ctx context.Context, me monitor.Event) {
	c.mu.Lock()
	in := c.instances[me.Instance]
	if in == nil || !in.state.started() {
		c.mu.Unlock()
		return
	}
	switch me.To {
	case monitor.Healthy:
		c.applyTransition(in, StateHealthy, "")
		c.mu.Unlock()
	case monitor.Unhealthy:
		c.applyTransition(in, StateUnhealthy, me.Reason)
		c.remediate(in, me.Reason)
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		return
	}
	c.evaluateGates(ctx)
}

// applyTransition mutates instance state and records it everywhere. Callers
// hold c.mu.
func (c *Controller) applyTransition(in *instance, to State, detail string) {
	from := in.state
	if from == to {
		return
	}
	in.state = to
	in.sinceAt = time.Now()
	metrics.ObserveTransition(in.name, string(from), string(to))
	metrics.SetRunningInstances(in.node, c.countStartedLocked(in.node))
	slog.Info("instance transition",
		"instance", in.name, "from", string(from), "to", string(to), "detail", detail)
	c.record(store.Record{
		Instance:   in.name,
		Node:       in.node,
		State:      string(to),
		Detail:     detail,
		PID:        in.pid(),
		OccurredAt: time.Now(),
	}, history.Event{
		Type:       history.EventTransition,
		Instance:   in.name,
		Node:       in.node,
		From:       string(from),
		To:         string(to),
		Detail:     detail,
		OccurredAt: time.Now(),
	})
}

func (c *Controller) countStartedLocked(node string) int {
	n := 0
	for _, in := range c.byNode[node] {
		if in.state.started() {
			n++
		}
	}
	return n
}

func (c *Controller) record(rec store.Record, ev history.Event) {
	if c.st != nil {
		if err := c.st.RecordTransition(context.Background(), rec); err != nil {
			slog.Warn("failed to persist transition", "instance", rec.Instance, "error", err)
		}
	}
	for _, s := range c.sinks {
		if err := s.Send(context.Background(), ev); err != nil {
			slog.Warn("failed to send history event", "instance", ev.Instance, "error", err)
		}
	}
}

// Status returns a snapshot of every instance, joined with health records.
func (c *Controller) Status() []InstanceStatus {
	health := c.mon.Snapshot()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]InstanceStatus, 0, len(c.instances))
	for _, in := range c.instances {
		st := InstanceStatus{
			Name:     in.name,
			Node:     in.node,
			Replica:  in.replica,
			Role:     in.spec.Role,
			State:    in.state,
			Since:    in.sinceAt,
			PID:      in.pid(),
			ExitCode: in.exitCode,
			Restarts: in.restarts,
		}
		if rec, ok := health[in.name]; ok {
			r := rec
			st.Health = &r
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NodeStatus returns the snapshot for instances of one spec.
func (c *Controller) NodeStatus(node string) []InstanceStatus {
	all := c.Status()
	out := all[:0]
	for _, st := range all {
		if st.Node == node {
			out = append(out, st)
		}
	}
	return out
}

// teardown stops all instances, dependents before dependencies.
func (c *Controller) teardown() {
	order := c.g.TeardownOrder()
	for _, node := range order {
		c.mu.Lock()
		insts := append([]*instance(nil), c.byNode[node]...)
		for _, in := range insts {
			in.stopRequested = true
		}
		c.mu.Unlock()
		for _, in := range insts {
			c.mu.RLock()
			proc := in.proc
			started := in.state.started() || in.state == StateStarting
			c.mu.RUnlock()
			if proc == nil || !started {
				continue
			}
			slog.Debug("stopping instance", "instance", in.name)
			proc.Stop(c.stopGrace)
			c.mu.Lock()
			c.applyTransition(in, StateExited, "teardown")
			c.mu.Unlock()
		}
	}
}

// scanStuckPending surfaces instances that can never start because a
// dependency failed, and those pending beyond the configured bound. The
// instances stay Pending; only the condition is reported.
func (c *Controller) scanStuckPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, in := range c.instances {
		if in.state != StatePending || in.stuckReported {
			continue
		}
		if blocked, why := c.blockedForeverLocked(in); blocked {
			in.stuckReported = true
			slog.Error("instance can never start", "instance", in.name, "reason", why)
			c.record(store.Record{
				Instance:   in.name,
				Node:       in.node,
				State:      string(StatePending),
				Detail:     why,
				OccurredAt: time.Now(),
			}, history.Event{
				Type:       history.EventCluster,
				Instance:   in.name,
				Node:       in.node,
				Detail:     why,
				OccurredAt: time.Now(),
			})
			continue
		}
		if time.Since(in.sinceAt) > c.pendingGrace {
			in.stuckReported = true
			slog.Warn("instance stuck in pending", "instance", in.name,
				"since", in.sinceAt.Format(time.RFC3339))
		}
	}
}

// blockedForeverLocked reports whether a Pending instance waits on a
// dependency that is terminally failed: a one-shot that exited nonzero with
// no retries left, or an instance escalated to Failed.
func (c *Controller) blockedForeverLocked(in *instance) (bool, string) {
	for _, d := range in.spec.DependsOn {
		for _, dep := range c.byNode[d.Target] {
			switch {
			case dep.state == StateFailed:
				return true, fmt.Sprintf("dependency %s failed terminally", dep.name)
			case d.State == process.StateCompleted && dep.state == StateExited &&
				dep.exitCode != 0 && dep.spec.RestartPolicy == process.RestartNever:
				why := fmt.Sprintf("dependency %s exited with code %d and will not be retried",
					dep.name, dep.exitCode)
				if dep.spec.Task != "" {
					why = fmt.Sprintf("key materialization failed: %s exited with code %d",
						dep.name, dep.exitCode)
				}
				return true, why
			}
		}
	}
	return false, ""
}
