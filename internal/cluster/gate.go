package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/herd/internal/process"
)

// evaluateGates re-checks readiness of every Pending instance. It runs after
// each state-change event rather than on a poll, so dependents start the
// moment their condition holds. Launch order follows the graph's start order
// for determinism when several instances unblock at once.
func (c *Controller) evaluateGates(ctx context.Context) {
	for _, node := range c.g.StartOrder() {
		c.mu.Lock()
		for _, in := range c.byNode[node] {
			if in.state != StatePending || in.stopRequested {
				continue
			}
			if !c.gateSatisfiedLocked(in.spec) {
				continue
			}
			if err := c.launchLocked(ctx, in); err != nil {
				slog.Error("failed to launch instance", "instance", in.name, "error", err)
			}
		}
		c.mu.Unlock()
	}
}

// gateSatisfiedLocked evaluates the full dependency set of a spec against
// current cluster state. Callers hold c.mu.
func (c *Controller) gateSatisfiedLocked(spec process.Spec) bool {
	for _, d := range spec.DependsOn {
		if !c.depSatisfiedLocked(d) {
			return false
		}
	}
	return true
}

func (c *Controller) depSatisfiedLocked(d process.Dependency) bool {
	insts := c.byNode[d.Target]
	if len(insts) == 0 {
		return false
	}
	// Completed always requires every replica: a partially materialized
	// one-shot must never unblock dependents. Started/Healthy default to
	// at-least-one so peers can fan out as soon as the boot node accepts
	// connections.
	all := d.AllReplicas || d.State == process.StateCompleted
	satisfied := 0
	for _, in := range insts {
		if in.state.Satisfies(d.State, in.exitCode) {
			satisfied++
		}
	}
	if all {
		return satisfied == len(insts)
	}
	return satisfied >= 1
}

// launchLocked is the only path that starts an instance; it rejects calls
// whose gate does not hold so ordering bugs fail loudly instead of racing.
func (c *Controller) launchLocked(ctx context.Context, in *instance) error {
	if in.state != StatePending {
		return fmt.Errorf("instance %s is %s, not pending", in.name, in.state)
	}
	if !c.gateSatisfiedLocked(in.spec) {
		return fmt.Errorf("gate not satisfied for %s", in.name)
	}
	c.applyTransition(in, StateStarting, "")
	if in.spec.Task != "" {
		task := c.tasks[in.spec.Task]
		if task == nil {
			c.applyTransition(in, StateFailed, fmt.Sprintf("unknown builtin task %q", in.spec.Task))
			return fmt.Errorf("unknown builtin task %q", in.spec.Task)
		}
		go c.runTask(ctx, in.name, task)
		return nil
	}
	proc := process.New(in.name, in.spec)
	in.proc = proc
	mergedEnv := c.envM.Merge(in.spec.Env)
	go c.runProcess(ctx, in.name, proc, in.spec.StartDuration, mergedEnv)
	return nil
}

// runTask executes a builtin one-shot (the key materializer) with the same
// event contract as an exec'd process.
func (c *Controller) runTask(ctx context.Context, name string, task TaskFunc) {
	c.send(ctx, event{kind: evStarted, instance: name})
	err := task(ctx)
	code := 0
	if err != nil {
		code = 1
	}
	c.send(ctx, event{kind: evExited, instance: name, exitCode: code, err: err})
}

// runProcess spawns the child and reports lifecycle events. The started
// event is withheld for startDuration so a command that dies immediately is
// reported as a start failure, not a started-then-exited run.
func (c *Controller) runProcess(ctx context.Context, name string, proc *process.Process, startDuration time.Duration, mergedEnv []string) {
	if err := proc.Start(mergedEnv); err != nil {
		c.send(ctx, event{kind: evExited, instance: name, exitCode: -1, err: err})
		return
	}
	waitDone := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(waitDone)
	}()
	if startDuration > 0 {
		t := time.NewTimer(startDuration)
		select {
		case <-waitDone:
			t.Stop()
			snap := proc.Snapshot()
			c.send(ctx, event{kind: evExited, instance: name, exitCode: snap.ExitCode,
				err: fmt.Errorf("exited %s into start: %w", time.Since(snap.StartedAt).Round(time.Millisecond), errEarlyExit(snap.ExitErr))})
			return
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	c.send(ctx, event{kind: evStarted, instance: name})
	select {
	case <-waitDone:
		snap := proc.Snapshot()
		c.send(ctx, event{kind: evExited, instance: name, exitCode: snap.ExitCode, err: snap.ExitErr})
	case <-ctx.Done():
	}
}

func errEarlyExit(err error) error {
	if err == nil {
		return fmt.Errorf("clean exit before start duration elapsed")
	}
	return err
}

// send delivers an event to the controller loop unless the run context is
// already gone (teardown drains nothing; runners must not block on it).
func (c *Controller) send(ctx context.Context, ev event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
