package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/herd/internal/history"
	"github.com/loykin/herd/internal/metrics"
	"github.com/loykin/herd/internal/process"
	"github.com/loykin/herd/internal/store"
)

// remediate reacts to an instance's transition into Unhealthy by terminating
// it. The exit is observed by the run loop like any other, so the restart
// re-enters Pending and re-passes the gate; remediation never bypasses
// ordering. Callers hold c.mu.
func (c *Controller) remediate(in *instance, reason string) {
	if in.spec.RestartPolicy == process.RestartNever {
		return
	}
	if in.remediating || in.stopRequested || in.proc == nil {
		return
	}
	in.remediating = true
	slog.Warn("remediating unhealthy instance", "instance", in.name, "reason", reason)
	c.record(store.Record{
		Instance:   in.name,
		Node:       in.node,
		State:      string(StateUnhealthy),
		Detail:     "remediation: " + reason,
		PID:        in.pid(),
		OccurredAt: time.Now(),
	}, history.Event{
		Type:       history.EventRemediation,
		Instance:   in.name,
		Node:       in.node,
		Detail:     reason,
		OccurredAt: time.Now(),
	})
	proc := in.proc
	grace := c.stopGrace
	go proc.Stop(grace)
}

// decideRestart applies the restart policy after an exit, with the cooldown
// and the escalation budget. Callers hold c.mu; stopRequested is known to be
// false.
func (c *Controller) decideRestart(ctx context.Context, in *instance) {
	restart := false
	switch {
	case in.remediating:
		restart = true
	case in.spec.RestartPolicy == process.RestartAlways:
		restart = true
	case in.spec.RestartPolicy == process.RestartOnFailure:
		restart = in.exitCode != 0
	}
	if !restart {
		return
	}

	now := time.Now()
	keep := in.restartAt[:0]
	for _, ts := range in.restartAt {
		if now.Sub(ts) <= in.spec.RestartWindow {
			keep = append(keep, ts)
		}
	}
	in.restartAt = keep
	if len(in.restartAt) >= in.spec.MaxRestarts {
		metrics.IncEscalation(in.name)
		detail := fmt.Sprintf("%d restarts within %s, giving up", len(in.restartAt), in.spec.RestartWindow)
		c.applyTransition(in, StateFailed, detail)
		c.record(store.Record{
			Instance:   in.name,
			Node:       in.node,
			State:      string(StateFailed),
			Detail:     detail,
			OccurredAt: now,
		}, history.Event{
			Type:       history.EventEscalation,
			Instance:   in.name,
			Node:       in.node,
			Detail:     detail,
			OccurredAt: now,
		})
		return
	}
	in.restartAt = append(in.restartAt, now)

	cooldown := in.spec.RestartInterval
	name := in.name
	slog.Info("scheduling restart", "instance", name, "cooldown", cooldown.String())
	time.AfterFunc(cooldown, func() {
		c.send(ctx, event{kind: evRestartDue, instance: name})
	})
}
