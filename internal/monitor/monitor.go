package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/herd/internal/metrics"
	"github.com/loykin/herd/internal/probe"
)

// Classification is the monitor's verdict for one instance.
type Classification string

const (
	Unknown   Classification = "unknown"
	Healthy   Classification = "healthy"
	Unhealthy Classification = "unhealthy"
)

// historyLen bounds the rolling window of probe outcomes kept per instance.
const historyLen = 10

// Event is emitted whenever an instance's classification changes. The
// controller consumes these; the monitor never mutates instance state itself.
type Event struct {
	Instance string
	From     Classification
	To       Classification
	At       time.Time
	Reason   string
}

// Record is the rolling health status for one instance. Snapshots are
// returned by value; the live record is owned by the monitor.
type Record struct {
	Classification       Classification `json:"classification"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	ConsecutiveSuccesses int            `json:"consecutive_successes"`
	LastProbeAt          time.Time      `json:"last_probe_at"`
	LastTransitionAt     time.Time      `json:"last_transition_at"`
	LastError            string         `json:"last_error,omitempty"`
	History              []bool         `json:"history"` // most recent outcome last
}

type entry struct {
	cancel context.CancelFunc
	cfg    probe.Config
	rec    Record
}

// Monitor schedules health probes for watched instances. Probes for
// different instances run concurrently; a slow probe delays only its own
// next tick, never another instance and never the startup path.
type Monitor struct {
	mu      sync.Mutex
	entries map[string]*entry
	events  chan<- Event
}

// New builds a Monitor that reports classification changes on events.
func New(events chan<- Event) *Monitor {
	return &Monitor{
		entries: make(map[string]*entry),
		events:  events,
	}
}

// Watch starts probing the named instance. A previous watch for the same
// name is cancelled first, so a restarted instance begins with a clean
// record and a fresh start delay.
func (m *Monitor) Watch(ctx context.Context, instance string, cfg probe.Config) error {
	cfg.Normalize()
	p, err := probe.New(cfg)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithCancel(ctx)
	e := &entry{
		cancel: cancel,
		cfg:    cfg,
		rec:    Record{Classification: Unknown},
	}
	m.mu.Lock()
	if old := m.entries[instance]; old != nil {
		old.cancel()
	}
	m.entries[instance] = e
	m.mu.Unlock()
	go m.run(pctx, instance, e, p, cfg)
	return nil
}

// Unwatch stops probing the named instance and drops its record.
func (m *Monitor) Unwatch(instance string) {
	m.mu.Lock()
	if e := m.entries[instance]; e != nil {
		e.cancel()
		delete(m.entries, instance)
	}
	m.mu.Unlock()
}

// Record returns a snapshot of the instance's health record.
func (m *Monitor) Record(instance string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[instance]
	if !ok {
		return Record{}, false
	}
	return snapshotRecord(e.rec), true
}

// Snapshot returns health records for all watched instances.
func (m *Monitor) Snapshot() map[string]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.entries))
	for name, e := range m.entries {
		out[name] = snapshotRecord(e.rec)
	}
	return out
}

func snapshotRecord(r Record) Record {
	cp := r
	cp.History = append([]bool(nil), r.History...)
	return cp
}

func (m *Monitor) run(ctx context.Context, instance string, e *entry, p probe.Prober, cfg probe.Config) {
	if cfg.StartDelay > 0 {
		t := time.NewTimer(cfg.StartDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		// Probe synchronously inside the loop: the next tick cannot fire
		// for this instance until the current probe finished or timed out.
		pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := p.Probe(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		m.observe(ctx, instance, e, cfg, err)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// observe applies one probe outcome to the record, debouncing failures:
// Healthy on the first success, Unhealthy only after cfg.Retries consecutive
// failures. A single transient failure never escalates. The outcome is
// applied only while e is still the registered entry for the instance; a
// probe that was in flight when a new Watch replaced the entry is dropped.
func (m *Monitor) observe(ctx context.Context, instance string, e *entry, cfg probe.Config, probeErr error) {
	now := time.Now()
	ok := probeErr == nil

	m.mu.Lock()
	if m.entries[instance] != e {
		m.mu.Unlock()
		return
	}
	metrics.ObserveProbe(instance, ok)
	rec := &e.rec
	rec.LastProbeAt = now
	rec.History = append(rec.History, ok)
	if len(rec.History) > historyLen {
		rec.History = rec.History[len(rec.History)-historyLen:]
	}
	prev := rec.Classification
	if ok {
		rec.ConsecutiveSuccesses++
		rec.ConsecutiveFailures = 0
		rec.LastError = ""
		rec.Classification = Healthy
	} else {
		rec.ConsecutiveFailures++
		rec.ConsecutiveSuccesses = 0
		rec.LastError = probeErr.Error()
		if rec.ConsecutiveFailures >= cfg.Retries {
			rec.Classification = Unhealthy
		}
	}
	next := rec.Classification
	if next != prev {
		rec.LastTransitionAt = now
	}
	reason := rec.LastError
	m.mu.Unlock()

	if next == prev {
		return
	}
	slog.Debug("health classification changed",
		"instance", instance, "from", string(prev), "to", string(next), "reason", reason)
	ev := Event{Instance: instance, From: prev, To: next, At: now, Reason: reason}
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}
