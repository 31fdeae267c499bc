package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestStartWaitExitCode(t *testing.T) {
	p := New("exit3", Spec{Name: "exit3", Command: "sh -c 'exit 3'"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := p.Wait()
	if err == nil {
		t.Fatal("expected non-zero exit error")
	}
	st := p.Snapshot()
	if st.Running {
		t.Fatal("still marked running after reap")
	}
	if st.ExitCode != 3 {
		t.Fatalf("exit code: %d", st.ExitCode)
	}
}

func TestStartSuccessAndAlive(t *testing.T) {
	p := New("sleeper", Spec{Name: "sleeper", Command: "sleep 30"})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = p.Wait(); close(done) }()

	if !p.Alive() {
		t.Fatal("expected alive right after start")
	}
	p.Stop(2 * time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not reap after stop")
	}
	if p.Alive() {
		t.Fatal("alive after stop")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	// The child ignores SIGTERM, so Stop must escalate.
	p := New("stubborn", Spec{Name: "stubborn", Command: `sh -c 'trap "" TERM; sleep 30'`})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = p.Wait(); close(done) }()

	start := time.Now()
	p.Stop(300 * time.Millisecond)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SIGKILL escalation did not reap the child")
	}
	if time.Since(start) > 4*time.Second {
		t.Fatal("stop took too long")
	}
}

func TestPIDFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "node.pid")
	p := New("pidnode", Spec{Name: "pidnode", Command: "sleep 30", PIDFile: pidFile})
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = p.Wait(); close(done) }()

	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("pidfile missing: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid != p.Snapshot().PID {
		t.Fatalf("pidfile content %q vs pid %d", b, p.Snapshot().PID)
	}
	p.Stop(2 * time.Second)
	<-done
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("pidfile not removed: %v", err)
	}
}

func TestLogWriters(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{Name: "logged", Command: "sh -c 'echo out; echo err 1>&2'"}
	spec.Log.Dir = dir
	p := New("logged", spec)
	if err := p.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = p.Wait()

	out, err := os.ReadFile(filepath.Join(dir, "logged.stdout.log"))
	if err != nil {
		t.Fatalf("stdout log: %v", err)
	}
	if !strings.Contains(string(out), "out") {
		t.Fatalf("stdout content: %q", out)
	}
	errB, err := os.ReadFile(filepath.Join(dir, "logged.stderr.log"))
	if err != nil {
		t.Fatalf("stderr log: %v", err)
	}
	if !strings.Contains(string(errB), "err") {
		t.Fatalf("stderr content: %q", errB)
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	p := New("idle", Spec{Name: "idle", Command: "sleep 1"})
	p.Stop(time.Second)
	p.Kill()
	if p.Alive() {
		t.Fatal("never-started process cannot be alive")
	}
}
