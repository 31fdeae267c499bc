package process

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Process is one spawned realization of a Spec. State is mutated only by the
// instance runner that owns it; accessors lock internally so snapshots are
// safe from any goroutine.
type Process struct {
	spec      Spec
	name      string // instance name, may carry a replica suffix
	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed when Wait has reaped the child
}

func New(name string, spec Spec) *Process {
	return &Process{spec: spec, name: name}
}

// Start builds the command, wires log writers, spawns the child in its own
// process group, and records the run. mergedEnv replaces the environment
// when non-empty.
func (p *Process) Start(mergedEnv []string) error {
	cmd := p.spec.BuildCommand()
	if p.spec.WorkDir != "" {
		cmd.Dir = p.spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p.wireOutputs(cmd)
	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return err
	}
	p.mu.Lock()
	p.cmd = cmd
	p.waitDone = make(chan struct{})
	p.status = Status{
		Name:      p.name,
		Running:   true,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
	}
	p.mu.Unlock()
	p.writePIDFile(cmd.Process.Pid)
	return nil
}

func (p *Process) wireOutputs(cmd *exec.Cmd) {
	lc := p.spec.Log
	if lc.Dir == "" && lc.StdoutPath == "" && lc.StderrPath == "" {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
		return
	}
	if lc.Dir != "" {
		_ = os.MkdirAll(lc.Dir, 0o750)
	}
	outW, errW, _ := lc.Writers(p.name)
	p.mu.Lock()
	p.outCloser = outW
	p.errCloser = errW
	p.mu.Unlock()
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
}

// Wait reaps the child and finalizes status. It must be called exactly once
// per successful Start, by the instance runner.
func (p *Process) Wait() error {
	p.mu.Lock()
	cmd := p.cmd
	wd := p.waitDone
	p.mu.Unlock()
	if cmd == nil {
		return nil
	}
	err := cmd.Wait()
	p.mu.Lock()
	p.status.Running = false
	p.status.StoppedAt = time.Now()
	p.status.ExitErr = err
	p.status.ExitCode = exitCode(cmd, err)
	p.mu.Unlock()
	p.closeWriters()
	p.removePIDFile()
	if wd != nil {
		close(wd)
	}
	return err
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

// Stop sends SIGTERM to the process group, waits up to wait for the runner
// to reap the child, then escalates to SIGKILL. Safe to call when the
// process never started or already exited.
func (p *Process) Stop(wait time.Duration) {
	p.mu.Lock()
	cmd := p.cmd
	wd := p.waitDone
	running := p.status.Running
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil || !running {
		return
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	if wd == nil {
		return
	}
	select {
	case <-wd:
		return
	case <-time.After(wait):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-wd:
	case <-time.After(200 * time.Millisecond):
		// best-effort; the runner will still reap
	}
}

// Kill sends SIGKILL to the process group without a grace period.
func (p *Process) Kill() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// Alive probes the child with signal 0, treating Linux zombies as dead.
func (p *Process) Alive() bool {
	p.mu.Lock()
	cmd := p.cmd
	running := p.status.Running
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil || !running {
		return false
	}
	pid := cmd.Process.Pid
	if isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	s := p.status
	p.mu.Unlock()
	return s
}

// Done returns a channel closed once the child has been reaped, or nil when
// the process was never started.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	wd := p.waitDone
	p.mu.Unlock()
	return wd
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	out, errW := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

func (p *Process) writePIDFile(pid int) {
	if p.spec.PIDFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(p.spec.PIDFile), 0o750)
	_ = os.WriteFile(p.spec.PIDFile, []byte(strconv.Itoa(pid)), 0o600)
}

func (p *Process) removePIDFile() {
	if p.spec.PIDFile == "" {
		return
	}
	_ = os.Remove(p.spec.PIDFile)
}
