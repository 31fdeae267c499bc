package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/loykin/herd/internal/cmdline"
)

// ExecProber runs a command whose exit code 0 means the node is healthy.
// The command string is resolved with the same shell-awareness rules as a
// node command.
type ExecProber struct{ Command string }

func (p ExecProber) Probe(ctx context.Context) error {
	name, args := cmdline.Split(p.Command)
	// #nosec G204
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("probe timed out: %w", ctx.Err())
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return fmt.Errorf("probe exited with code %d", ee.ExitCode())
	}
	return err
}

func (p ExecProber) Describe() string { return "exec:" + p.Command }
