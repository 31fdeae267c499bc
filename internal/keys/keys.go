package keys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MarkerFile is written to the shared directory once every key file has been
// materialized. Its presence is the completion signal: dependents (and a
// restarted orchestrator) can gate on it without a side channel.
const MarkerFile = ".keys-ready"

// Config describes the shared key bundle for the test network.
type Config struct {
	SourceDir string   `json:"source_dir" mapstructure:"source_dir"`
	SharedDir string   `json:"shared_dir" mapstructure:"shared_dir"`
	Files     []string `json:"files" mapstructure:"files"`
	Mode      string   `json:"mode" mapstructure:"mode"` // octal, default 0600
}

// Materializer copies the named key files into the shared directory and
// signals completion. The bundle is immutable after the marker is written;
// re-running overwrites with identical content and is safe.
type Materializer struct {
	cfg  Config
	mode os.FileMode
}

func New(cfg Config) (*Materializer, error) {
	if strings.TrimSpace(cfg.SourceDir) == "" {
		return nil, fmt.Errorf("key bundle requires source_dir")
	}
	if strings.TrimSpace(cfg.SharedDir) == "" {
		return nil, fmt.Errorf("key bundle requires shared_dir")
	}
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("key bundle requires at least one file")
	}
	mode := os.FileMode(0o600)
	if cfg.Mode != "" {
		v, err := strconv.ParseUint(cfg.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid key file mode %q: %w", cfg.Mode, err)
		}
		mode = os.FileMode(v)
	}
	return &Materializer{cfg: cfg, mode: mode}, nil
}

// Materialize copies every key file and writes the marker. Any failure
// leaves the marker absent so downstream gates never unblock on a partial
// bundle.
func (m *Materializer) Materialize(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.SharedDir, 0o750); err != nil {
		return fmt.Errorf("create shared key dir: %w", err)
	}
	// A stale marker from a previous run must not signal completion early.
	_ = os.Remove(m.markerPath())
	for _, name := range m.cfg.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.copyOne(name); err != nil {
			return fmt.Errorf("materialize key %s: %w", name, err)
		}
	}
	if err := os.WriteFile(m.markerPath(), []byte("ok\n"), 0o644); err != nil {
		return fmt.Errorf("write key marker: %w", err)
	}
	return nil
}

// Completed reports whether the bundle marker is present.
func (m *Materializer) Completed() bool { return Completed(m.cfg.SharedDir) }

// Completed reports whether sharedDir carries a finished key bundle.
func Completed(sharedDir string) bool {
	_, err := os.Stat(filepath.Join(sharedDir, MarkerFile))
	return err == nil
}

func (m *Materializer) markerPath() string {
	return filepath.Join(m.cfg.SharedDir, MarkerFile)
}

func (m *Materializer) copyOne(name string) error {
	src := filepath.Join(m.cfg.SourceDir, filepath.Clean(name))
	dst := filepath.Join(m.cfg.SharedDir, filepath.Base(name))
	in, err := os.Open(src) // #nosec G304 -- path comes from operator config
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, m.mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// chmod again in case the file pre-existed with different permissions
	return os.Chmod(dst, m.mode)
}
