package keys

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeKey(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write key fixture: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{SharedDir: "/tmp/x", Files: []string{"a"}}); err == nil {
		t.Fatal("missing source_dir accepted")
	}
	if _, err := New(Config{SourceDir: "/tmp/x", Files: []string{"a"}}); err == nil {
		t.Fatal("missing shared_dir accepted")
	}
	if _, err := New(Config{SourceDir: "/tmp/x", SharedDir: "/tmp/y"}); err == nil {
		t.Fatal("empty file list accepted")
	}
	if _, err := New(Config{SourceDir: "/tmp/x", SharedDir: "/tmp/y", Files: []string{"a"}, Mode: "xyz"}); err == nil {
		t.Fatal("bad mode accepted")
	}
}

func TestMaterialize(t *testing.T) {
	src := t.TempDir()
	shared := filepath.Join(t.TempDir(), "shared")
	writeKey(t, src, "node.key", "secret-a")
	writeKey(t, src, "genesis.json", "{}")

	m, err := New(Config{SourceDir: src, SharedDir: shared, Files: []string{"node.key", "genesis.json"}, Mode: "0640"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if m.Completed() {
		t.Fatal("completed before materialize")
	}
	if err := m.Materialize(context.Background()); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if !Completed(shared) {
		t.Fatal("marker missing after materialize")
	}
	b, err := os.ReadFile(filepath.Join(shared, "node.key"))
	if err != nil || string(b) != "secret-a" {
		t.Fatalf("copied content: %q, %v", b, err)
	}
	info, err := os.Stat(filepath.Join(shared, "node.key"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o640 {
		t.Fatalf("mode: %v", info.Mode())
	}
}

func TestMaterializeMissingSourceLeavesNoMarker(t *testing.T) {
	src := t.TempDir()
	shared := filepath.Join(t.TempDir(), "shared")
	writeKey(t, src, "present.key", "x")

	m, err := New(Config{SourceDir: src, SharedDir: shared, Files: []string{"present.key", "absent.key"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Materialize(context.Background()); err == nil {
		t.Fatal("expected error for missing source file")
	}
	if Completed(shared) {
		t.Fatal("marker written despite failure")
	}
}

func TestMaterializeRemovesStaleMarker(t *testing.T) {
	src := t.TempDir()
	shared := t.TempDir()
	writeKey(t, shared, MarkerFile, "stale")

	m, err := New(Config{SourceDir: src, SharedDir: shared, Files: []string{"absent.key"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Materialize(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	if Completed(shared) {
		t.Fatal("stale marker survived a failed run")
	}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	src := t.TempDir()
	shared := t.TempDir()
	writeKey(t, src, "node.key", "v1")

	m, err := New(Config{SourceDir: src, SharedDir: shared, Files: []string{"node.key"}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Materialize(context.Background()); err != nil {
			t.Fatalf("materialize #%d: %v", i+1, err)
		}
	}
	if !m.Completed() {
		t.Fatal("marker missing")
	}
}
