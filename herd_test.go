package herd

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loykin/herd/internal/process"
	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func normalized(t *testing.T, specs []Spec) []Spec {
	t.Helper()
	out := make([]Spec, len(specs))
	for i := range specs {
		s := specs[i]
		s.Normalize()
		if err := s.Validate(); err != nil {
			t.Fatalf("validate %s: %v", s.Name, err)
		}
		out[i] = s
	}
	return out
}

func TestClusterFacadeBootstrap(t *testing.T) {
	requireUnix(t)
	specs := normalized(t, []Spec{
		{Name: "boot", Role: process.RoleBoot, Command: "sleep 30"},
		{Name: "peer", Role: process.RolePeer, Command: "sleep 30", Replicas: 2,
			DependsOn: []Dependency{{Target: "boot", State: process.StateStarted}}},
	})
	g, err := NewGraph(specs)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	c := NewCluster(ClusterOptions{Graph: g, StopGrace: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		sts := c.Status()
		running := 0
		for _, st := range sts {
			if st.State == "running" {
				running++
			}
		}
		if running == 3 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("cluster never reached 3 running instances: %+v", sts)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := len(c.NodeStatus("peer")); got != 2 {
		t.Fatalf("peer replicas: %d", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestLoadConfigFacade(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.toml")
	body := `
stop_grace = "2s"

[[nodes]]
name = "boot"
role = "boot"
command = "sleep 1"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	conf, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if conf.StopGrace != 2*time.Second {
		t.Fatalf("stop_grace: %v", conf.StopGrace)
	}
	specs, err := conf.Specs()
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "boot" {
		t.Fatalf("specs: %+v", specs)
	}
}

func TestMetricsFacade(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestStoreFacadeFromDSN(t *testing.T) {
	st, err := NewStoreFromDSN("sqlite://:memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
}

func TestClusterFacadeRunsKeysTaskFromConfig(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	sharedDir := filepath.Join(dir, "shared")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "shared.key"), []byte("k"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	path := filepath.Join(dir, "cluster.toml")
	body := `
[keys]
source_dir = "` + srcDir + `"
shared_dir = "` + sharedDir + `"
files = ["shared.key"]

[[nodes]]
name = "boot"
role = "boot"
command = "sleep 30"

[[nodes.depends_on]]
target = "keys"
state = "completed"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	conf, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	specs, err := conf.Specs()
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	g, err := NewGraph(specs)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	km, err := NewKeyMaterializer(*conf.Keys)
	if err != nil {
		t.Fatalf("materializer: %v", err)
	}
	c := NewCluster(ClusterOptions{
		Graph:     g,
		Tasks:     map[string]TaskFunc{KeysTaskName: km.Materialize},
		StopGrace: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		var keysState, bootState string
		for _, st := range c.Status() {
			switch st.Node {
			case KeysNodeName:
				keysState = string(st.State)
			case "boot":
				bootState = string(st.State)
			}
		}
		if keysState == "exited" && bootState == "running" {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("keys=%s boot=%s; gate never opened", keysState, bootState)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, err := os.Stat(filepath.Join(sharedDir, "shared.key")); err != nil {
		t.Fatalf("materialized key missing: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
