package herd

import (
	"context"
	"net/http"

	"github.com/loykin/herd/internal/checker"
	"github.com/loykin/herd/internal/cluster"
	cfg "github.com/loykin/herd/internal/config"
	"github.com/loykin/herd/internal/graph"
	"github.com/loykin/herd/internal/history"
	histfactory "github.com/loykin/herd/internal/history/factory"
	"github.com/loykin/herd/internal/keys"
	"github.com/loykin/herd/internal/metrics"
	"github.com/loykin/herd/internal/process"
	iapi "github.com/loykin/herd/internal/server"
	"github.com/loykin/herd/internal/store"
	storefactory "github.com/loykin/herd/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Dependency = process.Dependency

type InstanceStatus = cluster.InstanceStatus

type TaskFunc = cluster.TaskFunc

type Config = cfg.Config

type Store = store.Store

type HistorySink = history.Sink

type KeysConfig = keys.Config

type CheckerConfig = checker.Config

// Names of the synthetic key-materialization node and its builtin task, as
// injected by Config.Specs when a [keys] section is present. A cluster built
// from such a config must carry the task under KeysTaskName in its Tasks map.
const (
	KeysNodeName = cfg.KeysNodeName
	KeysTaskName = cfg.KeysTaskName
)

// Cluster is a thin facade over internal/cluster.Controller.
// It provides a stable public API for embedding.

type Cluster struct{ inner *cluster.Controller }

type ClusterOptions = cluster.Options

func NewCluster(opts ClusterOptions) *Cluster {
	return &Cluster{inner: cluster.New(opts)}
}

func (c *Cluster) Run(ctx context.Context) error           { return c.inner.Run(ctx) }
func (c *Cluster) Status() []InstanceStatus                { return c.inner.Status() }
func (c *Cluster) NodeStatus(node string) []InstanceStatus { return c.inner.NodeStatus(node) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func NewGraph(specs []Spec) (*graph.Graph, error) { return graph.New(specs) }

func NewKeyMaterializer(c KeysConfig) (*keys.Materializer, error) { return keys.New(c) }

func NewChecker(c CheckerConfig) (*checker.Checker, error) { return checker.New(c) }

// NewStoreFromDSN creates a transition store from a DSN
// ("sqlite://path", "postgres://...", or a bare sqlite filepath).
func NewStoreFromDSN(dsn string) (Store, error) { return storefactory.NewFromDSN(dsn) }

// NewHistorySinkFromDSN creates a cluster event sink from a DSN
// ("clickhouse://host:port?table=name").
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) { return histfactory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing cluster status for the given controller.
func NewHTTPServer(addr, basePath string, c *Cluster, st Store, reg *prometheus.Registry) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, c.inner, st, reg)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
