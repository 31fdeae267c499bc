package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/herd/internal/checker"
	"github.com/loykin/herd/internal/cluster"
	"github.com/loykin/herd/internal/config"
	"github.com/loykin/herd/internal/graph"
	"github.com/loykin/herd/internal/history"
	chsink "github.com/loykin/herd/internal/history/clickhouse"
	"github.com/loykin/herd/internal/keys"
	"github.com/loykin/herd/internal/metrics"
	"github.com/loykin/herd/internal/server"
	"github.com/loykin/herd/internal/store"
	storefactory "github.com/loykin/herd/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "herd",
		Short:        "bootstrap and supervise a multi-node test network",
		SilenceUsage: true,
	}

	var up UpFlags
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "materialize keys, start the cluster and remediate until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(up)
		},
	}
	upCmd.Flags().StringVarP(&up.ConfigPath, "config", "c", "cluster.toml", "cluster TOML file")
	upCmd.Flags().StringVar(&up.APIListen, "api-listen", "", "status API listen address (overrides config)")

	var gf GraphFlags
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "validate the dependency graph and print the start order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(gf)
		},
	}
	graphCmd.Flags().StringVarP(&gf.ConfigPath, "config", "c", "cluster.toml", "cluster TOML file")

	var sf StatusFlags
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "query instance statuses from a running orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(sf)
		},
	}
	statusCmd.Flags().StringVar(&sf.APIUrl, "api-url", "http://127.0.0.1:8123", "status API base URL")
	statusCmd.Flags().StringVar(&sf.Node, "node", "", "limit to one node's replicas")
	statusCmd.Flags().DurationVar(&sf.APITimeout, "timeout", 5*time.Second, "request timeout")

	var cf CheckFlags
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "run the artifact propagation check; exit status is the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cf)
		},
	}
	checkCmd.Flags().StringVarP(&cf.ConfigPath, "config", "c", "cluster.toml", "cluster TOML file")
	checkCmd.Flags().StringVar(&cf.SubmitURL, "submit-url", "", "override [checker].submit_url")
	checkCmd.Flags().DurationVar(&cf.Deadline, "deadline", 0, "override [checker].deadline")

	root.AddCommand(upCmd, graphCmd, statusCmd, checkCmd)
	return root
}

func runUp(f UpFlags) error {
	conf, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	slog.SetDefault(conf.Log.NewSlogger())

	specs, err := conf.Specs()
	if err != nil {
		return err
	}
	g, err := graph.New(specs)
	if err != nil {
		return err
	}
	genv, err := conf.GlobalEnv()
	if err != nil {
		return err
	}

	st, err := buildStore(conf.Store)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		if err := st.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("store schema: %w", err)
		}
	}

	sinks, closeSinks, err := buildSinks(conf.History)
	if err != nil {
		return err
	}
	defer closeSinks()

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	tasks := make(map[string]cluster.TaskFunc)
	if conf.Keys != nil {
		km, err := keys.New(*conf.Keys)
		if err != nil {
			return err
		}
		tasks[config.KeysTaskName] = km.Materialize
	}

	ctl := cluster.New(cluster.Options{
		Graph:        g,
		GlobalEnv:    genv,
		Store:        st,
		Sinks:        sinks,
		Tasks:        tasks,
		StopGrace:    conf.StopGrace,
		PendingGrace: conf.PendingGrace,
	})

	var api *http.Server
	listen := f.APIListen
	basePath := ""
	if conf.API != nil {
		if listen == "" {
			listen = conf.API.Listen
		}
		basePath = conf.API.BasePath
	}
	if listen != "" {
		api, err = server.NewServer(listen, basePath, ctl, st, reg)
		if err != nil {
			return err
		}
		slog.Info("status api listening", "addr", listen)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := ctl.Run(ctx)

	if api != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = api.Shutdown(shutCtx)
	}
	return runErr
}

func runGraph(f GraphFlags) error {
	conf, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	specs, err := conf.Specs()
	if err != nil {
		return err
	}
	g, err := graph.New(specs)
	if err != nil {
		return err
	}
	for _, name := range g.StartOrder() {
		deps := g.Dependencies(name)
		if len(deps) == 0 {
			fmt.Println(name)
			continue
		}
		parts := make([]string, 0, len(deps))
		for _, d := range deps {
			parts = append(parts, fmt.Sprintf("%s(%s)", d.Target, d.State))
		}
		fmt.Printf("%s <- %s\n", name, strings.Join(parts, ", "))
	}
	return nil
}

func runStatus(f StatusFlags) error {
	u, err := url.Parse(strings.TrimRight(f.APIUrl, "/") + "/status")
	if err != nil {
		return err
	}
	if f.Node != "" {
		q := u.Query()
		q.Set("node", f.Node)
		u.RawQuery = q.Encode()
	}
	client := &http.Client{Timeout: f.APITimeout}
	resp, err := client.Get(u.String())
	if err != nil {
		return fmt.Errorf("orchestrator not reachable at %s: %w", f.APIUrl, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func runCheck(ctx context.Context, f CheckFlags) error {
	conf, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	slog.SetDefault(conf.Log.NewSlogger())
	if conf.Checker == nil {
		return fmt.Errorf("no [checker] section in %s", f.ConfigPath)
	}
	cc := *conf.Checker
	if f.SubmitURL != "" {
		cc.SubmitURL = f.SubmitURL
	}
	if f.Deadline > 0 {
		cc.Deadline = f.Deadline
	}
	ck, err := checker.New(cc)
	if err != nil {
		return err
	}
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := ck.Run(sigCtx); err != nil {
		return err
	}
	fmt.Println("cluster accepted")
	return nil
}

func buildStore(sc *config.StoreConfig) (store.Store, error) {
	if sc == nil {
		return nil, nil
	}
	switch strings.ToLower(sc.Type) {
	case "", "sqlite":
		if sc.Path == "" {
			return nil, fmt.Errorf("store type sqlite requires path")
		}
		return storefactory.NewFromDSN(sc.Path)
	case "postgres":
		if sc.DSN == "" {
			return nil, fmt.Errorf("store type postgres requires dsn")
		}
		return storefactory.NewFromDSN(sc.DSN)
	default:
		return nil, fmt.Errorf("unsupported store type %q", sc.Type)
	}
}

func buildSinks(hc *config.HistoryConfig) ([]history.Sink, func(), error) {
	if hc == nil {
		return nil, func() {}, nil
	}
	switch strings.ToLower(hc.Type) {
	case "clickhouse":
		s, err := chsink.New(hc.Addr, hc.Table)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(context.Background()); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return []history.Sink{s}, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported history type %q", hc.Type)
	}
}
