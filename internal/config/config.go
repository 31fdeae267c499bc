package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/herd/internal/checker"
	"github.com/loykin/herd/internal/keys"
	"github.com/loykin/herd/internal/logger"
	"github.com/loykin/herd/internal/probe"
	"github.com/loykin/herd/internal/process"
	"github.com/spf13/viper"
)

// KeysNodeName is the synthetic node injected for key materialization.
// Dependents gate on it with `depends_on = [{target = "keys", state = "completed"}]`.
const KeysNodeName = "keys"

// KeysTaskName is the builtin task the synthetic keys node runs.
const KeysTaskName = "materialize-keys"

// Config is the top-level TOML structure for one test network.
type Config struct {
	Env          []string        `toml:"env" mapstructure:"env"`
	EnvFiles     []string        `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv     bool            `toml:"use_os_env" mapstructure:"use_os_env"`
	StopGrace    time.Duration   `toml:"stop_grace" mapstructure:"stop_grace"`
	PendingGrace time.Duration   `toml:"pending_grace" mapstructure:"pending_grace"`
	Log          logger.Config   `toml:"log" mapstructure:"log"`
	Keys         *keys.Config    `toml:"keys" mapstructure:"keys"`
	Checker      *checker.Config `toml:"checker" mapstructure:"checker"`
	Store        *StoreConfig    `toml:"store" mapstructure:"store"`
	History      *HistoryConfig  `toml:"history" mapstructure:"history"`
	API          *APIConfig      `toml:"api" mapstructure:"api"`
	Nodes        []NodeConfig    `toml:"nodes" mapstructure:"nodes"`
}

// StoreConfig selects the transition history backend.
type StoreConfig struct {
	Type string `toml:"type" mapstructure:"type"` // sqlite | postgres
	Path string `toml:"path" mapstructure:"path"` // sqlite file path
	DSN  string `toml:"dsn" mapstructure:"dsn"`   // postgres DSN
}

// HistoryConfig selects an external cluster-health event sink.
type HistoryConfig struct {
	Type  string `toml:"type" mapstructure:"type"` // clickhouse
	Addr  string `toml:"addr" mapstructure:"addr"`
	Table string `toml:"table" mapstructure:"table"`
}

// APIConfig configures the embedded status API.
type APIConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// NodeConfig is one [[nodes]] block.
type NodeConfig struct {
	Name            string               `toml:"name" mapstructure:"name"`
	Role            string               `toml:"role" mapstructure:"role"`
	Command         string               `toml:"command" mapstructure:"command"`
	WorkDir         string               `toml:"workdir" mapstructure:"workdir"`
	Env             []string             `toml:"env" mapstructure:"env"`
	PIDFile         string               `toml:"pidfile" mapstructure:"pidfile"`
	Replicas        int                  `toml:"replicas" mapstructure:"replicas"`
	DependsOn       []process.Dependency `toml:"depends_on" mapstructure:"depends_on"`
	Probe           *probe.Config        `toml:"probe" mapstructure:"probe"`
	RestartPolicy   string               `toml:"restart_policy" mapstructure:"restart_policy"`
	RestartInterval time.Duration        `toml:"restart_interval" mapstructure:"restart_interval"`
	MaxRestarts     int                  `toml:"max_restarts" mapstructure:"max_restarts"`
	RestartWindow   time.Duration        `toml:"restart_window" mapstructure:"restart_window"`
	StartDuration   time.Duration        `toml:"startsecs" mapstructure:"startsecs"`
	Ports           []int                `toml:"ports" mapstructure:"ports"`
	Log             *logger.FileConfig   `toml:"log" mapstructure:"log"`
}

// Load parses a TOML cluster file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GlobalEnv merges env sources: OS env (when use_os_env), then env_files in
// order, then the top-level env list last.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// Specs converts node blocks into validated process specs, injecting the
// synthetic keys node when a [keys] section is present. Per-node log config
// falls back to the top-level file logging defaults.
func (c *Config) Specs() ([]process.Spec, error) {
	specs := make([]process.Spec, 0, len(c.Nodes)+1)
	if c.Keys != nil {
		specs = append(specs, process.Spec{
			Name:          KeysNodeName,
			Role:          process.RoleSupport,
			Task:          KeysTaskName,
			RestartPolicy: process.RestartNever,
		})
	}
	for _, nc := range c.Nodes {
		if c.Keys != nil && nc.Name == KeysNodeName {
			return nil, fmt.Errorf("node name %q is reserved while [keys] is configured", KeysNodeName)
		}
		s := process.Spec{
			Name:            nc.Name,
			Role:            process.Role(nc.Role),
			Command:         nc.Command,
			WorkDir:         nc.WorkDir,
			Env:             nc.Env,
			PIDFile:         nc.PIDFile,
			Replicas:        nc.Replicas,
			DependsOn:       nc.DependsOn,
			Probe:           nc.Probe,
			RestartPolicy:   process.RestartPolicy(nc.RestartPolicy),
			RestartInterval: nc.RestartInterval,
			MaxRestarts:     nc.MaxRestarts,
			RestartWindow:   nc.RestartWindow,
			StartDuration:   nc.StartDuration,
			Ports:           nc.Ports,
		}
		if nc.Log != nil {
			s.Log = *nc.Log
		} else {
			s.Log = c.Log.File
		}
		specs = append(specs, s)
	}
	for i := range specs {
		specs[i].Normalize()
		if err := specs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no
// quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
