package env

import (
	"os"
	"strings"
)

type Var map[string]string

// Env composes the environment for managed node processes.
// Globals (network name, shared key directory, log verbosity) are applied
// over the OS base, then per-node overrides win.
type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var, len(os.Environ()))
	overlayKV(base, os.Environ())
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list in precedence order: the OS
// base (cached on first use), then globals, then perNode "K=V" overrides.
// ${VAR} references are expanded once against the composed map.
func (e *Env) Merge(perNode []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perNode))
	overlay(m, e.env)
	overlay(m, e.Var)
	overlayKV(m, perNode)

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func overlay(m, src Var) {
	for k, v := range src {
		if k == "" {
			continue
		}
		m[k] = v
	}
}

func overlayKV(m Var, kvs []string) {
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
}

// expand performs a single substitution pass; values referencing each other
// are not resolved recursively.
func expand(s string, m Var) string {
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
