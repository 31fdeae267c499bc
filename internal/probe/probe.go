package probe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Probe type names accepted in configuration.
const (
	TypeExec = "exec"
	TypeHTTP = "http"
	TypeTCP  = "tcp"
)

// Default probe timing parameters.
const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 5 * time.Second
	DefaultRetries  = 3
)

// Prober checks liveness of one node instance. Implementations must be safe
// for concurrent use. A nil error means the probe passed; context timeouts
// and cancellations surface as errors and count as failures.
type Prober interface {
	Probe(ctx context.Context) error
	// Describe returns a human-readable description of the probe method.
	Describe() string
}

// Config is a probe definition attached to a node spec.
type Config struct {
	Type       string        `json:"type" mapstructure:"type"`
	Command    string        `json:"command" mapstructure:"command"`
	URL        string        `json:"url" mapstructure:"url"`
	Address    string        `json:"address" mapstructure:"address"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	Retries    int           `json:"retries" mapstructure:"retries"`
	StartDelay time.Duration `json:"start_delay" mapstructure:"start_delay"`
}

// Normalize fills in defaults for unset timing fields.
func (c *Config) Normalize() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
}

// New builds a Prober from a config. The type may be omitted when exactly
// one of Command/URL/Address is set.
func New(c Config) (Prober, error) {
	t := strings.TrimSpace(c.Type)
	if t == "" {
		switch {
		case c.Command != "":
			t = TypeExec
		case c.URL != "":
			t = TypeHTTP
		case c.Address != "":
			t = TypeTCP
		}
	}
	switch t {
	case TypeExec:
		if strings.TrimSpace(c.Command) == "" {
			return nil, fmt.Errorf("exec probe requires command")
		}
		return ExecProber{Command: c.Command}, nil
	case TypeHTTP:
		if strings.TrimSpace(c.URL) == "" {
			return nil, fmt.Errorf("http probe requires url")
		}
		return NewHTTPProber(c.URL), nil
	case TypeTCP:
		if strings.TrimSpace(c.Address) == "" {
			return nil, fmt.Errorf("tcp probe requires address")
		}
		return TCPProber{Address: c.Address}, nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", c.Type)
	}
}
