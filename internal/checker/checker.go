package checker

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Defaults for the propagation probe.
const (
	DefaultDeadline     = 60 * time.Second
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 5 * time.Second
)

// Config describes the end-to-end propagation check: submit one artifact to
// the boot node and poll every observed peer until it is visible.
type Config struct {
	SubmitURL    string        `json:"submit_url" mapstructure:"submit_url"`
	StatusURLs   []string      `json:"status_urls" mapstructure:"status_urls"`
	Quorum       int           `json:"quorum" mapstructure:"quorum"` // peers that must confirm; 0 = all
	Deadline     time.Duration `json:"deadline" mapstructure:"deadline"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.SubmitURL) == "" {
		return fmt.Errorf("checker requires submit_url")
	}
	if len(c.StatusURLs) == 0 {
		return fmt.Errorf("checker requires at least one status_url")
	}
	if c.Quorum <= 0 || c.Quorum > len(c.StatusURLs) {
		c.Quorum = len(c.StatusURLs)
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

// Checker runs the acceptance probe. Its result is reported exactly once;
// retrying a failed check is the caller's decision, never the checker's.
type Checker struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Checker, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &Checker{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Run submits a fresh artifact and polls the peers. It returns nil when the
// artifact became visible on a quorum of peers before the deadline.
func (c *Checker) Run(ctx context.Context) error {
	id, err := newArtifactID()
	if err != nil {
		return err
	}
	slog.Info("submitting artifact", "id", id, "to", c.cfg.SubmitURL)
	if err := c.submit(ctx, id); err != nil {
		return fmt.Errorf("submit artifact: %w", err)
	}

	deadline := time.Now().Add(c.cfg.Deadline)
	confirmed := make(map[string]bool, len(c.cfg.StatusURLs))
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for _, u := range c.cfg.StatusURLs {
			if confirmed[u] {
				continue
			}
			if c.visible(ctx, u, id) {
				confirmed[u] = true
				slog.Info("artifact visible", "id", id, "peer", u,
					"confirmed", len(confirmed), "quorum", c.cfg.Quorum)
			}
		}
		if len(confirmed) >= c.cfg.Quorum {
			slog.Info("propagation check passed", "id", id,
				"confirmed", len(confirmed), "peers", len(c.cfg.StatusURLs))
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("artifact %s reached %d/%d peers within %s",
				id, len(confirmed), c.cfg.Quorum, c.cfg.Deadline)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Checker) submit(ctx context.Context, id string) error {
	body, _ := json.Marshal(map[string]string{"id": id})
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.cfg.SubmitURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("submit endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// visible asks one peer whether it has seen the artifact. The peer status
// endpoint answers 200 for a known artifact at <status_url>/<id>.
func (c *Checker) visible(ctx context.Context, statusURL, id string) bool {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	url := strings.TrimRight(statusURL, "/") + "/" + id
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

func newArtifactID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate artifact id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
