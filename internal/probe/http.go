package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPProber performs a GET against a node status endpoint. Any status in
// [200,400) is healthy; the consensus binary's endpoint returns 200 only
// once it is serving.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func NewHTTPProber(url string) HTTPProber {
	return HTTPProber{URL: url, Client: http.DefaultClient}
}

func (p HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("probe got HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p HTTPProber) Describe() string { return "http:" + p.URL }
