package checker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeNetwork is one submit endpoint plus n peer status endpoints. Each peer
// starts reporting the artifact after its configured delay.
type fakeNetwork struct {
	mu          sync.Mutex
	submitted   string
	submittedAt time.Time
	delays      []time.Duration

	submit *httptest.Server
	peers  []*httptest.Server
}

func newFakeNetwork(t *testing.T, delays []time.Duration) *fakeNetwork {
	t.Helper()
	f := &fakeNetwork{delays: delays}
	f.submit = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.submitted = body.ID
		f.submittedAt = time.Now()
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(f.submit.Close)
	for i := range delays {
		delay := delays[i]
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
			f.mu.Lock()
			known := f.submitted != "" && id == f.submitted && time.Since(f.submittedAt) >= delay
			f.mu.Unlock()
			if known {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)
		f.peers = append(f.peers, srv)
	}
	return f
}

func (f *fakeNetwork) statusURLs() []string {
	urls := make([]string, 0, len(f.peers))
	for _, p := range f.peers {
		urls = append(urls, p.URL+"/artifacts")
	}
	return urls
}

func TestRunAllPeersConfirm(t *testing.T) {
	f := newFakeNetwork(t, []time.Duration{0, 0, 0})
	ck, err := New(Config{
		SubmitURL:    f.submit.URL,
		StatusURLs:   f.statusURLs(),
		Deadline:     10 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ck.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunQuorum(t *testing.T) {
	// One peer never sees the artifact; quorum of 2 out of 3 still passes.
	f := newFakeNetwork(t, []time.Duration{0, 0, time.Hour})
	ck, err := New(Config{
		SubmitURL:    f.submit.URL,
		StatusURLs:   f.statusURLs(),
		Quorum:       2,
		Deadline:     10 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ck.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunDeadlineExceeded(t *testing.T) {
	f := newFakeNetwork(t, []time.Duration{time.Hour})
	ck, err := New(Config{
		SubmitURL:    f.submit.URL,
		StatusURLs:   f.statusURLs(),
		Deadline:     300 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = ck.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "peers within") {
		t.Fatalf("expected deadline failure, got %v", err)
	}
}

func TestRunSubmitFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	ck, err := New(Config{
		SubmitURL:  srv.URL,
		StatusURLs: []string{srv.URL + "/artifacts"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ck.Run(context.Background()); err == nil {
		t.Fatal("expected submit error")
	}
}

func TestConfigNormalize(t *testing.T) {
	if _, err := New(Config{StatusURLs: []string{"http://x"}}); err == nil {
		t.Fatal("missing submit_url accepted")
	}
	if _, err := New(Config{SubmitURL: "http://x"}); err == nil {
		t.Fatal("empty status_urls accepted")
	}
	c := Config{SubmitURL: "http://x", StatusURLs: []string{"a", "b"}, Quorum: 9}
	if err := c.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if c.Quorum != 2 {
		t.Fatalf("quorum should clamp to peer count: %d", c.Quorum)
	}
	if c.Deadline != DefaultDeadline || c.PollInterval != DefaultPollInterval || c.Timeout != DefaultTimeout {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
