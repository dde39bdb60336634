package scraper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"kufar_watch/httputil"
	"kufar_watch/identity"
)

func intPtr(v int) *int { return &v }

func TestWithPriceRange(t *testing.T) {
	cases := []struct {
		name     string
		url      string
		min, max *int
		want     string
	}{
		{"both bounds", "https://kufar.by/listings?cat=1", intPtr(100), intPtr(500), "https://kufar.by/listings?cat=1&prc=100~500"},
		{"no query", "https://kufar.by/l/velosipedy", intPtr(100), nil, "https://kufar.by/l/velosipedy?prc=100~0"},
		{"max only", "https://kufar.by/l?cat=2", nil, intPtr(90), "https://kufar.by/l?cat=2&prc=0~90"},
		{"no bounds", "https://kufar.by/l?cat=2", nil, nil, "https://kufar.by/l?cat=2"},
		{"already set", "https://kufar.by/l?prc=r:10,20", intPtr(1), intPtr(2), "https://kufar.by/l?prc=r:10,20"},
		{"similar key", "https://kufar.by/l?xprc=5", intPtr(1), intPtr(2), "https://kufar.by/l?xprc=5&prc=1~2"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithPriceRange(tt.url, tt.min, tt.max); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

type requestLog struct {
	mu     sync.Mutex
	agents []string
	query  []string
}

func (l *requestLog) add(r *http.Request) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.agents = append(l.agents, r.Header.Get("User-Agent"))
	l.query = append(l.query, r.URL.RawQuery)
	return len(l.agents)
}

func newTestFetcher(client *http.Client) *Fetcher {
	return NewFetcher(client, identity.NewPool(), FetcherOptions{})
}

func TestFetch_Success(t *testing.T) {
	var reqs requestLog
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs.add(r)
		io.WriteString(w, "<html>results</html>")
	}))
	defer srv.Close()

	body, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL+"/listings?cat=1", intPtr(100), intPtr(500))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "<html>results</html>" {
		t.Fatalf("got body %q", body)
	}
	if len(reqs.query) != 1 || reqs.query[0] != "cat=1&prc=100~500" {
		t.Fatalf("unexpected requests: %v", reqs.query)
	}
	if reqs.agents[0] == "" {
		t.Fatalf("expected a user agent")
	}
}

func TestFetch_RetriesOnceWithNewIdentity(t *testing.T) {
	var reqs requestLog
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqs.add(r) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	body, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL, nil, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Fatalf("got %q", body)
	}
	if len(reqs.agents) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs.agents))
	}
	if reqs.agents[0] == reqs.agents[1] {
		t.Fatalf("retry should use a different identity")
	}
}

func TestFetch_BlockMarkerInBody(t *testing.T) {
	var reqs requestLog
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs.add(r)
		io.WriteString(w, "<html><title>Just a moment...</title></html>")
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL, nil, nil)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Blocked {
		t.Fatalf("expected Blocked, got %v", err)
	}
	if len(reqs.agents) != 2 {
		t.Fatalf("expected exactly one retry, got %d requests", len(reqs.agents))
	}
}

func TestFetch_TooManyRequestsIsBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL, nil, nil)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Blocked || fe.Status != http.StatusTooManyRequests {
		t.Fatalf("expected Blocked 429, got %v", err)
	}
}

func TestFetch_ServerErrorIsUnreachable(t *testing.T) {
	var reqs requestLog
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs.add(r)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL, nil, nil)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Unreachable {
		t.Fatalf("expected Unreachable, got %v", err)
	}
	if len(reqs.agents) != 1 {
		t.Fatalf("non-block errors are not retried, got %d requests", len(reqs.agents))
	}
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher(http.DefaultClient).Fetch(context.Background(), addr, nil, nil)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Unreachable {
		t.Fatalf("expected Unreachable, got %v", err)
	}
}

func TestFetch_RobotsDisallowed(t *testing.T) {
	var reqs requestLog
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			io.WriteString(w, "User-agent: *\nDisallow: /\n")
			return
		}
		reqs.add(r)
		io.WriteString(w, "<html>page</html>")
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), identity.NewPool(), FetcherOptions{
		Robots: httputil.NewRobotsChecker(srv.Client(), true),
	})
	_, err := f.Fetch(context.Background(), srv.URL+"/listings", nil, nil)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Blocked {
		t.Fatalf("expected Blocked, got %v", err)
	}
	if len(reqs.agents) != 0 {
		t.Fatalf("page should not be requested, got %d requests", len(reqs.agents))
	}
}

func TestJitter_ZeroValueDoesNotWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Jitter{}).Wait(ctx); err != nil {
		t.Fatalf("zero jitter should return immediately, got %v", err)
	}
}
