package httputil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsChecker caches robots.txt per scheme+host. A disabled checker allows
// everything, as does a host whose robots.txt cannot be fetched.
type RobotsChecker struct {
	mu       sync.Mutex
	rules    map[string]*robotstxt.RobotsData
	expiry   map[string]time.Time
	client   *http.Client
	cacheTTL time.Duration
	enabled  bool
}

func NewRobotsChecker(client *http.Client, enabled bool) *RobotsChecker {
	return &RobotsChecker{
		rules:    make(map[string]*robotstxt.RobotsData),
		expiry:   make(map[string]time.Time),
		client:   client,
		cacheTTL: time.Hour,
		enabled:  enabled,
	}
}

func (r *RobotsChecker) Allowed(userAgent, rawURL string) bool {
	if r == nil || !r.enabled {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	data, err := r.get(u.Scheme + "://" + u.Host)
	if err != nil {
		return true
	}

	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(userAgent).Test(path)
}

func (r *RobotsChecker) get(origin string) (*robotstxt.RobotsData, error) {
	r.mu.Lock()
	data, ok := r.rules[origin]
	fresh := ok && time.Now().Before(r.expiry[origin])
	r.mu.Unlock()
	if fresh {
		return data, nil
	}

	// Fetched without the lock so one slow host does not stall the others.
	// Two callers may fetch the same origin; the last write wins.
	data, err := r.fetch(origin)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.rules[origin] = data
	r.expiry[origin] = time.Now().Add(r.cacheTTL)
	r.mu.Unlock()
	return data, nil
}

func (r *RobotsChecker) fetch(origin string) (*robotstxt.RobotsData, error) {
	resp, err := r.client.Get(origin + "/robots.txt")
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
