package scraper

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"kufar_watch/httputil"
	"kufar_watch/identity"
)

// Markers that show up on challenge/interstitial pages instead of results.
var blockMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("cf-chl-"),
	[]byte("attention required! | cloudflare"),
	[]byte("<title>just a moment...</title>"),
}

// Jitter sleeps a uniform random duration in [Min, Max] before a request.
// The zero value never sleeps.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

func (j Jitter) Wait(ctx context.Context) error {
	d := j.duration()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j Jitter) duration() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + time.Duration(rand.Int64N(int64(j.Max-j.Min)))
}

type FetcherOptions struct {
	Delay   Jitter
	Limiter *rate.Limiter           // nil disables rate limiting
	Robots  *httputil.RobotsChecker // nil disables robots.txt checks
}

type Fetcher struct {
	client *http.Client
	pool   *identity.Pool
	opts   FetcherOptions
}

func NewFetcher(client *http.Client, pool *identity.Pool, opts FetcherOptions) *Fetcher {
	return &Fetcher{client: client, pool: pool, opts: opts}
}

// Fetch downloads a search results page, narrowing it to the given price
// window first. A block response is retried exactly once under a different
// identity.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, minPrice, maxPrice *int) ([]byte, error) {
	target := WithPriceRange(rawURL, minPrice, maxPrice)

	id := f.pool.Pick()
	if !f.opts.Robots.Allowed(id.UserAgent, target) {
		return nil, &FetchError{Kind: Blocked, URL: target, Err: fmt.Errorf("disallowed by robots.txt")}
	}

	body, status, err := f.attempt(ctx, target, id)
	if err != nil {
		return nil, &FetchError{Kind: Unreachable, URL: target, Err: err}
	}
	if !isBlocked(status, body) {
		if status < 200 || status > 299 {
			return nil, &FetchError{Kind: Unreachable, URL: target, Status: status}
		}
		return body, nil
	}

	retryID := f.pool.PickOther(id)
	body, status, err = f.attempt(ctx, target, retryID)
	if err != nil {
		return nil, &FetchError{Kind: Blocked, URL: target, Err: fmt.Errorf("retry: %w", err)}
	}
	if isBlocked(status, body) {
		return nil, &FetchError{Kind: Blocked, URL: target, Status: status}
	}
	if status < 200 || status > 299 {
		return nil, &FetchError{Kind: Unreachable, URL: target, Status: status}
	}
	return body, nil
}

func (f *Fetcher) attempt(ctx context.Context, target string, id identity.Identity) ([]byte, int, error) {
	if err := f.opts.Delay.Wait(ctx); err != nil {
		return nil, 0, err
	}
	if f.opts.Limiter != nil {
		if err := f.opts.Limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	id.Apply(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func isBlocked(status int, body []byte) bool {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return true
	}
	lower := bytes.ToLower(body)
	for _, m := range blockMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

// WithPriceRange appends prc=<min>~<max> when at least one bound is given and
// the URL does not already carry a price parameter. A missing bound is
// written as 0.
func WithPriceRange(rawURL string, minPrice, maxPrice *int) string {
	if minPrice == nil && maxPrice == nil {
		return rawURL
	}
	if u, err := url.Parse(rawURL); err == nil && u.Query().Has("prc") {
		return rawURL
	}

	lo, hi := 0, 0
	if minPrice != nil {
		lo = *minPrice
	}
	if maxPrice != nil {
		hi = *maxPrice
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sprc=%d~%d", rawURL, sep, lo, hi)
}
