package httputil

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"kufar_watch/config"
)

func TestNewClients_BadProxy(t *testing.T) {
	if _, err := NewClients(&config.ProxyConfig{URL: "://nope"}, time.Second); err == nil {
		t.Fatalf("expected error for malformed proxy url")
	}
}

func TestNewClients_DefaultTimeout(t *testing.T) {
	c, err := NewClients(&config.ProxyConfig{}, 0)
	if err != nil {
		t.Fatalf("new clients: %v", err)
	}
	if c.Scraping.Timeout != 15*time.Second {
		t.Fatalf("got timeout %v", c.Scraping.Timeout)
	}
}

func TestReadBody(t *testing.T) {
	const text = "<html>ok</html>"

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	w.Write([]byte(text))
	w.Close()

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	bw.Write([]byte(text))
	bw.Close()

	cases := map[string][]byte{
		"":     []byte(text),
		"gzip": gz.Bytes(),
		"br":   br.Bytes(),
	}
	for enc, payload := range cases {
		resp := &http.Response{
			Header: http.Header{},
			Body:   io.NopCloser(bytes.NewReader(payload)),
		}
		if enc != "" {
			resp.Header.Set("Content-Encoding", enc)
		}
		got, err := ReadBody(resp)
		if err != nil {
			t.Fatalf("%q: %v", enc, err)
		}
		if string(got) != text {
			t.Fatalf("%q: got %q", enc, got)
		}
	}
}

func TestRobotsChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			io.WriteString(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rc := NewRobotsChecker(srv.Client(), true)
	if !rc.Allowed("bot", srv.URL+"/listings?cat=1") {
		t.Errorf("expected /listings to be allowed")
	}
	if rc.Allowed("bot", srv.URL+"/private/x") {
		t.Errorf("expected /private to be disallowed")
	}

	off := NewRobotsChecker(srv.Client(), false)
	if !off.Allowed("bot", srv.URL+"/private/x") {
		t.Errorf("disabled checker should allow everything")
	}
}

func TestRobotsChecker_SlowHostDoesNotBlockOthers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		io.WriteString(w, "User-agent: *\nAllow: /\n")
	}))
	defer slow.Close()
	defer close(release)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nDisallow: /private\n")
	}))
	defer fast.Close()

	rc := NewRobotsChecker(&http.Client{Timeout: 5 * time.Second}, true)
	go rc.Allowed("bot", slow.URL+"/listings")
	<-entered

	done := make(chan bool, 1)
	go func() { done <- rc.Allowed("bot", fast.URL+"/private/x") }()

	select {
	case allowed := <-done:
		if allowed {
			t.Errorf("expected /private to be disallowed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("check for a second host waited on the slow one")
	}
}
