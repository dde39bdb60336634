package storage

import (
	"testing"
	"time"
)

func TestPageKey(t *testing.T) {
	at := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("MSK", 3*3600))
	if got := PageKey("run-1", at); got != "pages/2026-03-09/run-1.html" {
		t.Fatalf("got %s", got)
	}
}

func TestPageArchiveLocation(t *testing.T) {
	a := &PageArchive{cfg: S3Config{Bucket: "pages", Endpoint: "http://localhost:9000/"}}
	if got := a.location("pages/x.html"); got != "http://localhost:9000/pages/pages/x.html" {
		t.Fatalf("got %s", got)
	}
	a = &PageArchive{cfg: S3Config{Bucket: "b"}}
	if got := a.location("k"); got != "s3://b/k" {
		t.Fatalf("got %s", got)
	}
}
