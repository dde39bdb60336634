package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRotatingWriter_RotatesPastMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")

	rw, err := openRotating(path, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rw.Close()

	rw.Write([]byte("0123456789\n"))
	rw.Write([]byte("0123456789\n"))

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected fresh log after rotation, got %d bytes", info.Size())
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	f := NewLevelFilter(&buf, "warn")

	f.Write([]byte("[debug] src 1: fetched\n"))
	f.Write([]byte("[info] src 1: 3 listings\n"))
	f.Write([]byte("[warn] src 1: blocked\n"))
	f.Write([]byte("plain line\n"))

	want := "[warn] src 1: blocked\nplain line\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestLevelFilter_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	f := NewLevelFilter(&buf, "verbose")

	f.Write([]byte("[debug] x\n"))
	f.Write([]byte("[info] y\n"))

	if buf.String() != "[info] y\n" {
		t.Fatalf("got %q", buf.String())
	}
}
