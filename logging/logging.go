package logging

import (
	"bytes"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

const DefaultMaxSize = 2 * 1024 * 1024

// RotatingWriter appends to a log file and keeps a single ".1" backup once
// the file grows past maxSize.
type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

// Setup opens the daemon log, tees the standard logger to stdout and the file
// and installs a level filter. Lines tagged "[debug]" are dropped unless level
// is debug; "[info]" lines are dropped at warn or error.
func Setup(logPath string, maxSize int64, level string) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	rw, err := openRotating(logPath, maxSize)
	if err != nil {
		return nil, err
	}

	log.SetOutput(NewLevelFilter(io.MultiWriter(os.Stdout, rw), level))
	return rw, nil
}

func openRotating(path string, maxSize int64) (*RotatingWriter, error) {
	if info, err := os.Stat(path); err == nil && info.Size() > maxSize {
		os.Truncate(path, 0)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var size int64
	if info, _ := f.Stat(); info != nil {
		size = info.Size()
	}

	return &RotatingWriter{
		file:    f,
		path:    path,
		size:    size,
		maxSize: maxSize,
	}, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// LevelFilter drops log lines whose "[level]" tag ranks below the threshold.
// Untagged lines always pass.
type LevelFilter struct {
	out io.Writer
	min int
}

func NewLevelFilter(out io.Writer, level string) *LevelFilter {
	min, ok := levelRank[strings.ToLower(level)]
	if !ok {
		min = levelRank["info"]
	}
	return &LevelFilter{out: out, min: min}
}

func (f *LevelFilter) Write(p []byte) (int, error) {
	if f.min > 0 {
		for lvl, rank := range levelRank {
			if rank < f.min && bytes.Contains(p, []byte("["+lvl+"]")) {
				return len(p), nil
			}
		}
	}
	return f.out.Write(p)
}
