// Package testutil provides shared test helpers for setting up kilns.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/kilnd/internal/kiln"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewManager creates a kiln manager with quiet test defaults, closed
// automatically when the test ends.
func NewManager(t *testing.T) *kiln.Manager {
	t.Helper()
	logger := Logger()
	m := kiln.NewManager(kiln.Options{
		QueueSize:      32,
		EnqueueTimeout: 100 * time.Millisecond,
		Logger:         logger,
	}, logger)
	t.Cleanup(m.CloseAll)
	return m
}

// WriteNote writes a Markdown file under root, creating parent directories.
func WriteNote(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// WaitDrained blocks until the kiln's consumer has applied everything
// enqueued, or fails the test after five seconds.
func WaitDrained(t *testing.T, k *kiln.Kiln) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		stats := k.QueueStats()
		if stats.CurrentDepth == 0 && stats.TotalProcessed+stats.TotalFailed == stats.TotalEnqueued {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("queue never drained: %+v", stats)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
