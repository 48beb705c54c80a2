package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/dictum/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
overlay:
  max_lines: 10
`

const watcherUpdatedYAML = `
server:
  log_level: debug
overlay:
  max_lines: 4
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeConfig writes content and pushes the mtime forward by bump so every
// write is visible to the watcher regardless of filesystem time resolution.
func writeConfig(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	ts := time.Now().Add(bump)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	calls [][2]*config.Config
	ch    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{ch: make(chan struct{}, 8)}
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newWatcher(t *testing.T, content string, rec *changeRecorder, opts ...config.WatcherOption) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictum.yaml")
	writeConfig(t, path, content, 0)
	var cb func(old, new *config.Config)
	if rec != nil {
		cb = rec.onChange
	}
	w, err := config.NewWatcher(path, cb, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := newWatcher(t, watcherValidYAML, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_CheckDetectsChange(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := newWatcher(t, watcherValidYAML, rec)

	if w.Check() {
		t.Fatal("Check reported a change for an untouched file")
	}
	writeConfig(t, path, watcherUpdatedYAML, time.Second)
	if !w.Check() {
		t.Fatal("Check missed the edit")
	}

	if rec.count() != 1 {
		t.Fatalf("callback called %d times, want 1", rec.count())
	}
	pair := rec.calls[0]
	if pair[0].Server.LogLevel != config.LogInfo || pair[1].Server.LogLevel != config.LogDebug {
		t.Errorf("callback got old=%q new=%q", pair[0].Server.LogLevel, pair[1].Server.LogLevel)
	}
	if w.Current().Overlay.MaxLines != 4 {
		t.Errorf("Current() not updated: max_lines=%d", w.Current().Overlay.MaxLines)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := newWatcher(t, watcherValidYAML, rec)

	writeConfig(t, path, watcherInvalidYAML, time.Second)
	if w.Check() {
		t.Error("Check accepted an invalid config")
	}
	if rec.count() != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", rec.count())
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got %q", w.Current().Server.LogLevel)
	}

	// Fixing the file is picked up.
	writeConfig(t, path, watcherUpdatedYAML, 2*time.Second)
	if !w.Check() {
		t.Error("Check missed the repaired config")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := newWatcher(t, watcherValidYAML, rec)

	ts := time.Now().Add(time.Second)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	if w.Check() || rec.count() != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", rec.count())
	}
}

func TestWatcher_RunPolls(t *testing.T) {
	t.Parallel()

	rec := newChangeRecorder()
	w, path := newWatcher(t, watcherValidYAML, rec, config.WithInterval(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, path, watcherUpdatedYAML, time.Second)
	select {
	case <-rec.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w, _ := newWatcher(t, watcherValidYAML, nil)
	w.Stop()
	w.Stop()
	if err := w.Run(context.Background()); err != nil {
		t.Errorf("Run after Stop = %v", err)
	}
}
