package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callagent/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
    api_key: sk-test
  tts:
    name: openai
script:
  opening_instruction: Say hello.
  stages:
    - label: greeting
      instruction: Greet them.
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
    api_key: sk-test
  tts:
    name: openai
script:
  opening_instruction: Say hello.
  stages:
    - label: greeting
      instruction: Greet them warmly.
    - label: closing
      instruction: Say goodbye.
      closing: true
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func newTestWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	// A long interval keeps the background loop out of the way; tests drive
	// Reload directly.
	w, err := config.NewWatcher(path, onChange, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	w, _ := newTestWatcher(t, watcherValidYAML, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if got := cfg.ScriptOrDefault().Len(); got != 1 {
		t.Errorf("stages = %d, want 1", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	var gotOld, gotNew *config.Config
	calls := 0
	w, path := newTestWatcher(t, watcherValidYAML, func(old, new *config.Config) {
		calls++
		gotOld, gotNew = old, new
	})

	if changed, err := w.Reload(); changed || err != nil {
		t.Fatalf("Reload on untouched file = (%v, %v), want (false, nil)", changed, err)
	}

	writeFile(t, path, watcherUpdatedYAML)
	changed, err := w.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload after edit = (%v, %v), want (true, nil)", changed, err)
	}
	if calls != 1 {
		t.Fatalf("onChange calls = %d, want 1", calls)
	}
	if gotOld.Server.LogLevel != config.LogInfo || gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("callback got %q -> %q, want info -> debug", gotOld.Server.LogLevel, gotNew.Server.LogLevel)
	}
	if d := config.Diff(gotOld, gotNew); !d.ScriptChanged || len(d.StageChanges) != 2 {
		t.Errorf("diff = %+v, want script change with 2 stage changes", d)
	}
	if w.Current() != gotNew {
		t.Error("Current() should return the reloaded config")
	}
}

func TestWatcher_InvalidEditKeepsConfig(t *testing.T) {
	t.Parallel()

	calls := 0
	w, path := newTestWatcher(t, watcherValidYAML, func(_, _ *config.Config) { calls++ })

	writeFile(t, path, watcherInvalidYAML)
	if _, err := w.Reload(); err == nil {
		t.Fatal("Reload should reject an invalid edit")
	}
	// The same bad version is not reported twice.
	if changed, err := w.Reload(); changed || err != nil {
		t.Errorf("second Reload = (%v, %v), want (false, nil)", changed, err)
	}
	if calls != 0 {
		t.Errorf("onChange calls = %d, want 0", calls)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous config", w.Current().Server.LogLevel)
	}

	// Fixing the file is picked up.
	writeFile(t, path, watcherUpdatedYAML)
	if changed, err := w.Reload(); !changed || err != nil {
		t.Errorf("Reload after fix = (%v, %v), want (true, nil)", changed, err)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	calls := 0
	w, path := newTestWatcher(t, watcherValidYAML, func(_, _ *config.Config) { calls++ })

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if changed, err := w.Reload(); changed || err != nil {
		t.Errorf("Reload after touch = (%v, %v), want (false, nil)", changed, err)
	}
	if calls != 0 {
		t.Errorf("onChange calls = %d, want 0", calls)
	}
}

func TestWatcher_PollsInBackground(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	var mu sync.Mutex
	var level config.LogLevel
	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		mu.Lock()
		level = new.Server.LogLevel
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, watcherUpdatedYAML)
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("background poll did not pick up the edit")
	}
	mu.Lock()
	defer mu.Unlock()
	if level != config.LogDebug {
		t.Errorf("reloaded log_level = %q, want debug", level)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)
	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
	w.Stop()
}
