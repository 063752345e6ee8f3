package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher reloads a config file when its content changes so a running agent
// can pick up script and call-setting edits between calls.
//
// An edit that fails to parse or validate is logged once and otherwise
// ignored; [Watcher.Current] keeps returning the last good config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fileVersion

	cancel context.CancelFunc
	exited chan struct{}
}

// fileVersion identifies one state of the watched file. modTime and size are
// a cheap pre-check; sum decides whether the content really changed.
type fileVersion struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

func (v fileVersion) sameStat(info os.FileInfo) bool {
	return v.modTime.Equal(info.ModTime()) && v.size == info.Size()
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it in the background. onChange,
// which may be nil, runs on the polling goroutine after each accepted reload.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, v, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, v

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight reload to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.exited
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.exited)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config reload rejected, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload checks the file once. It reports whether a new config was accepted,
// in which case onChange has already run. A file whose content is unchanged
// is not parsed. A rejected version is remembered, so it is reported once
// rather than on every poll.
func (w *Watcher) Reload() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	unchanged := w.seen.sameStat(info)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, err
	}
	v := fileVersion{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}

	w.mu.Lock()
	if bytes.Equal(v.sum[:], w.seen.sum[:]) {
		w.seen = v
		w.mu.Unlock()
		return false, nil
	}
	w.seen = v
	w.mu.Unlock()

	cfg, err := loadBytes(data)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fileVersion, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, fileVersion{}, err
	}
	return cfg, fileVersion{modTime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
