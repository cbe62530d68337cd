package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// ReloadFunc receives the config in effect before and after an edit was
// adopted. The two differ only in hot-reloadable fields.
type ReloadFunc func(old, new *Config)

// Watcher polls a config file and hands the running service the settings it
// can change live.
//
// Each valid edit is compared with the config in effect using [Diff]. Log
// level, master gain and sonifier changes are adopted and passed to the
// [ReloadFunc]. Fields that need a restart (listener, audio device and
// format, mixer sizing, feed) are never adopted: [Watcher.Current] keeps
// reporting what the service runs with and [Watcher.Pending] lists what a
// restart would change. Invalid edits are logged once and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	pending []string
	seen    fileStamp

	done     chan struct{}
	stopOnce sync.Once
}

// fileStamp identifies one version of the config file.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and returns a watcher for it. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = stamp
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Pending returns the restart-only fields on which the file differs from
// the config in effect.
func (w *Watcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.pending)
}

// Stop ends [Watcher.Run]. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Run polls the config file until ctx is cancelled or [Watcher.Stop] is
// called. It always returns nil so it can run in an errgroup.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: cannot stat watched file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	touched := !info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if !touched {
		return
	}

	data, stamp, err := w.read()
	if err != nil {
		slog.Warn("config: cannot read watched file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	changed := stamp.sum != w.seen.sum
	w.seen = stamp
	w.mu.Unlock()
	if !changed {
		return
	}

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config: ignoring invalid edit", "path", w.path, "err", err)
		return
	}
	w.adopt(next)
}

// adopt applies the hot-reloadable part of next.
func (w *Watcher) adopt(next *Config) {
	w.mu.Lock()
	prev := w.current
	d := Diff(prev, next)
	w.pending = d.RestartRequired
	var applied *Config
	if d.Live() {
		applied = d.Apply(prev)
		w.current = applied
	}
	w.mu.Unlock()

	if len(d.RestartRequired) > 0 {
		slog.Warn("config: edit takes effect after a restart", "path", w.path, "fields", d.RestartRequired)
	}
	if applied == nil {
		return
	}
	slog.Info("config: reloaded", "path", w.path,
		"log_level", d.LogLevelChanged, "gain", d.GainChanged, "sonifier", d.SonifierChanged)
	if w.onReload != nil {
		w.onReload(prev, applied)
	}
}

// read returns the file contents and their stamp.
func (w *Watcher) read() ([]byte, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return data, fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
