// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher polls the configuration file and any extra paths (the skills
// directory, typically) and notifies listeners when one of them changes.
// A directory counts as changed when any file below it does.
type Watcher struct {
	mu          sync.RWMutex
	configPath  string
	overrides   []string
	paths       []string
	interval    time.Duration
	lastModTime map[string]time.Time
	config      *Config
	listeners   []func(*Config)
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatchPaths adds paths whose changes trigger a reload.
func WithWatchPaths(paths ...string) WatcherOption {
	return func(w *Watcher) {
		w.paths = append(w.paths, paths...)
	}
}

// WithWatchOverrides reapplies key=value overrides on every reload.
func WithWatchOverrides(overrides []string) WatcherOption {
	return func(w *Watcher) {
		w.overrides = append([]string(nil), overrides...)
	}
}

// NewWatcher loads configPath and prepares to watch it. configPath may be
// empty when only extra paths are watched.
func NewWatcher(configPath string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		configPath:  configPath,
		interval:    1 * time.Second,
		lastModTime: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      slog.Default(),
	}
	if configPath != "" {
		w.paths = append(w.paths, configPath)
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, path := range w.paths {
		if mod, ok := latestModTime(path); ok {
			w.lastModTime[path] = mod
		}
	}

	cfg, err := LoadWithOverrides(w.configPath, w.overrides)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers a callback to be called when config changes.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops a started watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				w.Reload()
			}
		}
	}
}

func (w *Watcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, path := range w.paths {
		mod, ok := latestModTime(path)
		if !ok {
			continue
		}
		lastMod, exists := w.lastModTime[path]
		if !exists || mod.After(lastMod) {
			w.lastModTime[path] = mod
			changed = true
		}
	}
	return changed
}

// Reload loads the configuration again and notifies listeners. A load
// failure keeps the previous configuration.
func (w *Watcher) Reload() {
	w.logger.Info("config.reload", "path", w.configPath)

	cfg, err := LoadWithOverrides(w.configPath, w.overrides)
	if err != nil {
		w.logger.Error("config.reload_error", "path", w.configPath, "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// latestModTime returns the newest modification time at or below path.
func latestModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	latest := info.ModTime()
	if !info.IsDir() {
		return latest, true
	}
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if fi, err := d.Info(); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
		return nil
	})
	return latest, true
}
