// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow absorbs the burst of events a single save often
// produces (write + chmod, or a temp-file-then-rename editor pattern).
const debounceWindow = 300 * time.Millisecond

// Watcher reloads Config whenever the global or project config file
// changes on disk. It is optional: if fsnotify.NewWatcher fails (for
// example inside a container without inotify), NewWatcher returns a
// nil *Watcher and callers fall back to explicit/polled reload.
type Watcher struct {
	watcher *fsnotify.Watcher
	home    string
	cwd     string
	logger  *slog.Logger

	mu      sync.Mutex
	current Config
	onReload func(Config)
}

// NewWatcher starts watching the global and project config file paths
// for home/cwd. onReload, if non-nil, is called with the freshly
// resolved Config after each debounced change. Returns nil, err if the
// underlying OS watcher could not be created.
func NewWatcher(home, cwd string, logger *slog.Logger, onReload func(Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		home:     home,
		cwd:      cwd,
		logger:   logger,
		current:  Load(home, cwd, logger),
		onReload: onReload,
	}

	// Watch containing directories, not the files themselves: editors
	// routinely replace a file via rename, which drops a direct watch
	// on the old inode.
	for _, dir := range []string{GlobalPath(home), ProjectPath(cwd)} {
		_ = fw.Add(filepath.Dir(dir))
	}

	return w, nil
}

// Current returns the most recently resolved Config.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run consumes filesystem events until ctx is canceled, debouncing
// bursts of writes into a single reload.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var pending bool
	var lastEvent time.Time

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isConfigPath(event.Name, w.home, w.cwd) {
				continue
			}
			pending = true
			lastEvent = time.Now()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-ticker.C:
			if pending && time.Since(lastEvent) >= debounceWindow {
				pending = false
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg := Load(w.home, w.cwd, w.logger)
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logger.Info("config reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

func isConfigPath(name, home, cwd string) bool {
	return name == GlobalPath(home) || name == ProjectPath(cwd)
}
