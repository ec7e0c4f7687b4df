package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the burst of events editors emit for one save.
const reloadDebounce = 250 * time.Millisecond

// ReloadFunc receives the previous and the freshly loaded configuration.
type ReloadFunc func(oldCfg, newCfg *Config)

// Watcher reloads the configuration file whenever it changes on disk.
type Watcher struct {
	path     string
	onReload ReloadFunc

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for path seeded with the already loaded configuration.
func NewWatcher(path string, current *Config, onReload ReloadFunc) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher: empty path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	// Watch the directory so atomic renames by editors are still observed.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onReload: onReload,
		current:  current,
		watcher:  fw,
	}, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	newCfg, err := LoadConfig(w.path)
	if err != nil {
		log.WithError(err).WithField("path", w.path).Error("failed to reload config, keeping previous")
		return
	}

	w.mu.Lock()
	oldCfg := w.current
	w.current = newCfg
	w.mu.Unlock()

	log.WithField("path", w.path).Info("config reloaded")
	if w.onReload != nil {
		w.onReload(oldCfg, newCfg)
	}
}
