package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"vramd/internal/catalog"
)

const watchDebounce = 250 * time.Millisecond

// DiskWatcher re-derives states when weights appear or vanish under the
// models root outside the manager's own operations.
type DiskWatcher struct {
	m       *Manager
	watcher *fsnotify.Watcher
	names   map[string]bool
}

// WatchDisk starts watching the models root. The returned watcher stops when
// ctx is canceled.
func (m *Manager) WatchDisk(ctx context.Context) (*DiskWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(m.root); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", m.root, err)
	}
	dw := &DiskWatcher{m: m, watcher: w, names: watchedNames(m.cat)}
	go dw.run(ctx)
	return dw, nil
}

// watchedNames returns the top-level entries under the root that belong to a
// descriptor: the weights (or their first directory) and the legacy sidecar.
func watchedNames(c *catalog.Catalog) map[string]bool {
	names := make(map[string]bool)
	for _, d := range c.All() {
		first := strings.SplitN(filepath.ToSlash(filepath.Clean(d.Filename)), "/", 2)[0]
		names[first] = true
		names[filepath.Base(d.Filename)+catalog.LegacySuffix] = true
	}
	return names
}

func (w *DiskWatcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return w.names[filepath.Base(ev.Name)]
}

func (w *DiskWatcher) run(ctx context.Context) {
	defer w.watcher.Close()
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(ev) && !pending {
				pending = true
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.m.log.Warn().Err(err).Msg("disk watcher")
		case <-timer.C:
			pending = false
			for id, st := range w.m.Refresh() {
				w.m.publish("disk_changed", id, map[string]any{"state": string(st)})
			}
		}
	}
}
