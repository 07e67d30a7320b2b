// Package watch turns filesystem notifications into project refreshes.
// Notifications are only a trigger: every refresh is a full crawl, so a
// missed or coalesced event costs latency, never correctness.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/scriptorium/internal/crawl"
	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/project"
)

// Debounce is how long the watcher waits for a burst of events to settle
// before refreshing.
const Debounce = 200 * time.Millisecond

// Source is the part of the library the watcher depends on.
type Source interface {
	Projects() []*project.Project
	OwningProject(path string) (*project.Project, bool)
	Subscribe(h library.Handler) func()
	IgnoreHidden() bool
}

// dirAdder is the part of *fsnotify.Watcher used to register directories.
type dirAdder interface {
	Add(name string) error
}

// Watch watches every project root recursively until ctx is cancelled.
// Projects added or removed later and folders discovered by crawls are
// followed through library events.
func Watch(ctx context.Context, src Source, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, p := range src.Projects() {
		addDirsRecursive(w, p.Root(), src.IgnoreHidden(), logger)
	}

	unsub := src.Subscribe(func(root string, ev project.Event) {
		switch e := ev.(type) {
		case library.ProjectAdded:
			addDirsRecursive(w, e.Root, src.IgnoreHidden(), logger)
		case library.ProjectRemoved:
			removeTree(w, e.Root)
		case project.FolderAdded:
			if err := w.Add(e.Folder.Path); err != nil {
				logger.Debug("watcher: add dir failed", slog.String("path", e.Folder.Path), slog.String("error", err.Error()))
			}
		}
	})
	defer unsub()

	logger.Info("watcher: started")

	pending := make(map[*project.Project]struct{})
	var refreshTimer *time.Timer
	var refreshCh <-chan time.Time

	scheduleRefresh := func(p *project.Project) {
		pending[p] = struct{}{}
		if refreshTimer == nil {
			refreshTimer = time.NewTimer(Debounce)
			refreshCh = refreshTimer.C
		} else {
			refreshTimer.Reset(Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if refreshTimer != nil {
				refreshTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-refreshCh:
			for p := range pending {
				delete(pending, p)
				logger.Debug("watcher: refresh", slog.String("root", p.Root()))
				p.Refresh()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			// A removed or renamed root is reported on the root itself.
			p, ok := src.OwningProject(ev.Name)
			if !ok {
				continue
			}
			scheduleRefresh(p)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
// Unreadable subtrees, and hidden ones when ignoreHidden is set, are
// skipped. A directory that cannot be watched is logged and the walk goes on.
func addDirsRecursive(w dirAdder, root string, ignoreHidden bool, logger *slog.Logger) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignoreHidden && crawl.IsHidden(d.Name()) {
			return fs.SkipDir
		}
		if err := w.Add(path); err != nil {
			logger.Warn("watcher: add dir failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})
	if err != nil {
		logger.Warn("watcher: watch project failed", slog.String("root", root), slog.String("error", err.Error()))
	}
}

func removeTree(w *fsnotify.Watcher, root string) {
	for _, path := range w.WatchList() {
		if project.Within(root, path) {
			_ = w.Remove(path)
		}
	}
}
