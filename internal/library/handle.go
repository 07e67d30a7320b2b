package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/starford/scriptorium/internal/project"
)

// handle runs for every event of p, on whichever goroutine published it.
func (l *Library) handle(p *project.Project, ev project.Event) {
	l.sorter.Observe(ev)

	var extra []project.Event
	switch e := ev.(type) {
	case project.FolderAdded:
		extra = l.restoreSelection(e.Folder.Path)
	case project.DocumentAdded:
		extra = l.restoreSelection(e.Document.Path)
	case project.ItemRemoved:
		extra = l.revalidate(p, e.Path)
	case project.Selected:
		extra = l.setSelected(e.Path)

	case project.FolderRenameRequested:
		l.submitRename(p, e.Folder.Path, e.NewPath)
	case project.DocumentRenameRequested:
		l.submitRename(p, e.Document.Path, e.NewPath)
	case project.FolderTrashRequested:
		l.submitRemoval(p, e.Folder.Path, "trash", l.files.Trash)
	case project.DocumentTrashRequested:
		l.submitRemoval(p, e.Document.Path, "trash", l.files.Trash)
	case project.FolderDeleteRequested:
		l.submitRemoval(p, e.Folder.Path, "delete", l.files.Delete)
	case project.DocumentDeleteRequested:
		l.submitRemoval(p, e.Document.Path, "delete", l.files.Delete)
	case project.CloseProjectRequested:
		l.submitClose(e.Root)

	case project.BecameInvalid:
		l.logger.Warn("library: project root is gone", slog.String("root", e.Root))
	case project.NotifyErr:
		attrs := []any{slog.String("root", p.Root()), slog.String("message", e.Message)}
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}
		l.logger.Warn("library: notify", attrs...)
	}

	l.persistSelection(extra)
	l.publish(p.Root(), append([]project.Event{ev}, extra...)...)
}

func (l *Library) setSelected(path string) []project.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restore = ""
	if l.selected == path {
		return nil
	}
	l.selected = path
	return []project.Event{SelectionChanged{Path: path}}
}

// restoreSelection reselects a path that was lost to a removal or moved by
// a rename once it is tracked again.
func (l *Library) restoreSelection(path string) []project.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.restore == "" || l.restore != path {
		return nil
	}
	l.restore = ""
	l.selected = path
	return []project.Event{SelectionChanged{Path: path}}
}

// revalidate moves the selection to the nearest tracked ancestor when the
// selected item or one of its ancestors disappears. The lost path is kept
// as restore target. The open document is closed when it was removed.
func (l *Library) revalidate(p *project.Project, removed string) []project.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []project.Event
	if l.selected != "" && project.Within(removed, l.selected) {
		if l.restore == "" {
			l.restore = l.selected
		}
		fallback := filepath.Dir(removed)
		for p.Contains(fallback) && !p.HasFolder(fallback) {
			fallback = filepath.Dir(fallback)
		}
		if !p.Contains(fallback) {
			fallback = ""
		}
		l.selected = fallback
		events = append(events, SelectionChanged{Path: fallback})
	}
	if l.openDoc != "" && project.Within(removed, l.openDoc) {
		l.openDoc = ""
		events = append(events, OpenDocumentChanged{})
	}
	return events
}

// persistSelection stores the outcome of selection events in the session.
func (l *Library) persistSelection(events []project.Event) {
	if l.session == nil {
		return
	}
	for _, ev := range events {
		var err error
		switch e := ev.(type) {
		case SelectionChanged:
			err = l.session.SetSelection(e.Path)
		case OpenDocumentChanged:
			err = l.session.SetOpenDocument(e.Path)
		}
		if err != nil {
			l.logger.Warn("library: persist session", slog.String("error", err.Error()))
		}
	}
}

func (l *Library) submitRename(p *project.Project, from, to string) {
	l.worker.submit("rename", func(context.Context) error {
		if err := l.files.Rename(from, to); err != nil {
			p.ReportError(fmt.Sprintf("Could not rename %q", filepath.Base(from)), err)
			return err
		}
		l.followRename(from, to)
		l.refreshOwners(from, to)
		return nil
	})
}

// followRename points the selection and the open document at their new
// location after a successful move.
func (l *Library) followRename(from, to string) {
	moved := func(path string) (string, bool) {
		if path == "" || !project.Within(from, path) {
			return "", false
		}
		return to + path[len(from):], true
	}

	var events []project.Event
	l.mu.Lock()
	if target, ok := moved(l.selected); ok {
		l.restore = target
	} else if target, ok := moved(l.restore); ok {
		l.restore = target
	}
	if target, ok := moved(l.openDoc); ok {
		l.openDoc = target
		events = append(events, OpenDocumentChanged{Path: target})
	}
	l.mu.Unlock()

	if len(events) > 0 {
		l.persistSelection(events)
		if p, ok := l.OwningProject(to); ok {
			l.publish(p.Root(), events...)
		} else {
			l.publish("", events...)
		}
	}
}

func (l *Library) submitRemoval(p *project.Project, path, verb string, op func(string) error) {
	l.worker.submit(verb, func(context.Context) error {
		if err := op(path); err != nil {
			p.ReportError(fmt.Sprintf("Could not %s %q", verb, filepath.Base(path)), err)
			return err
		}
		l.logger.Info("library: "+verb, slog.String("path", path))
		p.Refresh()
		return nil
	})
}

func (l *Library) submitClose(root string) {
	l.worker.submit("close project", func(context.Context) error {
		return l.RemoveProject(root)
	})
}

func (l *Library) refreshOwners(paths ...string) {
	seen := make(map[*project.Project]bool)
	for _, path := range paths {
		if p, ok := l.OwningProject(path); ok && !seen[p] {
			seen[p] = true
			p.Refresh()
		}
	}
}
