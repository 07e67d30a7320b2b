package library

import (
	"fmt"
	"path/filepath"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/checksum"
	"github.com/starford/scriptorium/internal/project"
	"github.com/starford/scriptorium/internal/storage"
)

// Select selects a tracked folder or document.
func (l *Library) Select(path string) error {
	p, err := l.owner(path)
	if err != nil {
		return err
	}
	return p.Select(path)
}

// Selected returns the selected path or "".
func (l *Library) Selected() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selected
}

// SetOpenDocument marks a tracked document as the one open in the editor.
// An empty path closes it.
func (l *Library) SetOpenDocument(path string) error {
	root := ""
	if path != "" {
		path = filepath.Clean(path)
		p, err := l.owner(path)
		if err != nil {
			return err
		}
		if !p.HasDocument(path) {
			return fmt.Errorf("library: document %s: %w", path, apperr.ErrNotFound)
		}
		root = p.Root()
	}

	l.mu.Lock()
	changed := l.openDoc != path
	l.openDoc = path
	l.mu.Unlock()
	if changed {
		events := []project.Event{OpenDocumentChanged{Path: path}}
		l.persistSelection(events)
		l.publish(root, events...)
	}
	return nil
}

func (l *Library) OpenDocument() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.openDoc
}

// Rename asks the owning project to move path to newPath. The move itself
// happens in the background.
func (l *Library) Rename(path, newPath string) error {
	p, err := l.owner(path)
	if err != nil {
		return err
	}
	return p.Rename(path, newPath)
}

func (l *Library) Trash(path string) error {
	p, err := l.owner(path)
	if err != nil {
		return err
	}
	return p.Trash(path)
}

func (l *Library) Delete(path string) error {
	p, err := l.owner(path)
	if err != nil {
		return err
	}
	return p.Delete(path)
}

func (l *Library) Duplicate(path string) (string, error) {
	p, err := l.owner(path)
	if err != nil {
		return "", err
	}
	return p.Duplicate(path)
}

func (l *Library) CreateFolder(parent, name string) (string, error) {
	p, err := l.owner(parent)
	if err != nil {
		return "", err
	}
	return p.CreateSubfolder(parent, name)
}

func (l *Library) CreateDocument(parent, name string) (string, error) {
	p, err := l.owner(parent)
	if err != nil {
		return "", err
	}
	return p.CreateDocument(parent, name)
}

// RequestClose asks the project rooted at root to close. The drafts project
// is refused with ErrDraftsProject; RemoveProject closes it directly.
func (l *Library) RequestClose(root string) error {
	p, err := l.owner(root)
	if err != nil {
		return err
	}
	if filepath.Clean(root) == l.drafts {
		return fmt.Errorf("library: close %s: %w", l.drafts, apperr.ErrDraftsProject)
	}
	return p.RequestClose(root)
}

// ReadDocument returns the content of a tracked document and its checksum.
func (l *Library) ReadDocument(path string) ([]byte, string, error) {
	if !l.HasDocument(path) {
		return nil, "", fmt.Errorf("library: document %s: %w", filepath.Clean(path), apperr.ErrNotFound)
	}
	data, err := l.files.Read(filepath.Clean(path))
	if err != nil {
		return nil, "", fmt.Errorf("library: read %s: %w", path, err)
	}
	return data, checksum.Sum(data), nil
}

// SaveDocument writes content to a tracked document and returns the new
// checksum. When ifMatch is set it must equal the checksum of the current
// content, otherwise ErrConflict is returned and nothing is written.
func (l *Library) SaveDocument(path string, content []byte, ifMatch string) (string, error) {
	path = filepath.Clean(path)
	p, err := l.owner(path)
	if err != nil {
		return "", err
	}
	if !p.HasDocument(path) {
		return "", fmt.Errorf("library: document %s: %w", path, apperr.ErrNotFound)
	}
	if ifMatch != "" {
		current, err := l.files.Read(path)
		if err != nil {
			return "", fmt.Errorf("library: read %s: %w", path, err)
		}
		if !checksum.Matches(current, ifMatch) {
			return "", fmt.Errorf("library: save %s: %w", path, apperr.ErrConflict)
		}
	}
	if err := l.files.Write(path, content); err != nil {
		p.ReportError(fmt.Sprintf("Could not save %q", filepath.Base(path)), err)
		return "", fmt.Errorf("library: save %s: %w", path, err)
	}
	p.Refresh()
	return checksum.Sum(content), nil
}

// Trashed lists the items moved to the trash, newest first. Storage
// backends without a trash listing report none.
func (l *Library) Trashed() ([]storage.TrashItem, error) {
	lister, ok := l.files.(interface {
		TrashItems() ([]storage.TrashItem, error)
	})
	if !ok {
		return nil, nil
	}
	items, err := lister.TrashItems()
	if err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}
	return items, nil
}
