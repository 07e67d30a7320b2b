package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/crawl"
)

var errNoFileOps = errors.New("project: no file operations configured")

// numberedRe matches a stem that already carries a " (N)" suffix.
var numberedRe = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// lookup resolves path to a folder or document snapshot.
func (p *Project) lookup(path string) (*Folder, *Document, error) {
	path = filepath.Clean(path)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if f, ok := p.folders[path]; ok {
		folder := f.Folder
		return &folder, nil, nil
	}
	if d, ok := p.documents[path]; ok {
		doc := *d
		return nil, &doc, nil
	}
	return nil, nil, fmt.Errorf("project: %s: %w", path, apperr.ErrNotFound)
}

// Select publishes a Selected event for a tracked path. Selection
// bookkeeping belongs to the subscriber.
func (p *Project) Select(path string) error {
	if _, _, err := p.lookup(path); err != nil {
		return err
	}
	p.bus.publish(Selected{Path: filepath.Clean(path)})
	return nil
}

// Rename validates a move of path to newPath and publishes the matching
// rename request. A relative newPath is resolved against the working
// directory; its parent must be an existing directory.
func (p *Project) Rename(path, newPath string) error {
	f, d, err := p.lookup(path)
	if err != nil {
		return err
	}
	if f != nil && f.IsRoot() {
		return fmt.Errorf("project: rename %s: %w", f.Path, apperr.ErrIsRootDir)
	}
	newPath, err = filepath.Abs(newPath)
	if err != nil {
		return fmt.Errorf("project: rename target: %w", apperr.ErrInvalidPath)
	}
	if !isDir(filepath.Dir(newPath)) {
		return fmt.Errorf("project: rename target parent %s: %w", filepath.Dir(newPath), apperr.ErrInvalidPath)
	}

	if f != nil {
		p.bus.publish(FolderRenameRequested{Folder: *f, NewPath: newPath})
	} else {
		p.bus.publish(DocumentRenameRequested{Document: *d, NewPath: newPath})
	}
	return nil
}

// Trash publishes a trash request for path.
func (p *Project) Trash(path string) error {
	f, d, err := p.lookup(path)
	if err != nil {
		return err
	}
	if f != nil {
		if f.IsRoot() {
			return fmt.Errorf("project: trash %s: %w", f.Path, apperr.ErrIsRootDir)
		}
		p.bus.publish(FolderTrashRequested{Folder: *f})
		return nil
	}
	p.bus.publish(DocumentTrashRequested{Document: *d})
	return nil
}

// Delete publishes a permanent delete request for path.
func (p *Project) Delete(path string) error {
	f, d, err := p.lookup(path)
	if err != nil {
		return err
	}
	if f != nil {
		if f.IsRoot() {
			return fmt.Errorf("project: delete %s: %w", f.Path, apperr.ErrIsRootDir)
		}
		p.bus.publish(FolderDeleteRequested{Folder: *f})
		return nil
	}
	p.bus.publish(DocumentDeleteRequested{Document: *d})
	return nil
}

// RequestClose publishes a close request. path must be the project root.
func (p *Project) RequestClose(path string) error {
	f, _, err := p.lookup(path)
	if err != nil {
		return err
	}
	if f == nil || !f.IsRoot() {
		return fmt.Errorf("project: close %s: %w", filepath.Clean(path), apperr.ErrNotRootDir)
	}
	p.bus.publish(CloseProjectRequested{Root: p.root})
	return nil
}

// Duplicate copies the document at path next to itself under the next free
// numbered name and returns the new path.
func (p *Project) Duplicate(path string) (string, error) {
	f, d, err := p.lookup(path)
	if err != nil {
		return "", err
	}
	if f != nil {
		if f.IsRoot() {
			return "", fmt.Errorf("project: duplicate %s: %w", f.Path, apperr.ErrIsRootDir)
		}
		return "", fmt.Errorf("project: duplicate %s: only documents can be duplicated: %w", f.Path, apperr.ErrInvalidPath)
	}
	if p.files == nil {
		return "", errNoFileOps
	}

	ext := filepath.Ext(d.Path)
	base, start := d.Stem, 2
	if m := numberedRe.FindStringSubmatch(d.Stem); m != nil {
		n, _ := strconv.Atoi(m[2])
		base, start = m[1], n+1
	}
	target := freeName(filepath.Dir(d.Path), base, ext, start, false)

	if err := p.files.CopyFile(d.Path, target); err != nil {
		p.ReportError(fmt.Sprintf("Could not duplicate %q", filepath.Base(d.Path)), err)
		return "", fmt.Errorf("project: duplicate %s: %w", d.Path, err)
	}
	p.bus.publish(Duplicated{Source: d.Path, Target: target})
	p.Refresh()
	return target, nil
}

// CreateSubfolder creates a directory called name inside the folder at
// parent, numbering the name if it is taken, and returns its path.
func (p *Project) CreateSubfolder(parent, name string) (string, error) {
	dir, name, err := p.createTarget(parent, name)
	if err != nil {
		return "", err
	}
	target := freeName(dir, name, "", 2, true)

	if err := p.files.CreateFolder(target); err != nil {
		p.ReportError(fmt.Sprintf("Could not create folder %q", filepath.Base(target)), err)
		return "", fmt.Errorf("project: create folder %s: %w", target, err)
	}
	p.bus.publish(ItemCreated{Path: target, IsDir: true})
	p.Refresh()
	return target, nil
}

// CreateDocument creates a markdown document called name inside the folder
// at parent and returns its path. The document extension is added when
// name lacks it.
func (p *Project) CreateDocument(parent, name string) (string, error) {
	dir, name, err := p.createTarget(parent, name)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(name)
	base := name
	if crawl.IsMarkdown(name) {
		base = strings.TrimSuffix(name, ext)
	} else {
		ext = crawl.DocumentExt
	}
	target := freeName(dir, base, ext, 2, true)

	if err := p.files.CreateDocumentFile(target); err != nil {
		p.ReportError(fmt.Sprintf("Could not create document %q", filepath.Base(target)), err)
		return "", fmt.Errorf("project: create document %s: %w", target, err)
	}
	p.bus.publish(ItemCreated{Path: target})
	p.Refresh()
	return target, nil
}

// createTarget validates a new entry name and returns the parent folder
// path together with the trimmed name.
func (p *Project) createTarget(parent, name string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return "", "", fmt.Errorf("project: name %q: %w", name, apperr.ErrInvalidPath)
	}
	f, ok := p.Folder(parent)
	if !ok {
		return "", "", fmt.Errorf("project: folder %s: %w", filepath.Clean(parent), apperr.ErrNotFound)
	}
	if p.files == nil {
		return "", "", errNoFileOps
	}
	return f.Path, name, nil
}

// SetIgnoreHidden changes the hidden-file policy and refreshes when it
// actually changed.
func (p *Project) SetIgnoreHidden(ignore bool) {
	p.mu.Lock()
	changed := p.ignoreHidden != ignore
	p.ignoreHidden = ignore
	p.mu.Unlock()
	if changed {
		p.Refresh()
	}
}

// ReportError publishes a user-facing NotifyErr event.
func (p *Project) ReportError(msg string, err error) {
	attrs := []any{slog.String("message", msg)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	p.logger.Warn("project: operation failed", attrs...)
	p.bus.publish(NotifyErr{Message: msg, Err: err})
}

// freeName returns the first path in dir that does not exist, trying
// base+ext first when tryBare is set and then "base (n)"+ext from start on.
func freeName(dir, base, ext string, start int, tryBare bool) string {
	if tryBare {
		candidate := filepath.Join(dir, base+ext)
		if !exists(candidate) {
			return candidate
		}
	}
	if start < 2 {
		start = 2
	}
	for n := start; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
