package library

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/project"
	"github.com/starford/scriptorium/internal/sorting"
)

// Entry is a flattened view of one folder or document.
type Entry struct {
	Root     string       `json:"root"`
	Path     string       `json:"path"`
	Name     string       `json:"name"`
	Depth    int          `json:"depth"`
	IsDir    bool         `json:"is_dir"`
	Kind     project.Kind `json:"kind"`
	Modified time.Time    `json:"modified"`
}

func folderEntry(root string, f project.Folder) Entry {
	return Entry{Root: root, Path: f.Path, Name: f.Name, Depth: f.Depth, IsDir: true, Kind: f.Kind, Modified: f.Modified}
}

func documentEntry(root string, d project.Document) Entry {
	return Entry{Root: root, Path: d.Path, Name: filepath.Base(d.Path), Depth: d.Depth, Modified: d.Modified}
}

// Tree returns every tracked item of every project. Projects follow the
// order of Projects; items within a project are ordered by m.
func (l *Library) Tree(m sorting.Method) []Entry {
	var out []Entry
	for _, p := range l.Projects() {
		out = append(out, l.projectTree(p, m)...)
	}
	return out
}

func (l *Library) projectTree(p *project.Project, m sorting.Method) []Entry {
	root := p.Root()
	byPath := make(map[string]Entry)
	var paths []string
	for _, f := range p.Folders() {
		byPath[f.Path] = folderEntry(root, f)
		paths = append(paths, f.Path)
	}
	for _, d := range p.Documents() {
		byPath[d.Path] = documentEntry(root, d)
		paths = append(paths, d.Path)
	}
	l.sorter.Sort(m, paths)

	out := make([]Entry, len(paths))
	for i, path := range paths {
		out[i] = byPath[path]
	}
	return out
}

// Children returns the direct children of the folder at path ordered by m.
func (l *Library) Children(path string, m sorting.Method) ([]Entry, error) {
	p, err := l.owner(path)
	if err != nil {
		return nil, err
	}
	folders, docs, ok := p.Children(path)
	if !ok {
		return nil, fmt.Errorf("library: folder %s: %w", filepath.Clean(path), apperr.ErrNotFound)
	}

	root := p.Root()
	byPath := make(map[string]Entry, len(folders)+len(docs))
	paths := make([]string, 0, len(folders)+len(docs))
	for _, f := range folders {
		byPath[f.Path] = folderEntry(root, f)
		paths = append(paths, f.Path)
	}
	for _, d := range docs {
		byPath[d.Path] = documentEntry(root, d)
		paths = append(paths, d.Path)
	}
	l.sorter.Sort(m, paths)

	out := make([]Entry, len(paths))
	for i, path := range paths {
		out[i] = byPath[path]
	}
	return out, nil
}

// Item describes the tracked folder or document at path.
func (l *Library) Item(path string) (Entry, error) {
	p, err := l.owner(path)
	if err != nil {
		return Entry{}, err
	}
	if f, ok := p.Folder(path); ok {
		return folderEntry(p.Root(), f), nil
	}
	if d, ok := p.Document(path); ok {
		return documentEntry(p.Root(), d), nil
	}
	return Entry{}, fmt.Errorf("library: %s: %w", filepath.Clean(path), apperr.ErrNotFound)
}
