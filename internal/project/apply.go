package project

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/starford/scriptorium/internal/crawl"
)

// The insert and remove helpers below must be called with p.mu held for
// writing. They append the events to publish once the lock is released.

func (p *Project) insertFolder(gen uint64, e crawl.Entry, events *[]Event) {
	// Entries of a crawl started under an older hidden-file policy.
	if p.excluded(e.Path) {
		return
	}
	if f, ok := p.folders[e.Path]; ok {
		// Only ever raises Modified; children keep driving it otherwise.
		if e.Modified.After(f.Modified) {
			p.propagate(f.Path, e.Modified, events)
		}
		return
	}

	parentPath := filepath.Dir(e.Path)
	parent, ok := p.folders[parentPath]
	if !ok {
		p.orphans[parentPath] = append(p.orphans[parentPath], orphan{gen: gen, entry: e})
		return
	}
	if _, ok := p.documents[e.Path]; ok {
		p.removeDocument(e.Path, events)
	}

	depth := parent.Depth + 1
	if e.Depth != depth {
		p.logger.Warn("project: crawl depth mismatch",
			slog.String("path", e.Path), slog.Int("reported", e.Depth), slog.Int("expected", depth))
	}

	name := filepath.Base(e.Path)
	node := newFolderNode(Folder{
		Path:         e.Path,
		Name:         name,
		Depth:        depth,
		Kind:         Subfolder,
		Parent:       parentPath,
		Modified:     e.Modified,
		CollationKey: p.coll.Key(name),
	})
	p.folders[e.Path] = node
	parent.folders[e.Path] = struct{}{}
	*events = append(*events, FolderAdded{Folder: node.Folder})

	p.propagate(parentPath, e.Modified, events)
	p.adoptOrphans(e.Path, events)
}

func (p *Project) insertDocument(gen uint64, e crawl.Entry, events *[]Event) {
	if p.excluded(e.Path) {
		return
	}
	if d, ok := p.documents[e.Path]; ok {
		if e.Modified.After(d.Modified) {
			d.Modified = e.Modified
			*events = append(*events, MetadataChanged{Path: d.Path, Modified: d.Modified})
			p.propagate(d.Parent, e.Modified, events)
		}
		return
	}

	parentPath := filepath.Dir(e.Path)
	parent, ok := p.folders[parentPath]
	if !ok {
		p.orphans[parentPath] = append(p.orphans[parentPath], orphan{gen: gen, entry: e})
		return
	}
	if _, ok := p.folders[e.Path]; ok {
		p.removeFolder(e.Path, events)
	}

	depth := parent.Depth + 1
	if e.Depth != depth {
		p.logger.Warn("project: crawl depth mismatch",
			slog.String("path", e.Path), slog.Int("reported", e.Depth), slog.Int("expected", depth))
	}

	s := stem(filepath.Base(e.Path))
	doc := &Document{
		Path:         e.Path,
		Stem:         s,
		Depth:        depth,
		Parent:       parentPath,
		Modified:     e.Modified,
		CollationKey: p.coll.Key(s),
	}
	p.documents[e.Path] = doc
	parent.documents[e.Path] = struct{}{}
	*events = append(*events, DocumentAdded{Document: *doc})

	p.propagate(parentPath, e.Modified, events)
}

// propagate raises Modified on the folder at path and its ancestors until
// it meets one that is already at least m.
func (p *Project) propagate(path string, m time.Time, events *[]Event) {
	for {
		f, ok := p.folders[path]
		if !ok || !m.After(f.Modified) {
			return
		}
		f.Modified = m
		*events = append(*events, MetadataChanged{Path: path, Modified: m})
		if f.IsRoot() {
			return
		}
		path = f.Parent
	}
}

// adoptOrphans applies entries that arrived before the folder at path.
func (p *Project) adoptOrphans(path string, events *[]Event) {
	pending, ok := p.orphans[path]
	if !ok {
		return
	}
	delete(p.orphans, path)
	for _, o := range pending {
		switch o.entry.Kind {
		case crawl.Dir:
			p.insertFolder(o.gen, o.entry, events)
		case crawl.File:
			p.insertDocument(o.gen, o.entry, events)
		}
	}
}

// dropOrphans discards entries of the finished crawl, and of older ones,
// whose parent never appeared. This means the tree changed under the crawl;
// the next refresh picks the entries up again if they still exist.
func (p *Project) dropOrphans(gen uint64) {
	for parent, list := range p.orphans {
		kept := list[:0]
		for _, o := range list {
			if o.gen <= gen {
				p.logger.Error("project: parent folder missing, entry skipped",
					slog.String("path", o.entry.Path), slog.String("parent", parent))
				continue
			}
			kept = append(kept, o)
		}
		if len(kept) == 0 {
			delete(p.orphans, parent)
		} else {
			p.orphans[parent] = kept
		}
	}
}

// prune removes every tracked entry that vanished from disk or is now
// excluded by the hidden-file policy. Removal cascades bottom-up.
func (p *Project) prune(events *[]Event) {
	var dirs []string
	for path, f := range p.folders {
		if f.IsRoot() {
			continue
		}
		if p.excluded(path) || !isDir(path) {
			dirs = append(dirs, path)
		}
	}
	// Shallow first, so a removed ancestor takes its subtree with it.
	sort.Slice(dirs, func(i, j int) bool {
		return p.folders[dirs[i]].Depth < p.folders[dirs[j]].Depth
	})
	for _, path := range dirs {
		p.removeFolder(path, events)
	}

	var docs []string
	for path := range p.documents {
		if p.excluded(path) || !isDocumentFile(path) {
			docs = append(docs, path)
		}
	}
	sort.Strings(docs)
	for _, path := range docs {
		p.removeDocument(path, events)
	}
}

func (p *Project) removeFolder(path string, events *[]Event) {
	f, ok := p.folders[path]
	if !ok || f.IsRoot() {
		return
	}
	for child := range f.folders {
		p.removeFolder(child, events)
	}
	for doc := range f.documents {
		p.removeDocument(doc, events)
	}
	delete(p.folders, path)
	if parent, ok := p.folders[f.Parent]; ok {
		delete(parent.folders, path)
	}
	*events = append(*events, ItemRemoved{Path: path, IsDir: true})
}

func (p *Project) removeDocument(path string, events *[]Event) {
	d, ok := p.documents[path]
	if !ok {
		return
	}
	delete(p.documents, path)
	if parent, ok := p.folders[d.Parent]; ok {
		delete(parent.documents, path)
	}
	*events = append(*events, ItemRemoved{Path: path})
}

// excluded reports whether the hidden-file policy hides path. Only the
// components below the root are checked.
func (p *Project) excluded(path string) bool {
	if !p.ignoreHidden {
		return false
	}
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return false
	}
	for rel != "." && rel != "" {
		if crawl.IsHidden(filepath.Base(rel)) {
			return true
		}
		rel = filepath.Dir(rel)
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isDocumentFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && crawl.IsMarkdown(path)
}
