// Package crawl walks a directory tree in the background and reports the
// folders and markdown documents it finds.
package crawl

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a crawl entry.
type Kind int

const (
	Dir Kind = iota
	File
	// Done is always the last entry of a crawl.
	Done
)

func (k Kind) String() string {
	switch k {
	case Dir:
		return "dir"
	case File:
		return "file"
	case Done:
		return "done"
	}
	return "unknown"
}

// Entry is a single discovery reported by a crawl. Depth is the number of
// path components between the crawl root and Path.
type Entry struct {
	Kind     Kind
	Path     string
	Depth    int
	Modified time.Time
}

// DocumentExt is the recognised document extension, matched case-insensitively.
const DocumentExt = ".md"

// IsMarkdown reports whether name carries the document extension.
func IsMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), DocumentExt)
}

// IsHidden reports whether name is a dot-entry.
func IsHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

// Crawler enumerates a root directory breadth-first.
type Crawler struct {
	IgnoreHidden bool
	Logger       *slog.Logger
}

// Start launches a walk of root and returns immediately. The returned
// channel yields entries in discovery order, ends with a Done entry and is
// then closed. A directory is always reported before any of its children.
// When ctx is cancelled the channel is closed without a Done entry.
func (c Crawler) Start(ctx context.Context, root string) <-chan Entry {
	out := make(chan Entry, 64)
	go func() {
		defer close(out)
		c.walk(ctx, root, out)
		send(ctx, out, Entry{Kind: Done, Path: root})
	}()
	return out
}

// Collect runs a crawl to completion and returns every entry except Done.
func (c Crawler) Collect(ctx context.Context, root string) []Entry {
	var entries []Entry
	for e := range c.Start(ctx, root) {
		if e.Kind != Done {
			entries = append(entries, e)
		}
	}
	return entries
}

type queued struct {
	path  string
	depth int
}

func (c Crawler) walk(ctx context.Context, root string, out chan<- Entry) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queue := []queued{{path: root, depth: 0}}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir.path)
		if err != nil {
			logger.Debug("crawl: skip unreadable dir", slog.String("path", dir.path), slog.String("error", err.Error()))
			continue
		}

		for _, d := range entries {
			if ctx.Err() != nil {
				return
			}
			name := d.Name()
			if c.IgnoreHidden && IsHidden(name) {
				continue
			}
			p := filepath.Join(dir.path, name)

			info, ok := entryInfo(d, p)
			if !ok {
				continue
			}

			switch {
			case info.IsDir():
				e := Entry{Kind: Dir, Path: p, Depth: dir.depth + 1, Modified: info.ModTime()}
				if !send(ctx, out, e) {
					return
				}
				queue = append(queue, queued{path: p, depth: dir.depth + 1})
			case info.Mode().IsRegular() && IsMarkdown(name):
				e := Entry{Kind: File, Path: p, Depth: dir.depth + 1, Modified: info.ModTime()}
				if !send(ctx, out, e) {
					return
				}
			}
		}
	}
}

// entryInfo stats a directory entry. Symlinks are resolved for files only;
// a link to a directory is dropped so the walk cannot loop.
func entryInfo(d fs.DirEntry, p string) (fs.FileInfo, bool) {
	if d.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			return nil, false
		}
		return info, true
	}
	info, err := d.Info()
	if err != nil {
		// Removed between ReadDir and Info.
		return nil, false
	}
	return info, true
}

func send(ctx context.Context, out chan<- Entry, e Entry) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
