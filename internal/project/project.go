// Package project keeps an in-memory tree of the folders and markdown
// documents beneath one root directory in step with the filesystem.
//
// Concurrency model: a single run-loop goroutine (started by Start) owns
// every write to the folder and document maps. Crawls run on their own
// goroutines and hand their entries to the loop over a channel, so entries
// are applied strictly in emission order. Readers take a read lock and get
// value snapshots back. Events are published after the lock is released.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/collation"
	"github.com/starford/scriptorium/internal/crawl"
)

// FileOps performs the disk side of create and duplicate operations.
type FileOps interface {
	CreateFolder(path string) error
	CreateDocumentFile(path string) error
	CopyFile(src, dst string) error
}

// Options configures a Project.
type Options struct {
	IgnoreHidden bool
	Files        FileOps
	Collator     *collation.Collator
	Logger       *slog.Logger
}

// Project tracks one root directory.
type Project struct {
	root   string
	kind   Kind
	files  FileOps
	coll   *collation.Collator
	logger *slog.Logger
	bus    bus

	mu           sync.RWMutex
	folders      map[string]*folderNode
	documents    map[string]*Document
	ignoreHidden bool
	valid        bool
	invalidSent  bool

	// Owned by the run loop.
	orphans map[string][]orphan
	gen     uint64
	settled uint64 // newest generation whose prune has run
	waiters map[uint64][]chan error

	triggers chan struct{}
	syncs    chan chan error
	results  chan result

	lifeMu  sync.Mutex
	started bool
	stop    context.CancelFunc
	done    chan struct{}
}

type result struct {
	gen   uint64
	entry crawl.Entry
}

type orphan struct {
	gen   uint64
	entry crawl.Entry
}

// New creates a project rooted at root, which must be an absolute path.
// A root that is not a directory yields an invalid project; the
// BecameInvalid event is published on its first refresh.
func New(root string, kind Kind, opts Options) (*Project, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("project: root %q must be absolute: %w", root, apperr.ErrInvalidPath)
	}
	if kind == Subfolder {
		return nil, fmt.Errorf("project: root kind must be %s or %s", ProjectRoot, DraftsRoot)
	}
	root = filepath.Clean(root)

	p := &Project{
		root:         root,
		kind:         kind,
		files:        opts.Files,
		coll:         opts.Collator,
		logger:       opts.Logger,
		folders:      make(map[string]*folderNode),
		documents:    make(map[string]*Document),
		ignoreHidden: opts.IgnoreHidden,
		orphans:      make(map[string][]orphan),
		waiters:      make(map[uint64][]chan error),
		triggers:     make(chan struct{}, 1),
		syncs:        make(chan chan error),
		results:      make(chan result, 64),
		done:         make(chan struct{}),
	}
	if p.coll == nil {
		p.coll = collation.Default()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With(slog.String("project", root))

	if info, err := os.Stat(root); err == nil && info.IsDir() {
		p.valid = true
		name := filepath.Base(root)
		p.folders[root] = newFolderNode(Folder{
			Path:         root,
			Name:         name,
			Kind:         kind,
			Modified:     info.ModTime(),
			CollationKey: p.coll.Key(name),
		})
	}
	return p, nil
}

// Start launches the run loop. It is a no-op after the first call.
func (p *Project) Start(ctx context.Context) {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, p.stop = context.WithCancel(ctx)
	go p.run(ctx)
}

// Close stops the run loop and waits for it to exit. In-flight crawls are
// abandoned.
func (p *Project) Close() {
	p.lifeMu.Lock()
	started, stop := p.started, p.stop
	p.lifeMu.Unlock()
	if !started {
		return
	}
	stop()
	<-p.done
}

// Subscribe registers h for every event this project publishes and
// returns a function that removes it.
func (p *Project) Subscribe(h Handler) func() {
	return p.bus.subscribe(h)
}

// Refresh schedules a crawl and returns immediately. Requests made while
// one is already queued are coalesced.
func (p *Project) Refresh() {
	select {
	case p.triggers <- struct{}{}:
	default:
	}
}

// Sync runs a refresh and waits until its prune step has completed.
// It must not be called from an event handler.
func (p *Project) Sync(ctx context.Context) error {
	w := make(chan error, 1)
	select {
	case p.syncs <- w:
	case <-p.done:
		return errors.New("project: closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Project) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			for gen, ws := range p.waiters {
				for _, w := range ws {
					w <- ctx.Err()
				}
				delete(p.waiters, gen)
			}
			return
		case <-p.triggers:
			p.beginRefresh(ctx, nil)
		case w := <-p.syncs:
			p.beginRefresh(ctx, w)
		case r := <-p.results:
			p.handle(r)
		}
	}
}

func (p *Project) beginRefresh(ctx context.Context, w chan error) {
	if !p.checkRoot() {
		if w != nil {
			w <- apperr.ErrProjectInvalid
		}
		return
	}

	p.gen++
	gen := p.gen
	if w != nil {
		p.waiters[gen] = append(p.waiters[gen], w)
	}

	crawler := crawl.Crawler{IgnoreHidden: p.IgnoreHidden(), Logger: p.logger}
	entries := crawler.Start(ctx, p.root)
	p.logger.Debug("project: crawl started", slog.Uint64("gen", gen))

	go func() {
		for e := range entries {
			select {
			case p.results <- result{gen: gen, entry: e}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// checkRoot reports whether the root is still a directory. The first time
// it is found missing the project turns invalid and BecameInvalid is
// published; it never turns valid again.
func (p *Project) checkRoot() bool {
	p.mu.Lock()
	if p.valid {
		if info, err := os.Stat(p.root); err == nil && info.IsDir() {
			p.mu.Unlock()
			return true
		}
		p.valid = false
	}
	notify := !p.invalidSent
	p.invalidSent = true
	p.mu.Unlock()

	if notify {
		p.logger.Warn("project: root is no longer a directory")
		p.bus.publish(BecameInvalid{Root: p.root})
	}
	return false
}

func (p *Project) handle(r result) {
	if r.entry.Kind == crawl.Done {
		p.finish(r.gen)
		return
	}

	// An older crawl reporting after a newer one pruned is stale.
	if r.gen < p.settled {
		return
	}

	var events []Event
	p.mu.Lock()
	if p.valid {
		switch r.entry.Kind {
		case crawl.Dir:
			p.insertFolder(r.gen, r.entry, &events)
		case crawl.File:
			p.insertDocument(r.gen, r.entry, &events)
		}
	}
	p.mu.Unlock()
	p.bus.publish(events...)
}

func (p *Project) finish(gen uint64) {
	ws := p.waiters[gen]
	delete(p.waiters, gen)

	if !p.checkRoot() {
		for _, w := range ws {
			w <- apperr.ErrProjectInvalid
		}
		return
	}

	var events []Event
	p.mu.Lock()
	p.dropOrphans(gen)
	p.prune(&events)
	p.mu.Unlock()
	if gen > p.settled {
		p.settled = gen
	}

	events = append(events, RefreshDone{Root: p.root})
	p.bus.publish(events...)
	p.logger.Debug("project: crawl finished", slog.Uint64("gen", gen))

	for _, w := range ws {
		w <- nil
	}
}

// Root returns the project root path.
func (p *Project) Root() string {
	return p.root
}

// Kind returns the kind of the root folder.
func (p *Project) Kind() Kind {
	return p.kind
}

// Valid reports whether the root was a directory at the last check.
func (p *Project) Valid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.valid
}

func (p *Project) IgnoreHidden() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ignoreHidden
}

// Contains reports whether path is the root or lies beneath it.
func (p *Project) Contains(path string) bool {
	return Within(p.root, filepath.Clean(path))
}

// Folder returns the tracked folder at path.
func (p *Project) Folder(path string) (Folder, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.folders[filepath.Clean(path)]
	if !ok {
		return Folder{}, false
	}
	return f.Folder, true
}

// Document returns the tracked document at path.
func (p *Project) Document(path string) (Document, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.documents[filepath.Clean(path)]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

func (p *Project) HasFolder(path string) bool {
	_, ok := p.Folder(path)
	return ok
}

func (p *Project) HasDocument(path string) bool {
	_, ok := p.Document(path)
	return ok
}

// Folders returns every tracked folder ordered by path.
func (p *Project) Folders() []Folder {
	p.mu.RLock()
	out := make([]Folder, 0, len(p.folders))
	for _, f := range p.folders {
		out = append(out, f.Folder)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Documents returns every tracked document ordered by path.
func (p *Project) Documents() []Document {
	p.mu.RLock()
	out := make([]Document, 0, len(p.documents))
	for _, d := range p.documents {
		out = append(out, *d)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Children returns the direct subfolders and documents of the folder at
// path, each ordered by path.
func (p *Project) Children(path string) ([]Folder, []Document, bool) {
	p.mu.RLock()
	f, ok := p.folders[filepath.Clean(path)]
	if !ok {
		p.mu.RUnlock()
		return nil, nil, false
	}
	folders := make([]Folder, 0, len(f.folders))
	for c := range f.folders {
		folders = append(folders, p.folders[c].Folder)
	}
	docs := make([]Document, 0, len(f.documents))
	for c := range f.documents {
		docs = append(docs, *p.documents[c])
	}
	p.mu.RUnlock()

	sort.Slice(folders, func(i, j int) bool { return folders[i].Path < folders[j].Path })
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return folders, docs, true
}

// Counts returns the number of tracked folders (root included) and
// documents.
func (p *Project) Counts() (folders, documents int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.folders), len(p.documents)
}
