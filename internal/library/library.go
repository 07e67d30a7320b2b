// Package library aggregates the open projects and the built-in drafts
// root. It routes path queries to the owning project, tracks the
// selection and the open document, and carries out the rename, trash,
// delete and close requests that projects publish.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/collation"
	"github.com/starford/scriptorium/internal/project"
	"github.com/starford/scriptorium/internal/sorting"
	"github.com/starford/scriptorium/internal/state"
	"github.com/starford/scriptorium/internal/storage"
)

// Storage performs every disk operation the library needs.
type Storage interface {
	project.FileOps
	Rename(src, dst string) error
	Trash(path string) error
	Delete(path string) error
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
}

// Options configures a Library. Zero values select the defaults.
type Options struct {
	DataDir      string
	AppID        string
	IgnoreHidden bool
	Files        Storage
	Session      state.Store
	Collator     *collation.Collator
	Logger       *slog.Logger
}

type tracked struct {
	p     *project.Project
	unsub func()
}

// Library is safe for concurrent use.
type Library struct {
	files   Storage
	session state.Store
	coll    *collation.Collator
	logger  *slog.Logger
	sorter  *sorting.Cache
	drafts  string

	ctx    context.Context
	cancel context.CancelFunc
	worker *worker

	mu           sync.RWMutex
	projects     map[string]*tracked
	ignoreHidden bool
	selected     string
	restore      string
	openDoc      string
	closed       bool

	subMu  sync.RWMutex
	nextID int
	subs   []librarySub
}

type librarySub struct {
	id int
	h  Handler
}

// New opens the library: it creates the drafts root when missing and
// reopens the projects recorded in the session store.
func New(ctx context.Context, opts Options) (*Library, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AppID == "" {
		opts.AppID = DefaultAppID
	}
	if opts.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}
		opts.DataDir = dir
	}
	if opts.Collator == nil {
		opts.Collator = collation.Default()
	}
	if opts.Files == nil {
		local, err := storage.NewLocal(TrashDir(opts.DataDir, opts.AppID))
		if err != nil {
			return nil, fmt.Errorf("library: %w", err)
		}
		opts.Files = local
	}

	drafts, err := filepath.Abs(DraftsDir(opts.DataDir, opts.AppID))
	if err != nil {
		return nil, fmt.Errorf("library: drafts dir: %w", err)
	}
	if err := os.MkdirAll(drafts, 0o755); err != nil {
		return nil, fmt.Errorf("library: create drafts dir: %w", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &Library{
		files:        opts.Files,
		session:      opts.Session,
		coll:         opts.Collator,
		logger:       opts.Logger,
		sorter:       sorting.NewCache(),
		drafts:       drafts,
		ctx:          lctx,
		cancel:       cancel,
		projects:     make(map[string]*tracked),
		ignoreHidden: opts.IgnoreHidden,
	}
	l.worker = newWorker(lctx, l.logger)

	if err := l.open(drafts, project.DraftsRoot); err != nil {
		l.Close()
		return nil, err
	}
	l.restoreSession()
	return l, nil
}

func (l *Library) restoreSession() {
	if l.session == nil {
		return
	}
	// The restore target must be in place before the first crawl starts.
	if sel, err := l.session.Selection(); err == nil && sel != "" {
		l.mu.Lock()
		l.restore = sel
		l.mu.Unlock()
	}
	if doc, err := l.session.OpenDocument(); err == nil && doc != "" {
		if _, err := os.Stat(doc); err == nil {
			l.mu.Lock()
			l.openDoc = doc
			l.mu.Unlock()
		}
	}

	roots, err := l.session.Projects()
	if err != nil {
		l.logger.Error("library: load session projects", slog.String("error", err.Error()))
	}
	for _, root := range roots {
		if err := l.open(root, project.ProjectRoot); err != nil {
			l.logger.Warn("library: dropping stored project",
				slog.String("root", root), slog.String("error", err.Error()))
			if err := l.session.RemoveProject(root); err != nil {
				l.logger.Warn("library: forget project", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops the request worker and every project.
func (l *Library) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	projects := l.projects
	l.projects = make(map[string]*tracked)
	l.mu.Unlock()

	l.worker.shutdown()
	for _, t := range projects {
		t.unsub()
		t.p.Close()
	}
	l.cancel()
}

// Subscribe registers h for all project and library events and returns a
// function that removes it.
func (l *Library) Subscribe(h Handler) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, librarySub{id: id, h: h})
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

func (l *Library) publish(root string, events ...project.Event) {
	l.subMu.RLock()
	subs := make([]librarySub, len(l.subs))
	copy(subs, l.subs)
	l.subMu.RUnlock()
	for _, ev := range events {
		for _, s := range subs {
			s.h(root, ev)
		}
	}
}

// AddProject starts tracking root. A root that equals, contains or lies
// inside an open project is rejected with ErrOverlappingProject.
func (l *Library) AddProject(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("library: add project %q: %w", root, apperr.ErrInvalidPath)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return fmt.Errorf("library: add project %s: %w", abs, apperr.ErrProjectInvalid)
	}
	if err := l.open(abs, project.ProjectRoot); err != nil {
		return err
	}
	if l.session != nil {
		if err := l.session.AddProject(abs); err != nil {
			l.logger.Warn("library: persist project", slog.String("root", abs), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (l *Library) open(root string, kind project.Kind) error {
	root = filepath.Clean(root)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("library: closed")
	}
	for existing := range l.projects {
		if project.Within(existing, root) || project.Within(root, existing) {
			l.mu.Unlock()
			return fmt.Errorf("library: add project %s overlaps %s: %w", root, existing, apperr.ErrOverlappingProject)
		}
	}
	p, err := project.New(root, kind, project.Options{
		IgnoreHidden: l.ignoreHidden,
		Files:        l.files,
		Collator:     l.coll,
		Logger:       l.logger,
	})
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("library: %w", err)
	}
	t := &tracked{p: p}
	t.unsub = p.Subscribe(func(ev project.Event) { l.handle(p, ev) })
	l.projects[root] = t
	l.mu.Unlock()

	if f, ok := p.Folder(root); ok {
		l.sorter.SetFolder(f)
	}
	p.Start(l.ctx)
	l.logger.Info("library: project opened", slog.String("root", root), slog.String("kind", kind.String()))
	l.publish(root, ProjectAdded{Root: root})
	p.Refresh()
	return nil
}

// RemoveProject stops tracking the project at root, the drafts project
// included.
func (l *Library) RemoveProject(root string) error {
	root = filepath.Clean(root)

	l.mu.Lock()
	t, ok := l.projects[root]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("library: project %s: %w", root, apperr.ErrNotFound)
	}
	delete(l.projects, root)
	var events []project.Event
	if l.selected != "" && project.Within(root, l.selected) {
		l.selected = ""
		events = append(events, SelectionChanged{})
	}
	if l.restore != "" && project.Within(root, l.restore) {
		l.restore = ""
	}
	if l.openDoc != "" && project.Within(root, l.openDoc) {
		l.openDoc = ""
		events = append(events, OpenDocumentChanged{})
	}
	l.mu.Unlock()

	t.unsub()
	t.p.Close()
	l.sorter.Remove(root)

	if l.session != nil {
		if err := l.session.RemoveProject(root); err != nil {
			l.logger.Warn("library: forget project", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
	l.persistSelection(events)
	l.logger.Info("library: project closed", slog.String("root", root))
	l.publish(root, append([]project.Event{ProjectRemoved{Root: root}}, events...)...)
	return nil
}

// DraftsRoot returns the path of the built-in drafts project.
func (l *Library) DraftsRoot() string {
	return l.drafts
}

// Projects returns the open projects, drafts first and the rest ordered by
// root path.
func (l *Library) Projects() []*project.Project {
	l.mu.RLock()
	out := make([]*project.Project, 0, len(l.projects))
	for _, t := range l.projects {
		out = append(out, t.p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Kind() == project.DraftsRoot, out[j].Kind() == project.DraftsRoot
		if di != dj {
			return di
		}
		return out[i].Root() < out[j].Root()
	})
	return out
}

// Project returns the project rooted exactly at root.
func (l *Library) Project(root string) (*project.Project, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.projects[filepath.Clean(root)]
	if !ok {
		return nil, false
	}
	return t.p, true
}

// OwningProject returns the project whose root is path or an ancestor of it.
func (l *Library) OwningProject(path string) (*project.Project, bool) {
	path = filepath.Clean(path)
	l.mu.RLock()
	defer l.mu.RUnlock()
	for root, t := range l.projects {
		if project.Within(root, path) {
			return t.p, true
		}
	}
	return nil, false
}

func (l *Library) owner(path string) (*project.Project, error) {
	p, ok := l.OwningProject(path)
	if !ok {
		return nil, fmt.Errorf("library: %s: %w", filepath.Clean(path), apperr.ErrNotFound)
	}
	return p, nil
}

func (l *Library) HasDocument(path string) bool {
	p, ok := l.OwningProject(path)
	return ok && p.HasDocument(path)
}

func (l *Library) HasFolder(path string) bool {
	p, ok := l.OwningProject(path)
	return ok && p.HasFolder(path)
}

func (l *Library) Folder(path string) (project.Folder, bool) {
	p, ok := l.OwningProject(path)
	if !ok {
		return project.Folder{}, false
	}
	return p.Folder(path)
}

func (l *Library) Document(path string) (project.Document, bool) {
	p, ok := l.OwningProject(path)
	if !ok {
		return project.Document{}, false
	}
	return p.Document(path)
}

// SetIgnoreHidden applies the hidden-file policy to every project.
func (l *Library) SetIgnoreHidden(ignore bool) {
	l.mu.Lock()
	l.ignoreHidden = ignore
	l.mu.Unlock()
	for _, p := range l.Projects() {
		p.SetIgnoreHidden(ignore)
	}
}

func (l *Library) IgnoreHidden() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ignoreHidden
}

// RefreshAll schedules a refresh of every project.
func (l *Library) RefreshAll() {
	for _, p := range l.Projects() {
		p.Refresh()
	}
}

// SyncAll refreshes every valid project and waits for all of them.
func (l *Library) SyncAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range l.Projects() {
		if !p.Valid() {
			continue
		}
		g.Go(func() error {
			if err := p.Sync(gctx); err != nil && !errors.Is(err, apperr.ErrProjectInvalid) {
				return fmt.Errorf("library: sync %s: %w", p.Root(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
