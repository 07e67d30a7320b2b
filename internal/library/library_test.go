package library

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/checksum"
	"github.com/starford/scriptorium/internal/project"
	"github.com/starford/scriptorium/internal/sorting"
	"github.com/starford/scriptorium/internal/testutil"
)

type recorded struct {
	root string
	ev   project.Event
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newLibrary(t *testing.T, opts Options) (*Library, *testutil.Recorder[recorded]) {
	t.Helper()
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	opts.Logger = quietLogger()
	lib, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(lib.Close)

	rec := &testutil.Recorder[recorded]{}
	lib.Subscribe(func(root string, ev project.Event) { rec.Add(recorded{root: root, ev: ev}) })
	return lib, rec
}

func syncAll(t *testing.T, lib *Library) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lib.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
}

func eventually(t *testing.T, fn func() bool, msg string) {
	t.Helper()
	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, fn, msg)
}

func countEvents[T project.Event](rec *testutil.Recorder[recorded]) int {
	n := 0
	for _, r := range rec.All() {
		if _, ok := r.ev.(T); ok {
			n++
		}
	}
	return n
}

func TestNewCreatesDrafts(t *testing.T) {
	data := t.TempDir()
	lib, _ := newLibrary(t, Options{DataDir: data})

	want := filepath.Join(data, DefaultAppID, "library")
	if lib.DraftsRoot() != want {
		t.Errorf("drafts = %s, want %s", lib.DraftsRoot(), want)
	}
	if info, err := os.Stat(want); err != nil || !info.IsDir() {
		t.Fatalf("drafts dir not created: %v", err)
	}
	projects := lib.Projects()
	if len(projects) != 1 || projects[0].Kind() != project.DraftsRoot {
		t.Errorf("projects = %v", projects)
	}
}

func TestAddProjectRejectsOverlap(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/inner/", "b/")
	lib, rec := newLibrary(t, Options{})

	a := filepath.Join(base, "a")
	if err := lib.AddProject(a); err != nil {
		t.Fatalf("AddProject: %v", err)
	}
	for _, root := range []string{a, filepath.Join(a, "inner"), base} {
		if err := lib.AddProject(root); !errors.Is(err, apperr.ErrOverlappingProject) {
			t.Errorf("AddProject(%s) err = %v, want ErrOverlappingProject", root, err)
		}
	}
	if n := len(lib.Projects()); n != 2 {
		t.Fatalf("projects = %d after rejected adds, want 2", n)
	}

	if err := lib.AddProject(filepath.Join(base, "b")); err != nil {
		t.Fatalf("AddProject(b): %v", err)
	}
	if err := lib.AddProject(filepath.Join(base, "missing")); !errors.Is(err, apperr.ErrProjectInvalid) {
		t.Errorf("missing root err = %v, want ErrProjectInvalid", err)
	}
	if err := lib.AddProject(lib.DraftsRoot()); !errors.Is(err, apperr.ErrOverlappingProject) {
		t.Errorf("drafts root err = %v, want ErrOverlappingProject", err)
	}
	if n := len(lib.Projects()); n != 3 {
		t.Errorf("projects = %d, want 3", n)
	}
	if n := countEvents[ProjectAdded](rec); n != 2 {
		t.Errorf("project.added events = %d, want 2", n)
	}
}

func TestRoutingAcrossProjects(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md", "b/sub/y.md", "loose.md")
	lib, rec := newLibrary(t, Options{})
	a, b := filepath.Join(base, "a"), filepath.Join(base, "b")
	_ = lib.AddProject(a)
	_ = lib.AddProject(b)
	syncAll(t, lib)

	x, y := filepath.Join(a, "x.md"), filepath.Join(b, "sub", "y.md")
	if !lib.HasDocument(x) || !lib.HasDocument(y) {
		t.Fatal("documents not routed to their projects")
	}
	if !lib.HasFolder(filepath.Join(b, "sub")) {
		t.Error("folder not routed")
	}
	if lib.HasDocument(filepath.Join(base, "loose.md")) {
		t.Error("document outside every project reported as tracked")
	}
	if p, ok := lib.OwningProject(y); !ok || p.Root() != b {
		t.Errorf("owner of %s = %v", y, p)
	}
	if d, ok := lib.Document(y); !ok || d.Depth != 2 {
		t.Errorf("document = %+v, %v", d, ok)
	}

	var fromB bool
	for _, r := range rec.All() {
		if ev, ok := r.ev.(project.DocumentAdded); ok && ev.Document.Path == y {
			fromB = r.root == b
		}
	}
	if !fromB {
		t.Error("document.added for y not delivered with root b")
	}
}

func TestSelectionFallsBackAndRestores(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/sub/deep/x.md")
	lib, rec := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	x := filepath.Join(a, "sub", "deep", "x.md")
	if err := lib.Select(x); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if lib.Selected() != x {
		t.Fatalf("selected = %q", lib.Selected())
	}
	if err := lib.Select(filepath.Join(a, "nope.md")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("untracked select err = %v", err)
	}

	if err := os.RemoveAll(filepath.Join(a, "sub")); err != nil {
		t.Fatal(err)
	}
	syncAll(t, lib)
	if lib.Selected() != a {
		t.Errorf("selected after removal = %q, want %q", lib.Selected(), a)
	}

	testutil.Tree(t, a, "sub/deep/x.md")
	syncAll(t, lib)
	if lib.Selected() != x {
		t.Errorf("selected after restore = %q, want %q", lib.Selected(), x)
	}
	if n := countEvents[SelectionChanged](rec); n != 3 {
		t.Errorf("selection.changed events = %d, want 3", n)
	}
}

func TestRenameIsCarriedOut(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/old.md", "a/dir/")
	lib, _ := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	oldPath, newPath := filepath.Join(a, "old.md"), filepath.Join(a, "dir", "new.md")
	_ = lib.Select(oldPath)
	if err := lib.SetOpenDocument(oldPath); err != nil {
		t.Fatal(err)
	}
	if err := lib.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	eventually(t, func() bool {
		return lib.HasDocument(newPath) && !lib.HasDocument(oldPath)
	}, "renamed document not picked up")
	if _, err := os.Stat(newPath); err != nil {
		t.Errorf("new path missing on disk: %v", err)
	}
	eventually(t, func() bool { return lib.Selected() == newPath }, "selection did not follow the rename")
	if lib.OpenDocument() != newPath {
		t.Errorf("open document = %q, want %q", lib.OpenDocument(), newPath)
	}
}

func TestRenameFailureNotifies(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md", "a/y.md")
	lib, rec := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	x := filepath.Join(a, "x.md")
	if err := lib.Rename(x, filepath.Join(a, "y.md")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	eventually(t, func() bool { return countEvents[project.NotifyErr](rec) == 1 }, "no notify.err for refused rename")
	if _, err := os.Stat(x); err != nil {
		t.Errorf("source should be untouched: %v", err)
	}
}

func TestTrashIsCarriedOut(t *testing.T) {
	data := t.TempDir()
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md")
	lib, _ := newLibrary(t, Options{DataDir: data})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	x := filepath.Join(a, "x.md")
	if err := lib.SetOpenDocument(x); err != nil {
		t.Fatal(err)
	}
	if err := lib.Trash(x); err != nil {
		t.Fatalf("Trash: %v", err)
	}
	eventually(t, func() bool { return !lib.HasDocument(x) }, "trashed document still tracked")
	if _, err := os.Stat(x); !os.IsNotExist(err) {
		t.Errorf("document still on disk: %v", err)
	}
	entries, err := os.ReadDir(TrashDir(data, DefaultAppID))
	if err != nil || len(entries) == 0 {
		t.Errorf("trash is empty: %v", err)
	}
	if lib.OpenDocument() != "" {
		t.Errorf("open document = %q after trash, want empty", lib.OpenDocument())
	}
}

func TestDeleteFolder(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/sub/x.md", "a/keep.md")
	lib, _ := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	sub := filepath.Join(a, "sub")
	if err := lib.Delete(sub); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	eventually(t, func() bool { return !lib.HasFolder(sub) }, "deleted folder still tracked")
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Errorf("folder still on disk: %v", err)
	}
	if !lib.HasDocument(filepath.Join(a, "keep.md")) {
		t.Error("sibling lost")
	}
	if err := lib.Delete(a); !errors.Is(err, apperr.ErrIsRootDir) {
		t.Errorf("delete root err = %v, want ErrIsRootDir", err)
	}
}

func TestDeleteFailureNotifies(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md")
	lib, rec := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	x := filepath.Join(a, "x.md")
	if err := os.Remove(x); err != nil {
		t.Fatal(err)
	}
	if err := lib.Delete(x); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	eventually(t, func() bool { return countEvents[project.NotifyErr](rec) == 1 }, "no notify.err for failed delete")
}

func TestCloseProjectRequested(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md")
	lib, rec := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	if err := lib.RequestClose(lib.DraftsRoot()); !errors.Is(err, apperr.ErrDraftsProject) {
		t.Errorf("RequestClose(drafts) err = %v, want ErrDraftsProject", err)
	}
	if err := lib.RequestClose(filepath.Join(a, "x.md")); !errors.Is(err, apperr.ErrNotRootDir) {
		t.Errorf("close on document err = %v, want ErrNotRootDir", err)
	}
	if err := lib.RequestClose(a); err != nil {
		t.Fatalf("RequestClose: %v", err)
	}
	eventually(t, func() bool {
		_, ok := lib.Project(a)
		return !ok
	}, "project not closed")
	if _, ok := lib.Project(lib.DraftsRoot()); !ok {
		t.Error("drafts project must stay open")
	}
	if n := countEvents[ProjectRemoved](rec); n != 1 {
		t.Errorf("project.removed events = %d, want 1", n)
	}
}

func TestRemoveDraftsProject(t *testing.T) {
	lib, rec := newLibrary(t, Options{})
	drafts := lib.DraftsRoot()
	syncAll(t, lib)
	doc, err := lib.CreateDocument(drafts, "note")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	eventually(t, func() bool { return lib.HasDocument(doc) }, "draft never tracked")
	if err := lib.Select(doc); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if err := lib.SetOpenDocument(doc); err != nil {
		t.Fatalf("SetOpenDocument: %v", err)
	}

	if err := lib.RemoveProject(drafts); err != nil {
		t.Fatalf("RemoveProject(drafts): %v", err)
	}
	if len(lib.Projects()) != 0 {
		t.Errorf("projects = %d after closing drafts, want 0", len(lib.Projects()))
	}
	if lib.Selected() != "" || lib.OpenDocument() != "" {
		t.Errorf("selection %q, open document %q survive closing drafts", lib.Selected(), lib.OpenDocument())
	}
	if n := countEvents[ProjectRemoved](rec); n != 1 {
		t.Errorf("project.removed events = %d, want 1", n)
	}
	if err := lib.RequestClose(drafts); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("close after removal err = %v, want ErrNotFound", err)
	}
}

func TestRemoveProject(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md")
	lib, _ := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)
	_ = lib.Select(filepath.Join(a, "x.md"))

	if err := lib.RemoveProject(a); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	if lib.Selected() != "" {
		t.Errorf("selection = %q after removing its project", lib.Selected())
	}
	if lib.HasDocument(filepath.Join(a, "x.md")) {
		t.Error("document of removed project still routed")
	}
	if err := lib.RemoveProject(a); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second remove err = %v, want ErrNotFound", err)
	}
	// The root is free again.
	if err := lib.AddProject(a); err != nil {
		t.Errorf("re-add: %v", err)
	}
}

func TestTreeOrder(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/b.md", "a/a.md", "a/z/c.md")
	lib, _ := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	entries := lib.Tree(sorting.AlphanumericAsc)
	if len(entries) == 0 || entries[0].Path != lib.DraftsRoot() {
		t.Fatalf("drafts should come first: %+v", entries)
	}
	var got []string
	for _, e := range entries[1:] {
		got = append(got, e.Path)
	}
	want := []string{a, filepath.Join(a, "z"), filepath.Join(a, "z", "c.md"), filepath.Join(a, "a.md"), filepath.Join(a, "b.md")}
	if len(got) != len(want) {
		t.Fatalf("tree = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tree[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	children, err := lib.Children(a, sorting.AlphanumericDesc)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 3 || !children[0].IsDir || children[1].Name != "b.md" || children[2].Name != "a.md" {
		t.Errorf("children = %+v", children)
	}
	if _, err := lib.Children(filepath.Join(a, "a.md"), sorting.AlphanumericAsc); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("children of a document err = %v", err)
	}
	item, err := lib.Item(filepath.Join(a, "z"))
	if err != nil || !item.IsDir || item.Root != a || item.Depth != 1 {
		t.Errorf("item = %+v, %v", item, err)
	}
}

func TestSaveDocumentChecksum(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md")
	lib, _ := newLibrary(t, Options{})
	a := filepath.Join(base, "a")
	_ = lib.AddProject(a)
	syncAll(t, lib)

	x := filepath.Join(a, "x.md")
	data, sum, err := lib.ReadDocument(x)
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if sum != checksum.Sum(data) {
		t.Errorf("sum mismatch")
	}

	if _, err := lib.SaveDocument(x, []byte("stale"), "bogus"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale save err = %v, want ErrConflict", err)
	}
	if got, _ := os.ReadFile(x); string(got) != string(data) {
		t.Error("conflicting save must not write")
	}

	newSum, err := lib.SaveDocument(x, []byte("# fresh\n"), sum)
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if newSum != checksum.Sum([]byte("# fresh\n")) {
		t.Errorf("new sum = %s", newSum)
	}
	if got, _ := os.ReadFile(x); string(got) != "# fresh\n" {
		t.Errorf("content = %q", got)
	}

	if _, _, err := lib.ReadDocument(filepath.Join(a, "none.md")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("read untracked err = %v", err)
	}
	if _, err := lib.SaveDocument(filepath.Join(a, "none.md"), nil, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("save untracked err = %v", err)
	}
}

func TestSessionRestore(t *testing.T) {
	db := testutil.TestDB(t)
	data := t.TempDir()
	base := t.TempDir()
	testutil.Tree(t, base, "a/x.md")
	a := filepath.Join(base, "a")
	x := filepath.Join(a, "x.md")

	first, err := New(context.Background(), Options{DataDir: data, Session: db, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.AddProject(a); err != nil {
		t.Fatal(err)
	}
	syncAll(t, first)
	if err := first.Select(x); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, _ := newLibrary(t, Options{DataDir: data, Session: db})
	if _, ok := second.Project(a); !ok {
		t.Fatal("stored project not reopened")
	}
	syncAll(t, second)
	eventually(t, func() bool { return second.Selected() == x }, "selection not restored")
}

func TestIgnoreHiddenAppliesToAllProjects(t *testing.T) {
	base := t.TempDir()
	testutil.Tree(t, base, "a/.h.md", "b/.hidden/y.md")
	lib, _ := newLibrary(t, Options{IgnoreHidden: true})
	a, b := filepath.Join(base, "a"), filepath.Join(base, "b")
	_ = lib.AddProject(a)
	_ = lib.AddProject(b)
	syncAll(t, lib)
	if lib.HasDocument(filepath.Join(a, ".h.md")) || lib.HasDocument(filepath.Join(b, ".hidden", "y.md")) {
		t.Fatal("hidden documents tracked")
	}

	lib.SetIgnoreHidden(false)
	syncAll(t, lib)
	if !lib.HasDocument(filepath.Join(a, ".h.md")) || !lib.HasDocument(filepath.Join(b, ".hidden", "y.md")) {
		t.Error("hidden documents not restored")
	}
	if lib.IgnoreHidden() {
		t.Error("policy not recorded")
	}
}

func TestCreateInDrafts(t *testing.T) {
	lib, _ := newLibrary(t, Options{})
	syncAll(t, lib)

	path, err := lib.CreateDocument(lib.DraftsRoot(), "first")
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	syncAll(t, lib)
	if !lib.HasDocument(path) {
		t.Error("draft not tracked")
	}
	dup, err := lib.Duplicate(path)
	if err != nil || filepath.Base(dup) != "first (2).md" {
		t.Errorf("duplicate = %s, %v", dup, err)
	}
	dir, err := lib.CreateFolder(lib.DraftsRoot(), "ideas")
	if err != nil || filepath.Base(dir) != "ideas" {
		t.Errorf("folder = %s, %v", dir, err)
	}
	if _, err := lib.CreateDocument(filepath.Join(t.TempDir(), "elsewhere"), "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("outside every project err = %v", err)
	}
}

func TestSetOpenDocument(t *testing.T) {
	lib, rec := newLibrary(t, Options{})
	path, _ := lib.CreateDocument(lib.DraftsRoot(), "doc")
	syncAll(t, lib)

	if err := lib.SetOpenDocument(path); err != nil {
		t.Fatal(err)
	}
	if err := lib.SetOpenDocument(filepath.Join(lib.DraftsRoot(), "none.md")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("untracked err = %v", err)
	}
	if lib.OpenDocument() != path {
		t.Errorf("open = %q", lib.OpenDocument())
	}
	if err := lib.SetOpenDocument(""); err != nil {
		t.Fatal(err)
	}
	if n := countEvents[OpenDocumentChanged](rec); n != 2 {
		t.Errorf("document.opened events = %d, want 2", n)
	}
}
