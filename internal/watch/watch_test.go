package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/testutil"
)

func startWatch(t *testing.T) (*library.Library, string) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	lib, err := library.New(context.Background(), library.Options{DataDir: t.TempDir(), Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(lib.Close)

	base := t.TempDir()
	testutil.Tree(t, base, "a/")
	a := filepath.Join(base, "a")
	if err := lib.AddProject(a); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, lib, logger)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	return lib, base
}

func TestWatch_NewFileRefreshesProject(t *testing.T) {
	lib, base := startWatch(t)
	path := filepath.Join(base, "a", "new.md")
	_ = os.WriteFile(path, []byte("# New"), 0o644)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return lib.HasDocument(path)
	}, "new file not picked up by watcher")
}

func TestWatch_NewDirectoryIsFollowed(t *testing.T) {
	lib, base := startWatch(t)
	sub := filepath.Join(base, "a", "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return lib.HasFolder(sub)
	}, "new directory not picked up")

	// Give the watcher a moment to follow the folder.added event.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "x.md")
	_ = os.WriteFile(path, []byte("# X"), 0o644)
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return lib.HasDocument(path)
	}, "file in new directory not picked up")
}

func TestWatch_RemovedFileIsPruned(t *testing.T) {
	lib, base := startWatch(t)
	path := filepath.Join(base, "a", "gone.md")
	_ = os.WriteFile(path, []byte("# Gone"), 0o644)
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return lib.HasDocument(path)
	}, "file not picked up")

	_ = os.Remove(path)
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !lib.HasDocument(path)
	}, "removed file still tracked")
}

func TestWatch_FollowsAddedProject(t *testing.T) {
	lib, base := startWatch(t)
	testutil.Tree(t, base, "b/")
	b := filepath.Join(base, "b")
	if err := lib.AddProject(b); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(b, "y.md")
	_ = os.WriteFile(path, []byte("# Y"), 0o644)
	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return lib.HasDocument(path)
	}, "file in added project not picked up")
}

type recordingAdder struct {
	added []string
	fail  string
}

func (r *recordingAdder) Add(name string) error {
	if name == r.fail {
		return errors.New("no space left on device")
	}
	r.added = append(r.added, name)
	return nil
}

func TestAddDirsRecursive(t *testing.T) {
	root := t.TempDir()
	testutil.Tree(t, root, ".git/objects/", "a/", "b/c/", "z/")
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	w := &recordingAdder{fail: filepath.Join(root, "a")}
	addDirsRecursive(w, root, true, logger)
	for _, want := range []string{root, filepath.Join(root, "b"), filepath.Join(root, "b", "c"), filepath.Join(root, "z")} {
		if !slices.Contains(w.added, want) {
			t.Errorf("%s not watched after a failed add: %v", want, w.added)
		}
	}
	if slices.Contains(w.added, filepath.Join(root, ".git")) || slices.Contains(w.added, filepath.Join(root, ".git", "objects")) {
		t.Errorf("hidden directory watched: %v", w.added)
	}

	w = &recordingAdder{}
	addDirsRecursive(w, root, false, logger)
	if !slices.Contains(w.added, filepath.Join(root, ".git", "objects")) {
		t.Errorf("hidden directory skipped with the policy off: %v", w.added)
	}
}
