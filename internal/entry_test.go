package internal

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/scriptorium/internal/testutil"
)

func testConfig(t *testing.T, projects ...string) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.App.LogLevel = slog.LevelError
	cfg.Library.DataDir = t.TempDir()
	cfg.Library.Projects = projects
	cfg.Library.Watch = false
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "session.db")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestPrintTree(t *testing.T) {
	root := t.TempDir()
	testutil.Tree(t, root, "a.md", "sub/b.md", "notes.txt")

	var out bytes.Buffer
	err := PrintTree(context.Background(), "", WithConfig(testConfig(t, root)), WithOutput(&out))
	if err != nil {
		t.Fatalf("PrintTree: %v", err)
	}

	got := out.String()
	want := filepath.Base(root) + "/\n  sub/\n    b.md\n  a.md\n"
	if !strings.Contains(got, want) {
		t.Errorf("tree =\n%s\nwant it to contain\n%s", got, want)
	}
	if !strings.HasPrefix(got, "library/\n") {
		t.Errorf("drafts should be listed first:\n%s", got)
	}
	if strings.Contains(got, "notes.txt") {
		t.Error("non-markdown file listed")
	}
}

func TestPrintTreeRejectsUnknownSort(t *testing.T) {
	err := PrintTree(context.Background(), "shuffle", WithConfig(testConfig(t)), WithOutput(&bytes.Buffer{}))
	if err == nil {
		t.Fatal("expected error for unknown sort method")
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}
