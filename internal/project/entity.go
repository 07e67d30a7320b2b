package project

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind distinguishes ordinary folders from the two kinds of root.
type Kind int

const (
	Subfolder Kind = iota
	ProjectRoot
	DraftsRoot
)

func (k Kind) String() string {
	switch k {
	case Subfolder:
		return "subfolder"
	case ProjectRoot:
		return "project_root"
	case DraftsRoot:
		return "drafts_root"
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Folder is a snapshot of a tracked directory. Modified is the newest
// modification time of the directory and everything beneath it.
type Folder struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Depth        int       `json:"depth"`
	Kind         Kind      `json:"kind"`
	Parent       string    `json:"parent,omitempty"`
	Modified     time.Time `json:"modified"`
	CollationKey string    `json:"-"`
}

// IsRoot reports whether f is the root of its project.
func (f Folder) IsRoot() bool {
	return f.Kind != Subfolder
}

// Document is a snapshot of a tracked markdown file.
type Document struct {
	Path         string    `json:"path"`
	Stem         string    `json:"stem"`
	Depth        int       `json:"depth"`
	Parent       string    `json:"parent"`
	Modified     time.Time `json:"modified"`
	CollationKey string    `json:"-"`
}

// folderNode is the arena record behind a Folder. Child links are path sets;
// the project maps are the only owners of nodes.
type folderNode struct {
	Folder
	folders   map[string]struct{}
	documents map[string]struct{}
}

func newFolderNode(f Folder) *folderNode {
	return &folderNode{
		Folder:    f,
		folders:   make(map[string]struct{}),
		documents: make(map[string]struct{}),
	}
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Within reports whether path is root or lies beneath it. Both paths must be
// clean and absolute.
func Within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
