package api

import (
	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/project"
	"github.com/starford/scriptorium/internal/storage"
)

// ProjectResponse describes one open project.
type ProjectResponse struct {
	Root      string       `json:"root"`
	Kind      project.Kind `json:"kind"`
	Valid     bool         `json:"valid"`
	Folders   int          `json:"folders"`
	Documents int          `json:"documents"`
}

// ProjectListResponse is the response for GET /projects.
type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

// TreeResponse is the response for GET /tree.
type TreeResponse struct {
	Sort    string          `json:"sort"`
	Entries []library.Entry `json:"entries"`
}

// ItemResponse is the response for GET /items.
type ItemResponse struct {
	Item     library.Entry   `json:"item"`
	Children []library.Entry `json:"children,omitempty"`
}

// RootRequest is the request body for POST and DELETE /projects.
type RootRequest struct {
	Root string `json:"root"`
}

// PathRequest is the request body for single-item operations.
type PathRequest struct {
	Path string `json:"path"`
}

// RenameRequest is the request body for POST /items/rename.
type RenameRequest struct {
	Path    string `json:"path"`
	NewPath string `json:"new_path"`
}

// CreateRequest is the request body for the folder create operations.
type CreateRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
}

// PathResponse returns the path of a created item.
type PathResponse struct {
	Path string `json:"path"`
}

// DocumentContent is the response for GET /documents/content.
type DocumentContent struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
}

// SaveRequest is the request body for PUT /documents/content.
type SaveRequest struct {
	Content string `json:"content"`
}

// IgnoreHiddenRequest is the request body for PUT /settings/ignore-hidden.
type IgnoreHiddenRequest struct {
	Ignore bool `json:"ignore"`
}

// SelectionResponse is the response for GET /selection.
type SelectionResponse struct {
	Selected     string `json:"selected"`
	OpenDocument string `json:"open_document"`
}

// TrashResponse is the response for GET /trash.
type TrashResponse struct {
	Items []storage.TrashItem `json:"items"`
}
