package api

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/starford/scriptorium/internal/apperr"
	"github.com/starford/scriptorium/internal/checksum"
	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/project"
	"github.com/starford/scriptorium/internal/sorting"
	"github.com/starford/scriptorium/internal/storage"
)

// Library is the part of the library the API serves.
type Library interface {
	Projects() []*project.Project
	AddProject(root string) error
	RemoveProject(root string) error
	DraftsRoot() string
	Tree(m sorting.Method) []library.Entry
	Children(path string, m sorting.Method) ([]library.Entry, error)
	Item(path string) (library.Entry, error)
	Select(path string) error
	Selected() string
	SetOpenDocument(path string) error
	OpenDocument() string
	Rename(path, newPath string) error
	Trash(path string) error
	Delete(path string) error
	Duplicate(path string) (string, error)
	CreateFolder(parent, name string) (string, error)
	CreateDocument(parent, name string) (string, error)
	ReadDocument(path string) ([]byte, string, error)
	SaveDocument(path string, content []byte, ifMatch string) (string, error)
	Trashed() ([]storage.TrashItem, error)
	RefreshAll()
	SetIgnoreHidden(ignore bool)
}

var _ Library = (*library.Library)(nil)

// Handler holds API route handlers.
type Handler struct {
	lib         Library
	defaultSort sorting.Method
}

// NewHandler creates a new Handler.
func NewHandler(lib Library, defaultSort sorting.Method) *Handler {
	return &Handler{lib: lib, defaultSort: defaultSort}
}

func (h *Handler) sortMethod(r *http.Request) (sorting.Method, error) {
	s := r.URL.Query().Get("sort")
	if s == "" {
		return h.defaultSort, nil
	}
	return sorting.ParseMethod(s)
}

// ListProjects handles GET /api/projects.
//
//	@Summary		List open projects
//	@Tags			projects
//	@Produce		json
//	@Success		200	{object}	ProjectListResponse
//	@Security		BearerAuth
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects := h.lib.Projects()
	out := make([]ProjectResponse, len(projects))
	for i, p := range projects {
		folders, docs := p.Counts()
		out[i] = ProjectResponse{
			Root:      p.Root(),
			Kind:      p.Kind(),
			Valid:     p.Valid(),
			Folders:   folders,
			Documents: docs,
		}
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: out})
}

// AddProject handles POST /api/projects.
//
//	@Summary		Open a directory as a project
//	@Tags			projects
//	@Accept			json
//	@Param			body	body		RootRequest	true	"Project root"
//	@Success		201		{object}	RootRequest
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects [post]
func (h *Handler) AddProject(w http.ResponseWriter, r *http.Request) {
	var req RootRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Root == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("root is required"))
		return
	}
	if err := h.lib.AddProject(req.Root); err != nil {
		writeError(w, "add project", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// RemoveProject handles DELETE /api/projects.
func (h *Handler) RemoveProject(w http.ResponseWriter, r *http.Request) {
	var req RootRequest
	if !decode(w, r, &req) {
		return
	}
	if filepath.Clean(req.Root) == h.lib.DraftsRoot() {
		writeError(w, "remove project", fmt.Errorf("api: close %s: %w", req.Root, apperr.ErrDraftsProject))
		return
	}
	if err := h.lib.RemoveProject(req.Root); err != nil {
		writeError(w, "remove project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tree handles GET /api/tree.
//
//	@Summary		Flattened, sorted tree of every project
//	@Tags			tree
//	@Produce		json
//	@Param			sort	query		string	false	"Sort method"	Enums(alphanumeric_asc, alphanumeric_desc, modified_asc, modified_desc)
//	@Success		200		{object}	TreeResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	m, err := h.sortMethod(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	entries := h.lib.Tree(m)
	if entries == nil {
		entries = []library.Entry{}
	}
	writeJSON(w, http.StatusOK, TreeResponse{Sort: m.String(), Entries: entries})
}

// GetItem handles GET /api/items?path=. Folders include their sorted
// children.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	m, err := h.sortMethod(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	item, err := h.lib.Item(path)
	if err != nil {
		writeError(w, "get item", err)
		return
	}
	resp := ItemResponse{Item: item}
	if item.IsDir {
		if resp.Children, err = h.lib.Children(path, m); err != nil {
			writeError(w, "list children", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// pathOp decodes a PathRequest and applies fn to it.
func (h *Handler) pathOp(w http.ResponseWriter, r *http.Request, op string, fn func(string) error) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := fn(req.Path); err != nil {
		writeError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	h.pathOp(w, r, "select", h.lib.Select)
}

func (h *Handler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.lib.SetOpenDocument(req.Path); err != nil {
		writeError(w, "open document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Trash handles POST /api/items/trash. The move happens in the background;
// failures arrive as notify.err events.
//
//	@Summary		Move an item to the trash
//	@Tags			items
//	@Accept			json
//	@Param			body	body	PathRequest	true	"Item path"
//	@Success		202		"Request accepted"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/trash [post]
func (h *Handler) Trash(w http.ResponseWriter, r *http.Request) {
	h.acceptedOp(w, r, "trash", h.lib.Trash)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.acceptedOp(w, r, "delete", h.lib.Delete)
}

func (h *Handler) acceptedOp(w http.ResponseWriter, r *http.Request, op string, fn func(string) error) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := fn(req.Path); err != nil {
		writeError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Rename handles POST /api/items/rename.
//
//	@Summary		Rename or move an item
//	@Tags			items
//	@Accept			json
//	@Param			body	body	RenameRequest	true	"Source and destination"
//	@Success		202		"Request accepted"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/rename [post]
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Path == "" || req.NewPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and new_path are required"))
		return
	}
	if err := h.lib.Rename(req.Path, req.NewPath); err != nil {
		writeError(w, "rename", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) Duplicate(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := h.lib.Duplicate(req.Path)
	if err != nil {
		writeError(w, "duplicate", err)
		return
	}
	writeJSON(w, http.StatusCreated, PathResponse{Path: target})
}

func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, "create folder", h.lib.CreateFolder)
}

// CreateDocument handles POST /api/folders/create-document.
//
//	@Summary		Create a markdown document in a folder
//	@Tags			folders
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRequest	true	"Parent folder and name"
//	@Success		201		{object}	PathResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/folders/create-document [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, "create document", h.lib.CreateDocument)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, op string, fn func(parent, name string) (string, error)) {
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Parent == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("parent is required"))
		return
	}
	path, err := fn(req.Parent, req.Name)
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, PathResponse{Path: path})
}

// ReadDocument handles GET /api/documents/content?path=.
//
//	@Summary		Read a document
//	@Tags			documents
//	@Produce		json
//	@Param			path	query		string	true	"Document path"
//	@Success		200		{object}	DocumentContent
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/content [get]
func (h *Handler) ReadDocument(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	data, sum, err := h.lib.ReadDocument(path)
	if err != nil {
		writeError(w, "read document", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(sum))
	writeJSON(w, http.StatusOK, DocumentContent{Path: path, Content: string(data), Checksum: sum})
}

// SaveDocument handles PUT /api/documents/content?path=.
//
//	@Summary		Save a document with optimistic concurrency
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			path		query		string		true	"Document path"
//	@Param			If-Match	header		string		false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		SaveRequest	true	"New content"
//	@Success		200			{object}	DocumentContent
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/content [put]
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req SaveRequest
	if !decode(w, r, &req) {
		return
	}

	ifMatch := checksum.FromETag(r.Header.Get("If-Match"))

	sum, err := h.lib.SaveDocument(path, []byte(req.Content), ifMatch)
	if err != nil {
		writeError(w, "save document", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(sum))
	writeJSON(w, http.StatusOK, DocumentContent{Path: path, Content: req.Content, Checksum: sum})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.lib.RefreshAll()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) SetIgnoreHidden(w http.ResponseWriter, r *http.Request) {
	var req IgnoreHiddenRequest
	if !decode(w, r, &req) {
		return
	}
	h.lib.SetIgnoreHidden(req.Ignore)
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) Selection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SelectionResponse{
		Selected:     h.lib.Selected(),
		OpenDocument: h.lib.OpenDocument(),
	})
}

// ListTrash handles GET /api/trash.
//
//	@Summary		List trashed items, newest first
//	@Tags			items
//	@Produce		json
//	@Success		200	{object}	TrashResponse
//	@Security		BearerAuth
//	@Router			/trash [get]
func (h *Handler) ListTrash(w http.ResponseWriter, r *http.Request) {
	items, err := h.lib.Trashed()
	if err != nil {
		writeError(w, "list trash", err)
		return
	}
	if items == nil {
		items = []storage.TrashItem{}
	}
	writeJSON(w, http.StatusOK, TrashResponse{Items: items})
}
