package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scriptorium/internal/sorting"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// defaultSort orders tree listings when the request names no method.
func NewRouter(lib Library, authEnabled bool, token string, sseHandler http.Handler, defaultSort sorting.Method) chi.Router {
	h := NewHandler(lib, defaultSort)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Projects.
	r.Get("/projects", h.ListProjects)
	r.Post("/projects", h.AddProject)
	r.Delete("/projects", h.RemoveProject)

	// Tree.
	r.Get("/tree", h.Tree)
	r.Get("/items", h.GetItem)

	// Item operations.
	r.Post("/items/select", h.Select)
	r.Post("/items/open", h.OpenDocument)
	r.Post("/items/rename", h.Rename)
	r.Post("/items/trash", h.Trash)
	r.Post("/items/delete", h.Delete)
	r.Post("/items/duplicate", h.Duplicate)
	r.Get("/trash", h.ListTrash)
	r.Post("/folders/create-folder", h.CreateFolder)
	r.Post("/folders/create-document", h.CreateDocument)

	// Editor.
	r.Get("/documents/content", h.ReadDocument)
	r.Put("/documents/content", h.SaveDocument)

	r.Post("/refresh", h.Refresh)
	r.Put("/settings/ignore-hidden", h.SetIgnoreHidden)
	r.Get("/selection", h.Selection)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
