package library

import "github.com/starford/scriptorium/internal/project"

// Library-level events are delivered to subscribers next to the events of
// the projects.

type ProjectAdded struct{ Root string }

type ProjectRemoved struct{ Root string }

// SelectionChanged carries the new selection; an empty Path means nothing
// is selected.
type SelectionChanged struct{ Path string }

type OpenDocumentChanged struct{ Path string }

func (ProjectAdded) Name() string        { return "project.added" }
func (ProjectRemoved) Name() string      { return "project.removed" }
func (SelectionChanged) Name() string    { return "selection.changed" }
func (OpenDocumentChanged) Name() string { return "document.opened" }

// Handler receives events together with the root of the project they
// concern. Handlers may run on a project's run loop and must not block.
type Handler func(root string, ev project.Event)
