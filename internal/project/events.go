package project

import (
	"sync"
	"time"
)

// Event is a notification published by a Project. The concrete types below
// form the complete set.
type Event interface {
	Name() string
}

// FolderAdded is published when a crawl inserts a new folder.
type FolderAdded struct{ Folder Folder }

// DocumentAdded is published when a crawl inserts a new document.
type DocumentAdded struct{ Document Document }

// ItemRemoved is published for each tracked path dropped by prune.
type ItemRemoved struct {
	Path  string
	IsDir bool
}

// FolderRenameRequested asks the library to move a folder to NewPath.
type FolderRenameRequested struct {
	Folder  Folder
	NewPath string
}

// DocumentRenameRequested asks the library to move a document to NewPath.
type DocumentRenameRequested struct {
	Document Document
	NewPath  string
}

// FolderDeleteRequested asks the library to remove a folder from disk.
type FolderDeleteRequested struct{ Folder Folder }

type DocumentDeleteRequested struct{ Document Document }

// FolderTrashRequested asks the library to move a folder to the trash.
type FolderTrashRequested struct{ Folder Folder }

type DocumentTrashRequested struct{ Document Document }

// CloseProjectRequested asks the library to stop tracking the project.
type CloseProjectRequested struct{ Root string }

// BecameInvalid is published once, when the project root stops being a
// directory.
type BecameInvalid struct{ Root string }

// NotifyErr carries a user-facing message for a failed disk operation.
type NotifyErr struct {
	Message string
	Err     error
}

// MetadataChanged is published when a crawl sees a newer modification
// time for a tracked folder or document.
type MetadataChanged struct {
	Path     string
	Modified time.Time
}

// Selected carries a path the user selected.
type Selected struct{ Path string }

// Duplicated reports a document copied to Target.
type Duplicated struct {
	Source string
	Target string
}

// ItemCreated reports a folder or document created on request.
type ItemCreated struct {
	Path  string
	IsDir bool
}

// RefreshDone follows the prune step of every completed crawl.
type RefreshDone struct{ Root string }

func (FolderAdded) Name() string             { return "folder.added" }
func (DocumentAdded) Name() string           { return "document.added" }
func (ItemRemoved) Name() string             { return "item.removed" }
func (FolderRenameRequested) Name() string   { return "folder.rename_requested" }
func (DocumentRenameRequested) Name() string { return "document.rename_requested" }
func (FolderDeleteRequested) Name() string   { return "folder.delete_requested" }
func (DocumentDeleteRequested) Name() string { return "document.delete_requested" }
func (FolderTrashRequested) Name() string    { return "folder.trash_requested" }
func (DocumentTrashRequested) Name() string  { return "document.trash_requested" }
func (CloseProjectRequested) Name() string   { return "project.close_requested" }
func (BecameInvalid) Name() string           { return "project.invalid" }
func (NotifyErr) Name() string               { return "notify.err" }
func (MetadataChanged) Name() string         { return "metadata.changed" }
func (Selected) Name() string                { return "item.selected" }
func (Duplicated) Name() string              { return "document.duplicated" }
func (ItemCreated) Name() string             { return "item.created" }
func (RefreshDone) Name() string             { return "refresh.done" }

// Handler receives published events. Handlers run on the publishing
// goroutine, which may be the project's run loop: they must not block on
// the project (Sync) and should hand slow work to another goroutine.
type Handler func(Event)

type subscription struct {
	id int
	h  Handler
}

// bus delivers events to handlers in subscription order.
type bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

func (b *bus) subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *bus) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, ev := range events {
		for _, s := range subs {
			s.h(ev)
		}
	}
}
