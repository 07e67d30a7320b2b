package state

// Store defines the session operations the library depends on.
type Store interface {
	Projects() ([]string, error)
	AddProject(root string) error
	RemoveProject(root string) error
	Selection() (string, error)
	SetSelection(path string) error
	OpenDocument() (string, error)
	SetOpenDocument(path string) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
