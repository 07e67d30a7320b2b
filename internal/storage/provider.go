// Package storage performs the filesystem mutations requested by the
// library: creating, copying, renaming, trashing and deleting entries, and
// reading and writing document content for the editor.
package storage

// Provider is the interface for library file operations. Every path is
// absolute.
type Provider interface {
	CreateFolder(path string) error
	// CreateDocumentFile creates a new document holding a heading derived
	// from its file name. It fails if path exists.
	CreateDocumentFile(path string) error
	CopyFile(src, dst string) error
	// Rename moves src to dst. It fails if dst exists.
	Rename(src, dst string) error
	// Trash moves path into the trash directory.
	Trash(path string) error
	// Delete removes path and everything beneath it.
	Delete(path string) error
	// Read returns the raw bytes of a document.
	Read(path string) ([]byte, error)
	// Write atomically replaces the content of a document.
	Write(path string, content []byte) error
}
