// Package apperr holds the sentinel errors shared across the library packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrIsRootDir is returned when a rename, trash, delete or duplicate
	// targets a project root folder.
	ErrIsRootDir = errors.New("operation not permitted on a root folder")
	// ErrNotRootDir is returned when a project close is requested for a
	// folder that is not a project root.
	ErrNotRootDir = errors.New("not a root folder")
	// ErrInvalidPath is returned when a destination path or a new entry
	// name cannot be used.
	ErrInvalidPath = errors.New("invalid path")

	// ErrDraftsProject is returned when a user-facing close targets the
	// drafts project.
	ErrDraftsProject = errors.New("drafts project stays open")

	ErrProjectInvalid     = errors.New("project root is not a directory")
	ErrOverlappingProject = errors.New("project overlaps an existing project")
)
