package library

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultAppID names the per-user directory holding drafts and trash.
const DefaultAppID = "scriptorium"

// DefaultDataDir returns $XDG_DATA_HOME, falling back to ~/.local/share.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("library: unable to determine user home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share"), nil
}

// DraftsDir returns the built-in drafts root for the given data directory.
func DraftsDir(dataDir, appID string) string {
	return filepath.Join(dataDir, appID, "library")
}

// TrashDir returns where trashed items are moved.
func TrashDir(dataDir, appID string) string {
	return filepath.Join(dataDir, appID, "trash")
}
