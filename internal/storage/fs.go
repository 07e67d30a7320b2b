package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/starford/scriptorium/internal/apperr"
)

const trashInfoSuffix = ".trashinfo.json"

// TrashItem describes a trashed entry. It is stored as a JSON sidecar next
// to the entry inside the trash directory.
type TrashItem struct {
	Name      string    `json:"name"`
	TrashPath string    `json:"trash_path"`
	OrigPath  string    `json:"orig_path"`
	DeletedAt time.Time `json:"deleted_at"`
	IsDir     bool      `json:"is_dir"`
}

// Local implements Provider on the local file system.
type Local struct {
	trashDir string
}

// NewLocal creates a Local provider that moves trashed entries into
// trashDir, creating it if needed.
func NewLocal(trashDir string) (*Local, error) {
	abs, err := filepath.Abs(trashDir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve trash dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create trash dir: %w", err)
	}
	return &Local{trashDir: abs}, nil
}

// TrashDir returns the directory trashed entries are moved into.
func (l *Local) TrashDir() string {
	return l.trashDir
}

// checkPath rejects relative paths and returns the cleaned path.
func checkPath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("storage: relative path not allowed: %s: %w", path, apperr.ErrInvalidPath)
	}
	return filepath.Clean(path), nil
}

// CreateFolder creates a single directory.
func (l *Local) CreateFolder(path string) error {
	abs, err := checkPath(path)
	if err != nil {
		return err
	}
	if err := os.Mkdir(abs, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("storage: create folder %s: %w", abs, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("storage: create folder %s: %w", abs, err)
	}
	return nil
}

// CreateDocumentFile creates a document holding "# <stem>\n\n".
func (l *Local) CreateDocumentFile(path string) error {
	abs, err := checkPath(path)
	if err != nil {
		return err
	}
	name := filepath.Base(abs)
	content := "# " + strings.TrimSuffix(name, filepath.Ext(name)) + "\n\n"
	return createExclusive(abs, strings.NewReader(content))
}

// CopyFile copies the content of src into a new file at dst.
func (l *Local) CopyFile(src, dst string) error {
	absSrc, err := checkPath(src)
	if err != nil {
		return err
	}
	absDst, err := checkPath(dst)
	if err != nil {
		return err
	}
	in, err := os.Open(absSrc)
	if err != nil {
		return fmt.Errorf("storage: copy open %s: %w", absSrc, err)
	}
	defer in.Close()
	return createExclusive(absDst, in)
}

// createExclusive writes r into a file that must not exist yet. A partially
// written file is removed.
func createExclusive(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("storage: create %s: %w", path, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("storage: create %s: %w", path, err)
	}

	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("storage: fsync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", path, err)
	}
	success = true
	return nil
}

// Rename moves src to dst without overwriting.
func (l *Local) Rename(src, dst string) error {
	absSrc, err := checkPath(src)
	if err != nil {
		return err
	}
	absDst, err := checkPath(dst)
	if err != nil {
		return err
	}
	if absSrc == absDst {
		return nil
	}
	if _, err := os.Lstat(absDst); err == nil {
		return fmt.Errorf("storage: rename to %s: %w", absDst, apperr.ErrAlreadyExists)
	}
	if err := os.Rename(absSrc, absDst); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// Trash moves path into the trash directory under a unique name and records
// where it came from.
func (l *Local) Trash(path string) error {
	abs, err := checkPath(path)
	if err != nil {
		return err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: trash %s: %w", abs, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: trash stat: %w", err)
	}

	now := time.Now()
	name := now.UTC().Format("20060102T150405.000000000") + "-" + filepath.Base(abs)
	dst := filepath.Join(l.trashDir, name)
	if err := os.Rename(abs, dst); err != nil {
		return fmt.Errorf("storage: trash move: %w", err)
	}

	item := TrashItem{
		Name:      filepath.Base(abs),
		TrashPath: dst,
		OrigPath:  abs,
		DeletedAt: now,
		IsDir:     info.IsDir(),
	}
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: trash info: %w", err)
	}
	if err := os.WriteFile(dst+trashInfoSuffix, data, 0o644); err != nil {
		return fmt.Errorf("storage: write trash info: %w", err)
	}
	return nil
}

// TrashItems lists the entries in the trash, newest first.
func (l *Local) TrashItems() ([]TrashItem, error) {
	matches, err := filepath.Glob(filepath.Join(l.trashDir, "*"+trashInfoSuffix))
	if err != nil {
		return nil, fmt.Errorf("storage: list trash: %w", err)
	}
	items := make([]TrashItem, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		var item TrashItem
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].DeletedAt.After(items[j].DeletedAt) })
	return items, nil
}

// Delete removes path and everything beneath it.
func (l *Local) Delete(path string) error {
	abs, err := checkPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", abs, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: delete stat: %w", err)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", abs, err)
	}
	return nil
}

// Read returns the raw bytes of a document.
func (l *Local) Read(path string) ([]byte, error) {
	abs, err := checkPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: read %s: %w", abs, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read %s: %w", abs, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (l *Local) Write(path string, content []byte) error {
	abs, err := checkPath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	tmp, err := os.CreateTemp(dir, ".scriptorium-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

var _ Provider = (*Local)(nil)
