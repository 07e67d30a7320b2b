package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	keySelection    = "selection"
	keyOpenDocument = "open_document"
)

// Projects returns the persisted project roots in the order they were added.
func (db *DB) Projects() ([]string, error) {
	rows, err := db.conn.Query(`SELECT root FROM projects ORDER BY added_at, root`)
	if err != nil {
		return nil, fmt.Errorf("state: list projects: %w", err)
	}
	defer rows.Close()

	var roots []string
	for rows.Next() {
		var root string
		if err := rows.Scan(&root); err != nil {
			return nil, fmt.Errorf("state: scan project: %w", err)
		}
		roots = append(roots, root)
	}
	return roots, rows.Err()
}

// AddProject records root. Adding a known root is a no-op.
func (db *DB) AddProject(root string) error {
	_, err := db.conn.Exec(`INSERT OR IGNORE INTO projects (root, added_at) VALUES (?, ?)`, root, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("state: add project: %w", err)
	}
	return nil
}

func (db *DB) RemoveProject(root string) error {
	if _, err := db.conn.Exec(`DELETE FROM projects WHERE root = ?`, root); err != nil {
		return fmt.Errorf("state: remove project: %w", err)
	}
	return nil
}

// Selection returns the last selected path, or "" when none is stored.
func (db *DB) Selection() (string, error) {
	return db.get(keySelection)
}

// SetSelection stores path as the selection; "" clears it.
func (db *DB) SetSelection(path string) error {
	return db.set(keySelection, path)
}

func (db *DB) OpenDocument() (string, error) {
	return db.get(keyOpenDocument)
}

func (db *DB) SetOpenDocument(path string) error {
	return db.set(keyOpenDocument, path)
}

func (db *DB) get(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM session WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("state: get %s: %w", key, err)
	}
	return v, nil
}

func (db *DB) set(key, value string) error {
	var err error
	if value == "" {
		_, err = db.conn.Exec(`DELETE FROM session WHERE key = ?`, key)
	} else {
		_, err = db.conn.Exec(`
			INSERT INTO session (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
	}
	if err != nil {
		return fmt.Errorf("state: set %s: %w", key, err)
	}
	return nil
}
