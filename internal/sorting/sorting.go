// Package sorting orders library paths for display. Ordering follows the
// tree: ancestors come before their descendants and, at any shared level,
// folders come before documents whatever the method.
package sorting

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/scriptorium/internal/project"
)

// Method selects how siblings of the same kind are ordered.
type Method int

const (
	AlphanumericAsc Method = iota
	AlphanumericDesc
	ModifiedAsc
	ModifiedDesc
)

var methodNames = map[Method]string{
	AlphanumericAsc:  "alphanumeric_asc",
	AlphanumericDesc: "alphanumeric_desc",
	ModifiedAsc:      "modified_asc",
	ModifiedDesc:     "modified_desc",
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// MethodNames lists the accepted method names in declaration order.
func MethodNames() []string {
	return []string{"alphanumeric_asc", "alphanumeric_desc", "modified_asc", "modified_desc"}
}

// ParseMethod parses a method name. The empty string selects AlphanumericAsc.
func ParseMethod(s string) (Method, error) {
	if s == "" {
		return AlphanumericAsc, nil
	}
	for m, name := range methodNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("sorting: unknown method %q", s)
}

// Key is what the comparator needs to know about one path.
type Key struct {
	IsDir     bool
	Collation string
	Modified  time.Time
}

// Cache holds sort keys by path. It is safe for concurrent use.
type Cache struct {
	mu   sync.RWMutex
	keys map[string]Key
}

func NewCache() *Cache {
	return &Cache{keys: make(map[string]Key)}
}

func (c *Cache) Set(path string, k Key) {
	c.mu.Lock()
	c.keys[filepath.Clean(path)] = k
	c.mu.Unlock()
}

// Remove drops path and everything beneath it.
func (c *Cache) Remove(path string) {
	path = filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.keys[path]
	delete(c.keys, path)
	if !ok || !k.IsDir {
		return
	}
	for p := range c.keys {
		if project.Within(path, p) {
			delete(c.keys, p)
		}
	}
}

func (c *Cache) Get(path string) (Key, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[filepath.Clean(path)]
	return k, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// SetFolder and SetDocument record snapshot keys.
func (c *Cache) SetFolder(f project.Folder) {
	c.Set(f.Path, Key{IsDir: true, Collation: f.CollationKey, Modified: f.Modified})
}

func (c *Cache) SetDocument(d project.Document) {
	c.Set(d.Path, Key{Collation: d.CollationKey, Modified: d.Modified})
}

// Observe keeps the cache in step with a project's events. It is meant to
// be registered as a project.Handler.
func (c *Cache) Observe(ev project.Event) {
	switch e := ev.(type) {
	case project.FolderAdded:
		c.SetFolder(e.Folder)
	case project.DocumentAdded:
		c.SetDocument(e.Document)
	case project.MetadataChanged:
		path := filepath.Clean(e.Path)
		c.mu.Lock()
		if k, ok := c.keys[path]; ok {
			k.Modified = e.Modified
			c.keys[path] = k
		}
		c.mu.Unlock()
	case project.ItemRemoved:
		c.Remove(e.Path)
	}
}

// Compare returns a negative number when a sorts before b, a positive one
// when it sorts after and zero when they are equal.
//
// The two paths are compared at the first level where their ancestor
// chains diverge. An ancestor sorts before its descendants. When a key
// needed for the comparison is missing, the absent side sorts smaller and
// two absent sides are equal.
func (c *Cache) Compare(m Method, a, b string) int {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if a == b {
		return 0
	}
	pa, pb := splitPath(a), splitPath(b)
	i := 0
	for i < len(pa) && i < len(pb) && pa[i] == pb[i] {
		i++
	}
	switch {
	case i == len(pa):
		return -1
	case i == len(pb):
		return 1
	}

	na := strings.Join(pa[:i+1], string(filepath.Separator))
	nb := strings.Join(pb[:i+1], string(filepath.Separator))

	c.mu.RLock()
	ka, okA := c.keys[na]
	kb, okB := c.keys[nb]
	c.mu.RUnlock()

	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return compareKeys(m, ka, kb, pa[i], pb[i])
}

func compareKeys(m Method, a, b Key, nameA, nameB string) int {
	if a.IsDir != b.IsDir {
		if a.IsDir {
			return -1
		}
		return 1
	}

	var r int
	switch m {
	case AlphanumericDesc:
		r = -compareNames(a, b, nameA, nameB)
	case ModifiedAsc:
		r = a.Modified.Compare(b.Modified)
	case ModifiedDesc:
		r = b.Modified.Compare(a.Modified)
	default:
		r = compareNames(a, b, nameA, nameB)
	}
	if r == 0 {
		r = compareNames(a, b, nameA, nameB)
	}
	return r
}

// compareNames orders by collation key and falls back to the raw name so
// that distinct siblings never compare equal.
func compareNames(a, b Key, nameA, nameB string) int {
	if r := strings.Compare(a.Collation, b.Collation); r != 0 {
		return r
	}
	return strings.Compare(nameA, nameB)
}

// Sort orders paths in place.
func (c *Cache) Sort(m Method, paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		return c.Compare(m, paths[i], paths[j]) < 0
	})
}

func splitPath(p string) []string {
	return strings.Split(p, string(filepath.Separator))
}
