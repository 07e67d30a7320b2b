// Package collation computes locale-aware sort keys for display names.
package collation

import (
	"fmt"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collator produces binary collation keys. A collate.Collator is not safe
// for concurrent use, so every key computation is serialised.
type Collator struct {
	mu  sync.Mutex
	c   *collate.Collator
	buf collate.Buffer
}

// New returns a Collator for the given BCP 47 tag. An empty tag selects the
// root locale.
func New(tag string) (*Collator, error) {
	t := language.Und
	if tag != "" {
		parsed, err := language.Parse(tag)
		if err != nil {
			return nil, fmt.Errorf("collation: parse locale %q: %w", tag, err)
		}
		t = parsed
	}
	return &Collator{c: collate.New(t, collate.IgnoreCase, collate.Numeric)}, nil
}

var (
	defaultOnce sync.Once
	defaultColl *Collator
)

// Default returns the shared root-locale collator.
func Default() *Collator {
	defaultOnce.Do(func() {
		defaultColl = &Collator{c: collate.New(language.Und, collate.IgnoreCase, collate.Numeric)}
	})
	return defaultColl
}

// Key returns the collation key for s. Keys compare with plain string
// comparison.
func (c *Collator) Key(s string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	return string(c.c.KeyFromString(&c.buf, s))
}
