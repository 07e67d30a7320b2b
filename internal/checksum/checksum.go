// Package checksum fingerprints document content for optimistic
// concurrency between editors.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether data still has the checksum want. An empty want
// matches anything.
func Matches(data []byte, want string) bool {
	return want == "" || Sum(data) == want
}

// ETag formats sum as a strong HTTP entity tag.
func ETag(sum string) string {
	return `"` + sum + `"`
}

// FromETag extracts the checksum from an If-Match or ETag header value.
// Weak tags and unquoted values are accepted.
func FromETag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}
