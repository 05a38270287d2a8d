// Package checksum provides the content digests used across the indexing core.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data. Used for the
// whole-file quick filter.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Text returns the hex-encoded SHA-256 digest of s after whitespace
// normalization, so a block's hash depends on its words only, never on
// indentation, wrapping, or position in the file.
func Text(s string) string {
	normalized := strings.Join(strings.Fields(s), " ")
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}
