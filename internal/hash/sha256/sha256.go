// Package sha256 names archived documents by the SHA-256 digest of their bytes.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. Empty input is rejected so an
// empty download never claims the well-known empty-string digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("hash: empty input")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectPath joins prefix, digest and extension into an object name such as
// documents/ab12....pdf.
func ObjectPath(prefix, digest, ext string) string {
	name := digest
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		return prefix + "/" + name
	}
	return name
}
