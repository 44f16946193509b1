// Package sha256 computes the content digests used for descriptor change
// detection.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements glossary.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Digest(data), nil
}

// Digest is the function form for callers that do not need the interface.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
