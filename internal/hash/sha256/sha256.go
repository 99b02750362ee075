// Package sha256 digests page URLs so artifact names for query-string
// variants stay distinct and stable across runs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements convert.Hasher. Hashing cannot fail; the error return
// exists for the interface.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the 64-character hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	var buf [sha256.Size * 2]byte
	sum := sha256.Sum256(data)
	hex.Encode(buf[:], sum[:])
	return string(buf[:]), nil
}
