// Package sha256 content-addresses raw article snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var errEmpty = errors.New("nothing to hash")

// Hasher implements crawler.Hasher. The digest names the snapshot object, so
// identical HTML fetched twice lands on the same blob.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. Empty input is rejected.
func (*Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errEmpty
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
