// Package filehash computes the recording content hash shared by the
// agent and the server.
package filehash

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// New returns a hasher whose Sum can be formatted with Hex.
func New() hash.Hash { return blake3.New() }

func Hex(h hash.Hash) string { return hex.EncodeToString(h.Sum(nil)) }

// File returns the hex blake3 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return Hex(h), nil
}
