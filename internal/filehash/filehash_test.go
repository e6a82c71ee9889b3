package filehash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMatchesStreamingHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o600))

	got, err := File(path)
	require.NoError(t, err)

	h := New()
	_, _ = h.Write([]byte("not really a video"))
	assert.Equal(t, Hex(h), got)
	assert.Len(t, got, 64)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
