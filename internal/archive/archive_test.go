package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecording(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording_M1.mp4")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewEmptyURL(t *testing.T) {
	a, err := New(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	_, err := New(context.Background(), "ftp://host/x")
	assert.Error(t, err)

	_, err = New(context.Background(), "s3:///prefix")
	assert.Error(t, err, "bucket is required")
}

func TestDirArchive(t *testing.T) {
	root := t.TempDir()
	a, err := New(context.Background(), "file://"+filepath.ToSlash(root))
	require.NoError(t, err)
	defer a.Close()

	src := writeRecording(t, "frames")
	require.NoError(t, a.Archive(context.Background(), "2026/03/rec.mp4", src))

	got, err := os.ReadFile(filepath.Join(root, "2026", "03", "rec.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "frames", string(got))
}

func TestS3ArchivePutsObject(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		if r.Method == http.MethodPut {
			gotPath, gotBody = r.URL.Path, b
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewS3(context.Background(), S3Config{
		Bucket:      "recordings",
		Prefix:      "zorder/",
		Region:      "us-east-1",
		Endpoint:    srv.URL,
		Credentials: aws.AnonymousCredentials{},
	})
	require.NoError(t, err)

	src := writeRecording(t, "mp4")
	require.NoError(t, a.Archive(context.Background(), "rec.mp4", src))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/recordings/zorder/rec.mp4", gotPath)
	assert.Equal(t, "mp4", string(gotBody))
}
