// Package archive copies received recordings to long-term storage
// before the local copy is forwarded and removed.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Archiver stores the file at path under key.
type Archiver interface {
	Archive(ctx context.Context, key, path string) error
	Close() error
}

// New selects an Archiver from rawURL:
//
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://minio:9000
//	gs://bucket/prefix
//	file:///var/lib/zorder/archive
//
// An empty URL returns nil, nil.
func New(ctx context.Context, rawURL string) (Archiver, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse archive url: %w", err)
	}
	prefix := strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix += "/"
	}

	switch u.Scheme {
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("archive url %q: missing bucket", rawURL)
		}
		q := u.Query()
		return NewS3(ctx, S3Config{
			Bucket:   u.Host,
			Prefix:   prefix,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		})
	case "gs":
		if u.Host == "" {
			return nil, fmt.Errorf("archive url %q: missing bucket", rawURL)
		}
		return NewGCS(ctx, GCSConfig{Bucket: u.Host, Prefix: prefix})
	case "file":
		return NewDir(u.Path)
	default:
		return nil, fmt.Errorf("archive url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
}

// Dir archives into a local directory.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("archive dir: empty path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir archive dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Archive(_ context.Context, key, path string) error {
	dst := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir archive: %w", err)
	}
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy recording: %w", err)
	}
	return out.Close()
}

func (d *Dir) Close() error { return nil }
