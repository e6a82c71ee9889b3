package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/BrandonDHaskell/zorder/internal/archive"
	"github.com/BrandonDHaskell/zorder/internal/filehash"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

const recordingMIME = "video/mp4"

// MediaSender forwards a stored recording to the owner.
type MediaSender interface {
	UploadMedia(ctx context.Context, path, mimeType string) (string, error)
	SendVideo(ctx context.Context, mediaID, caption string) error
}

// Upload is one received recording.
type Upload struct {
	Filename string
	Body     io.Reader
	// Meta is the raw "meta" form value; invalid JSON is tolerated.
	Meta string
}

type RecordingService struct {
	dir      string
	media    MediaSender
	archiver archive.Archiver
	logger   *slog.Logger
}

// NewRecordingService stores uploads under dir. archiver may be nil.
func NewRecordingService(dir string, m MediaSender, a archive.Archiver, logger *slog.Logger) *RecordingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingService{dir: dir, media: m, archiver: a, logger: logger}
}

// Receive saves the upload, checks its content hash when the agent sent
// one, archives it and forwards it to the owner. Messaging failures are
// returned; archive failures are only logged.
func (s *RecordingService) Receive(ctx context.Context, up Upload) error {
	if up.Body == nil {
		return ErrFileMissing
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir upload dir: %w", err)
	}

	base := safeName(up.Filename)
	f, err := os.CreateTemp(s.dir, "*-"+base)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	dst := f.Name()

	h := filehash.New()
	size, err := io.Copy(io.MultiWriter(f, h), up.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("save upload: %w", err)
	}
	sum := filehash.Hex(h)

	var meta types.RecordingMeta
	if strings.TrimSpace(up.Meta) != "" {
		if err := json.Unmarshal([]byte(up.Meta), &meta); err != nil {
			s.logger.Warn("recording meta is not valid json", "err", err)
		}
	}

	if meta.FileHash != "" && !strings.EqualFold(meta.FileHash, sum) {
		_ = os.Remove(dst)
		s.logger.Warn("recording hash mismatch",
			"action_id", meta.ActionID, "machine_id", meta.MachineID, "want", meta.FileHash, "got", sum)
		return ErrHashMismatch
	}

	s.logger.Info("recording received",
		"action_id", meta.ActionID, "machine_id", meta.MachineID, "bytes", size, "path", dst)

	archived := false
	if s.archiver != nil {
		key := path.Join(keyPart(meta.MachineID), filepath.Base(dst))
		if err := s.archiver.Archive(ctx, key, dst); err != nil {
			s.logger.Warn("recording archive failed", "key", key, "err", err)
		} else {
			archived = true
		}
	}

	mediaID, err := s.media.UploadMedia(ctx, dst, recordingMIME)
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}
	if err := s.media.SendVideo(ctx, mediaID, caption(meta, size)); err != nil {
		return fmt.Errorf("send video: %w", err)
	}

	if archived {
		if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("remove archived upload", "path", dst, "err", err)
		}
	}
	return nil
}

func caption(meta types.RecordingMeta, size int64) string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+": "+v)
		}
	}
	add("invoice_id", meta.InvoiceID)
	add("machine_id", meta.MachineID)
	add("host", meta.Host)
	add("ip", meta.IP)
	add("time", meta.Time)
	add("size", humanize.Bytes(uint64(size)))
	return strings.Join(parts, " | ")
}

func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "recording.mp4"
	}
	return strings.Map(func(r rune) rune {
		if r == '*' || r == '/' || r < 0x20 {
			return '_'
		}
		return r
	}, base)
}

func keyPart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
