package agent

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Trigger string

const (
	TriggerTypePrincipal    Trigger = "type-principal"
	TriggerTypeSecretRecord Trigger = "type-secret-record"
	TriggerStopRecording    Trigger = "stop-recording"
)

// ParseTrigger accepts a trigger name or its hotkey alias (f5, f6, f7),
// case-insensitively.
func ParseTrigger(s string) (Trigger, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f5", string(TriggerTypePrincipal):
		return TriggerTypePrincipal, true
	case "f6", string(TriggerTypeSecretRecord):
		return TriggerTypeSecretRecord, true
	case "f7", string(TriggerStopRecording):
		return TriggerStopRecording, true
	}
	return "", false
}

// TriggerSource publishes hotkey events until ctx ends or the source is
// exhausted.
type TriggerSource interface {
	Run(ctx context.Context, out chan<- Trigger) error
}

// LineSource reads one trigger name per line, typically from a FIFO
// written by the desktop's hotkey daemon.
type LineSource struct {
	open   func() (io.ReadCloser, error)
	logger *slog.Logger
}

// NewReaderSource reads triggers from r. Closing is left to the caller.
func NewReaderSource(r io.Reader, logger *slog.Logger) *LineSource {
	return &LineSource{
		open:   func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		logger: orDefault(logger),
	}
}

// NewFIFOSource reads triggers from the named pipe at path. The pipe is
// opened read-write so it never reports EOF when a writer goes away.
func NewFIFOSource(path string, logger *slog.Logger) *LineSource {
	return &LineSource{
		open:   func() (io.ReadCloser, error) { return os.OpenFile(path, os.O_RDWR, 0) },
		logger: orDefault(logger),
	}
}

func (s *LineSource) Run(ctx context.Context, out chan<- Trigger) error {
	rc, err := s.open()
	if err != nil {
		return err
	}
	defer rc.Close()
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, ok := ParseTrigger(line)
		if !ok {
			s.logger.Warn("unknown trigger ignored", "input", line)
			continue
		}
		select {
		case out <- t:
		case <-ctx.Done():
			return nil
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
