package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/clock"
	"github.com/BrandonDHaskell/zorder/internal/filehash"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

// DefaultStopGrace bounds how long a capture process may take to exit
// after a graceful quit before it is killed.
const DefaultStopGrace = 10 * time.Second

type RecorderState int

const (
	StateIdle RecorderState = iota
	StateRecording
	StateStopping
	StateUploading
)

func (s RecorderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateUploading:
		return "uploading"
	}
	return fmt.Sprintf("RecorderState(%d)", int(s))
}

// Process is a running capture.
type Process interface {
	// Terminate asks the process to finish writing and exit.
	Terminate() error
	Kill() error
	// Wait blocks until the process exits. It is called once.
	Wait() error
}

// Launcher starts a capture writing to output that ends on its own
// after limit.
type Launcher interface {
	Launch(output string, limit time.Duration) (Process, error)
}

type RecorderConfig struct {
	Dir       string
	Duration  time.Duration
	Grace     time.Duration
	MachineID string
}

// Recorder owns at most one recording session and drives it from start
// through upload and cleanup.
type Recorder struct {
	cfg      RecorderConfig
	launcher Launcher
	coord    Coordinator
	clock    clock.Clock
	logger   *slog.Logger
	sysinfo  func() SystemInfo

	// onUploaded runs after a successful upload and consume attempt.
	onUploaded func(taskID string)

	mu      sync.Mutex
	state   RecorderState
	session *session
}

type session struct {
	task      types.Task
	path      string
	proc      Process
	startedAt time.Time
	timer     *clock.Timer
	exited    chan struct{}
	finished  chan struct{}
}

func NewRecorder(cfg RecorderConfig, l Launcher, coord Coordinator, clk clock.Clock, logger *slog.Logger) *Recorder {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultStopGrace
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:        cfg,
		launcher:   l,
		coord:      coord,
		clock:      clk,
		logger:     logger,
		sysinfo:    CollectSystemInfo,
		onUploaded: func(string) {},
	}
}

func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start launches a capture for task. It fails with ErrRecorderBusy
// unless the recorder is idle.
func (r *Recorder) Start(task types.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return ErrRecorderBusy
	}
	if r.cfg.Duration <= 0 {
		return &ProcessError{Op: "start", Err: errors.New("recording duration must be positive")}
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o700); err != nil {
		return &ProcessError{Op: "start", Err: err}
	}

	now := r.clock.Now()
	path := filepath.Join(r.cfg.Dir,
		fmt.Sprintf("recording_%s_%s.mp4", fileSafe(r.cfg.MachineID), now.Format("20060102_150405")))

	proc, err := r.launcher.Launch(path, r.cfg.Duration)
	if err != nil {
		return &ProcessError{Op: "start", Err: err}
	}

	s := &session{
		task:      task,
		path:      path,
		proc:      proc,
		startedAt: now,
		exited:    make(chan struct{}),
		finished:  make(chan struct{}),
	}
	r.session = s
	r.state = StateRecording

	go func() {
		if err := proc.Wait(); err != nil {
			r.logger.Debug("capture exited", "err", err)
		}
		close(s.exited)
		r.stop(s, "capture exited")
	}()
	s.timer = r.clock.AfterFunc(r.cfg.Duration, func() { r.stop(s, "duration reached") })

	r.logger.Info("recording started", "action_id", task.ID, "path", path, "limit", r.cfg.Duration.String())
	return nil
}

// Stop ends the current recording early. Only the first of several
// racing stop requests wins; the rest report false.
func (r *Recorder) Stop() bool {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return false
	}
	return r.stop(s, "stop requested")
}

func (r *Recorder) stop(s *session, reason string) bool {
	r.mu.Lock()
	if r.session != s || r.state != StateRecording {
		r.mu.Unlock()
		return false
	}
	r.state = StateStopping
	if s.timer != nil {
		s.timer.Stop()
	}
	r.mu.Unlock()

	r.logger.Info("recording stopping",
		"action_id", s.task.ID, "reason", reason, "elapsed", r.clock.Now().Sub(s.startedAt).String())
	go r.finish(s)
	return true
}

// Wait blocks until the current session, if any, is back to idle or ctx
// ends.
func (r *Recorder) Wait(ctx context.Context) error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops any running capture and waits for its upload to end.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.Stop()
	return r.Wait(ctx)
}

func (r *Recorder) finish(s *session) {
	defer r.cleanup(s)

	r.terminate(s)

	info, err := os.Stat(s.path)
	switch {
	case err != nil:
		r.logger.Error("recording unusable", "err", &ProcessError{Op: "output", Err: err})
		return
	case info.Size() == 0:
		r.logger.Error("recording unusable", "err", &ProcessError{Op: "output", Err: errors.New("empty file")})
		return
	}

	r.mu.Lock()
	r.state = StateUploading
	r.mu.Unlock()

	meta := r.metadata(s, info.Size())
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	if err := r.coord.UploadRecording(ctx, s.path, meta); err != nil {
		r.logger.Error("recording upload failed", "action_id", s.task.ID, "err", err)
		return
	}
	r.logger.Info("recording uploaded", "action_id", s.task.ID, "bytes", info.Size())

	cctx, ccancel := context.WithTimeout(context.Background(), requestTimeout)
	defer ccancel()
	if err := r.coord.Consume(cctx, s.task.ID); err != nil {
		r.logger.Warn("task consume failed", "action_id", s.task.ID, "err", err)
	}
	r.onUploaded(s.task.ID)
}

// terminate asks the capture to quit and kills it once the grace period
// has passed.
func (r *Recorder) terminate(s *session) {
	select {
	case <-s.exited:
		return
	default:
	}
	if err := s.proc.Terminate(); err != nil {
		r.logger.Warn("capture terminate failed", "err", err)
	}
	select {
	case <-s.exited:
	case <-r.clock.After(r.cfg.Grace):
		r.logger.Warn("capture did not exit in time; killing", "grace", r.cfg.Grace.String())
		if err := s.proc.Kill(); err != nil {
			r.logger.Error("capture kill failed", "err", err)
		}
		<-s.exited
	}
}

func (r *Recorder) cleanup(s *session) {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("recording cleanup failed", "path", s.path, "err", err)
	}

	r.mu.Lock()
	if r.session == s {
		r.session = nil
		r.state = StateIdle
	}
	r.mu.Unlock()
	close(s.finished)
	r.logger.Debug("recording session closed", "action_id", s.task.ID)
}

func (r *Recorder) metadata(s *session, size int64) types.RecordingMeta {
	sys := r.sysinfo()
	meta := types.RecordingMeta{
		MachineID: r.cfg.MachineID,
		InvoiceID: s.task.InvoiceID,
		ActionID:  s.task.ID,
		BillerID:  s.task.BillerID,
		Time:      r.clock.Now().Format(time.RFC3339),
		Host:      sys.Host,
		IP:        sys.IP,
		MAC:       sys.MAC,
		OS:        sys.OS,
		Duration:  int(r.cfg.Duration / time.Second),
		FileSize:  size,
	}
	if sum, err := filehash.File(s.path); err != nil {
		r.logger.Warn("recording hash failed", "err", err)
	} else {
		meta.FileHash = sum
	}
	return meta
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
