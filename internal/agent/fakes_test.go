package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/vault"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// ── Coordinator ─────────────────────────────────────────────────────

type upload struct {
	meta types.RecordingMeta
	data []byte
}

type fakeCoordinator struct {
	mu        sync.Mutex
	tasks     []types.Task
	tasksErr  error
	polls     int
	consumed  []string
	uploads   []upload
	uploadErr error
}

func (c *fakeCoordinator) Tasks(context.Context) ([]types.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.tasksErr != nil {
		return nil, c.tasksErr
	}
	return append([]types.Task(nil), c.tasks...), nil
}

func (c *fakeCoordinator) Consume(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumed = append(c.consumed, id)
	return nil
}

func (c *fakeCoordinator) UploadRecording(_ context.Context, path string, meta types.RecordingMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uploadErr != nil {
		return c.uploadErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c.uploads = append(c.uploads, upload{meta: meta, data: data})
	return nil
}

func (c *fakeCoordinator) setTasks(tasks ...types.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = tasks
}

func (c *fakeCoordinator) setTasksErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksErr = err
}

func (c *fakeCoordinator) setUploadErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadErr = err
}

func (c *fakeCoordinator) snapshot() (consumed []string, uploads []upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.consumed...), append([]upload(nil), c.uploads...)
}

// ── Capture ─────────────────────────────────────────────────────────

type fakeProcess struct {
	mu         sync.Mutex
	ignoreTerm bool
	terminated bool
	killed     bool
	exit       chan struct{}
	exitOnce   sync.Once
}

func newFakeProcess(ignoreTerm bool) *fakeProcess {
	return &fakeProcess{ignoreTerm: ignoreTerm, exit: make(chan struct{})}
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.finish()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.finish()
	return nil
}

func (p *fakeProcess) Wait() error {
	<-p.exit
	return nil
}

// finish simulates the process exiting on its own.
func (p *fakeProcess) finish() { p.exitOnce.Do(func() { close(p.exit) }) }

func (p *fakeProcess) state() (terminated, killed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

type fakeLauncher struct {
	mu         sync.Mutex
	content    []byte // nil leaves no file behind
	err        error
	ignoreTerm bool
	procs      []*fakeProcess
	outputs    []string
}

func (l *fakeLauncher) Launch(output string, _ time.Duration) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.content != nil {
		if err := os.WriteFile(output, l.content, 0o600); err != nil {
			return nil, err
		}
	}
	p := newFakeProcess(l.ignoreTerm)
	l.procs = append(l.procs, p)
	l.outputs = append(l.outputs, output)
	return p, nil
}

func (l *fakeLauncher) launched() ([]*fakeProcess, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProcess(nil), l.procs...), append([]string(nil), l.outputs...)
}

// ── Typing and credentials ──────────────────────────────────────────

type fakeTyper struct {
	mu      sync.Mutex
	typed   []string
	submits int
	err     error
}

func (t *fakeTyper) Type(_ context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.typed = append(t.typed, text)
	return nil
}

func (t *fakeTyper) Submit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.submits++
	return nil
}

func (t *fakeTyper) snapshot() ([]string, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.typed...), t.submits
}

type memCreds struct {
	creds vault.Credentials
	found bool
	err   error
}

func (m memCreds) Load() (vault.Credentials, bool, error) { return m.creds, m.found, m.err }

var (
	storedCreds = memCreds{creds: vault.Credentials{Principal: "alice", Secret: "s3cret!"}, found: true}
	noCreds     = memCreds{}
	brokenVault = memCreds{err: &vault.CryptoError{Op: "decrypt", Field: "secret", Err: errors.New("auth failed")}}
)

func fixedSysinfo() SystemInfo {
	return SystemInfo{Host: "host-1", IP: "10.0.0.5", MAC: "aa:bb:cc:dd:ee:ff", OS: "Linux 6.8"}
}
