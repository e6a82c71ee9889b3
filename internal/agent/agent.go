// Package agent is the endpoint side of the approval flow: it polls the
// coordinator for approved tasks, holds a time-bounded arm window, and
// turns hotkey triggers into typed credentials and an audit recording.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/clock"
	"github.com/BrandonDHaskell/zorder/internal/vault"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

// shutdownWait bounds how long Run waits for an in-flight upload once
// its context ends.
const shutdownWait = 30 * time.Second

// CredentialSource yields the stored principal and secret.
type CredentialSource interface {
	Load() (vault.Credentials, bool, error)
}

// Typer injects keystrokes into the focused window.
type Typer interface {
	Type(ctx context.Context, text string) error
	Submit(ctx context.Context) error
}

type Dependencies struct {
	Logger      *slog.Logger
	Clock       clock.Clock
	Coordinator Coordinator
	Credentials CredentialSource
	Typer       Typer
	Recorder    *Recorder

	PollInterval time.Duration
	ArmDuration  time.Duration
}

// ArmState is a snapshot of the arm window.
type ArmState struct {
	Armed   bool
	Task    *types.Task
	ArmedAt time.Time
}

type Agent struct {
	logger   *slog.Logger
	clock    clock.Clock
	coord    Coordinator
	creds    CredentialSource
	typer    Typer
	recorder *Recorder

	pollInterval time.Duration
	armDuration  time.Duration

	mu      sync.Mutex
	armed   bool
	task    *types.Task
	armedAt time.Time
}

func New(d Dependencies) *Agent {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	a := &Agent{
		logger:       logger,
		clock:        clk,
		coord:        d.Coordinator,
		creds:        d.Credentials,
		typer:        d.Typer,
		recorder:     d.Recorder,
		pollInterval: d.PollInterval,
		armDuration:  d.ArmDuration,
	}
	if a.recorder != nil {
		a.recorder.onUploaded = a.completeTask
	}
	return a
}

// State returns a copy of the current arm window.
func (a *Agent) State() ArmState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := ArmState{Armed: a.armed, ArmedAt: a.armedAt}
	if a.task != nil {
		t := *a.task
		st.Task = &t
	}
	return st
}

// Run polls on a fixed period and handles triggers until ctx ends. It
// then stops any recording and waits briefly for its upload.
func (a *Agent) Run(ctx context.Context, triggers <-chan Trigger) error {
	if a.pollInterval <= 0 {
		return errors.New("agent: poll interval must be positive")
	}
	a.logger.Info("agent started", "poll", a.pollInterval.String(), "arm_window", a.armDuration.String())

	ticker := a.clock.NewTicker(a.pollInterval)
	defer ticker.Stop()

	a.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C:
			a.PollOnce(ctx)
		case t, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			a.HandleTrigger(ctx, t)
		}
	}
}

func (a *Agent) shutdown() error {
	if a.recorder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := a.recorder.Shutdown(ctx); err != nil {
		a.logger.Warn("recording still in flight at shutdown", "err", err)
	}
	a.logger.Info("agent stopped")
	return nil
}

// PollOnce runs one reconciliation cycle: look for a task, then check
// expiry of the current one. A task armed in this cycle is not expiry
// checked until the next. Poll failures never skip the expiry check.
func (a *Agent) PollOnce(ctx context.Context) {
	if a.checkForTask(ctx) {
		return
	}
	a.checkExpiry()
}

func (a *Agent) checkForTask(ctx context.Context) bool {
	tasks, err := a.coord.Tasks(ctx)
	if err != nil {
		a.logger.Warn("task poll failed", "err", err)
		return false
	}
	if len(tasks) == 0 {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.armed {
		return false
	}
	t := tasks[0]
	a.armed = true
	a.task = &t
	a.armedAt = a.clock.Now()
	a.logger.Info("agent armed", "action_id", t.ID, "invoice_id", t.InvoiceID, "window", a.armDuration.String())
	return true
}

func (a *Agent) checkExpiry() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed {
		return
	}
	if a.clock.Now().Sub(a.armedAt) > a.armDuration {
		a.logger.Info("arm window expired", "action_id", a.task.ID)
		a.disarmLocked()
	}
}

// completeTask disarms after a successful upload, unless the window has
// since moved on to another task.
func (a *Agent) completeTask(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed || a.task == nil || a.task.ID != id {
		return
	}
	a.logger.Info("task completed", "action_id", id)
	a.disarmLocked()
}

func (a *Agent) disarmLocked() {
	a.armed = false
	a.task = nil
	a.armedAt = time.Time{}
	a.logger.Info("agent disarmed")
}

func (a *Agent) armedTask() (types.Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed || a.task == nil {
		return types.Task{}, false
	}
	return *a.task, true
}

// HandleTrigger performs one hotkey action. Unmet preconditions are
// logged and otherwise ignored.
func (a *Agent) HandleTrigger(ctx context.Context, t Trigger) {
	switch t {
	case TriggerTypePrincipal:
		a.typePrincipal(ctx)
	case TriggerTypeSecretRecord:
		a.typeSecretAndRecord(ctx)
	case TriggerStopRecording:
		if a.recorder == nil || !a.recorder.Stop() {
			a.logger.Info("stop ignored: not recording")
		}
	default:
		a.logger.Warn("unknown trigger", "trigger", string(t))
	}
}

func (a *Agent) typePrincipal(ctx context.Context) {
	if _, ok := a.armedTask(); !ok {
		a.logger.Info("type-principal ignored: not armed")
		return
	}
	creds, ok := a.loadCredentials()
	if !ok {
		return
	}
	if err := a.typer.Type(ctx, creds.Principal); err != nil {
		a.logger.Error("type principal failed", "err", err)
		return
	}
	a.logger.Info("principal typed")
}

func (a *Agent) typeSecretAndRecord(ctx context.Context) {
	task, ok := a.armedTask()
	if !ok {
		a.logger.Info("type-secret ignored: not armed")
		return
	}
	if a.recorder == nil {
		a.logger.Error("type-secret ignored: no recorder")
		return
	}
	if st := a.recorder.State(); st != StateIdle {
		a.logger.Warn("type-secret ignored: recording in progress", "state", st.String())
		return
	}
	creds, ok := a.loadCredentials()
	if !ok {
		return
	}
	if err := a.typer.Type(ctx, creds.Secret); err != nil {
		a.logger.Error("type secret failed", "err", err)
		return
	}
	if err := a.typer.Submit(ctx); err != nil {
		a.logger.Error("submit keystroke failed", "err", err)
		return
	}
	if err := a.recorder.Start(task); err != nil {
		a.logger.Error("recording not started", "action_id", task.ID, "err", err)
	}
}

func (a *Agent) loadCredentials() (vault.Credentials, bool) {
	creds, found, err := a.creds.Load()
	if err != nil {
		a.logger.Error("credential vault unavailable", "err", err)
		return vault.Credentials{}, false
	}
	if !found {
		a.logger.Warn("no stored credentials")
		return vault.Credentials{}, false
	}
	return creds, true
}
