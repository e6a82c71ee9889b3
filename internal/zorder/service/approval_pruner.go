package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
)

// ApprovalPruner periodically deletes terminal approvals (denied, or
// allowed and consumed) older than the retention period. Pending and
// armed approvals are never touched.
//
// A retention of 0 disables pruning entirely.
type ApprovalPruner struct {
	store     store.ApprovalStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

type PrunerConfig struct {
	// RetentionDays is how long terminal approvals are kept.
	// 0 keeps everything and the pruner does not start.
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewApprovalPruner creates a pruner but does not start it.
func NewApprovalPruner(s store.ApprovalStore, cfg PrunerConfig, logger *slog.Logger) *ApprovalPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ApprovalPruner{
		store:     s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start prunes once immediately, then on every interval until ctx is
// cancelled or Stop is called.
func (p *ApprovalPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info("approval pruner disabled", "retention_days", 0)
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("approval pruner started",
		"retention_days", int(p.retention.Hours()/24), "interval", p.interval.String())
}

// Stop signals the pruner to exit and waits for it.
func (p *ApprovalPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *ApprovalPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce runs a single pruning pass and returns the rows removed.
func (p *ApprovalPruner) PruneOnce(ctx context.Context) int64 {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneTerminalOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("approval prune failed", "err", err)
		return 0
	}
	if deleted > 0 {
		p.logger.Info("approvals pruned", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted
}
