package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/zorder/internal/dedup"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

// TaskLimit caps the task list returned to an agent.
const TaskLimit = 10

const (
	replyAllow = "yes_"
	replyDeny  = "no_"

	deniedText  = "❌ Request rejected. Agent will not run."
	allowedText = "✅ Approved. Agent armed for next login (F5/F6)."
)

// Notifier delivers approval prompts and confirmations to the owner.
type Notifier interface {
	SendButtons(ctx context.Context, text, actionID string) error
	SendText(ctx context.Context, text string) error
}

type ApprovalService struct {
	store    store.ApprovalStore
	notifier Notifier
	seen     dedup.Deduper
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewApprovalService wires the approval state machine. A nil deduper
// falls back to an in-memory one-hour window.
func NewApprovalService(st store.ApprovalStore, n Notifier, d dedup.Deduper, logger *slog.Logger) *ApprovalService {
	if d == nil {
		d = dedup.NewMemory(time.Hour)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalService{
		store:    st,
		notifier: n,
		seen:     d,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// CreateApproval records a pending approval and asks the owner to
// decide. When the prompt cannot be sent the record stays pending and
// the error wraps the messaging failure.
func (s *ApprovalService) CreateApproval(ctx context.Context, req types.BillEditedRequest) (string, error) {
	req = types.BillEditedRequest{
		InvoiceID: strings.TrimSpace(req.InvoiceID),
		BillerID:  strings.TrimSpace(req.BillerID),
		MachineID: strings.TrimSpace(req.MachineID),
		AdminURL:  strings.TrimSpace(req.AdminURL),
	}
	switch {
	case req.InvoiceID == "":
		return "", &ValidationError{Field: "invoice_id"}
	case req.BillerID == "":
		return "", &ValidationError{Field: "biller_id"}
	case req.MachineID == "":
		return "", &ValidationError{Field: "machine_id"}
	}

	id := s.newID()
	rec := store.ApprovalRecord{
		ID:        id,
		InvoiceID: req.InvoiceID,
		BillerID:  req.BillerID,
		MachineID: req.MachineID,
		AdminURL:  req.AdminURL,
		Status:    types.StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("insert approval: %w", err)
	}

	if err := s.notifier.SendButtons(ctx, approvalText(req), id); err != nil {
		s.logger.Warn("approval prompt not delivered", "action_id", id, "err", err)
		return "", fmt.Errorf("%w: %w", ErrNotifyFailed, err)
	}

	s.logger.Info("approval requested",
		"action_id", id, "invoice_id", req.InvoiceID, "biller_id", req.BillerID, "machine_id", req.MachineID)
	return id, nil
}

// HandleDecision applies a button reply id. It reports whether a
// pending record actually changed state; unknown prefixes, unknown ids
// and repeated or conflicting decisions change nothing.
func (s *ApprovalService) HandleDecision(ctx context.Context, replyID string) (bool, error) {
	var (
		status types.Status
		id     string
	)
	switch {
	case strings.HasPrefix(replyID, replyAllow):
		status, id = types.StatusAllowed, strings.TrimPrefix(replyID, replyAllow)
	case strings.HasPrefix(replyID, replyDeny):
		status, id = types.StatusDenied, strings.TrimPrefix(replyID, replyDeny)
	default:
		return false, nil
	}
	if id == "" {
		return false, nil
	}

	changed, err := s.store.Decide(ctx, id, status, s.now())
	if err != nil {
		return false, fmt.Errorf("decide %s: %w", id, err)
	}
	if !changed {
		s.logger.Debug("decision ignored", "action_id", id, "status", status)
		return false, nil
	}
	s.logger.Info("approval decided", "action_id", id, "status", status)

	text := allowedText
	if status == types.StatusDenied {
		text = deniedText
	}
	if err := s.notifier.SendText(ctx, text); err != nil {
		s.logger.Warn("confirmation not delivered", "action_id", id, "err", err)
	}
	return true, nil
}

// HandleWebhook applies every button reply in p, skipping message ids
// already processed. It returns the number of approvals that changed.
func (s *ApprovalService) HandleWebhook(ctx context.Context, p types.WebhookPayload) int {
	applied := 0
	for _, r := range p.ButtonReplies() {
		claimed := false
		if r.MessageID != "" {
			seen, err := s.seen.Seen(ctx, r.MessageID)
			if err != nil {
				// Decide is conditional; proceed without dedup.
				s.logger.Warn("webhook dedup unavailable", "err", err)
			} else if seen {
				s.logger.Debug("duplicate webhook message", "message_id", r.MessageID)
				continue
			} else {
				claimed = true
			}
		}
		changed, err := s.HandleDecision(ctx, r.ReplyID)
		if err != nil {
			s.logger.Error("webhook decision failed", "reply_id", r.ReplyID, "err", err)
			// Only an applied decision counts as seen.
			if claimed {
				if ferr := s.seen.Forget(ctx, r.MessageID); ferr != nil {
					s.logger.Warn("webhook dedup release failed", "message_id", r.MessageID, "err", ferr)
				}
			}
			continue
		}
		if changed {
			applied++
		}
	}
	return applied
}

// ListPendingTasks returns up to TaskLimit allowed, unconsumed
// approvals for machineID, newest first.
func (s *ApprovalService) ListPendingTasks(ctx context.Context, machineID string) ([]types.Task, error) {
	machineID = strings.TrimSpace(machineID)
	if machineID == "" {
		return nil, &ValidationError{Field: "machine_id"}
	}
	recs, err := s.store.ListTasks(ctx, machineID, TaskLimit)
	if err != nil {
		return nil, err
	}
	out := make([]types.Task, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Task())
	}
	return out, nil
}

// Consume marks an allowed approval as used. Unknown, pending, denied
// and already consumed ids are accepted without change.
func (s *ApprovalService) Consume(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ValidationError{Field: "id"}
	}
	changed, err := s.store.Consume(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("consume %s: %w", id, err)
	}
	if changed {
		s.logger.Info("approval consumed", "action_id", id)
	}
	return nil
}

// ArmStatus reports the newest approval an agent on machineID could arm
// with. It does not change any state.
func (s *ApprovalService) ArmStatus(ctx context.Context, machineID string) (types.ArmStatus, error) {
	machineID = strings.TrimSpace(machineID)
	if machineID == "" {
		return types.ArmStatus{}, &ValidationError{Field: "machine_id"}
	}
	recs, err := s.store.ListTasks(ctx, machineID, 1)
	if err != nil {
		return types.ArmStatus{}, err
	}
	if len(recs) == 0 {
		return types.ArmStatus{Armed: false, MachineID: machineID}, nil
	}
	return types.ArmStatus{
		Armed:     true,
		ActionID:  recs[0].ID,
		CreatedAt: recs[0].CreatedAt.UTC().Format(time.RFC3339Nano),
		MachineID: machineID,
	}, nil
}

func approvalText(req types.BillEditedRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Biller %s edited bill %s on %s.\n", req.BillerID, req.InvoiceID, req.MachineID)
	if req.AdminURL != "" {
		fmt.Fprintf(&b, "Admin: %s\n", req.AdminURL)
	}
	b.WriteString("Allow auto-login + screen recording?")
	return b.String()
}
