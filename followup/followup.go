// Package followup runs the side effects every mutating interaction
// triggers: health recomputation for the connection and a notification to
// the counterparty. Both are best effort; failures are logged and never
// undo the mutation that caused them.
package followup

import (
	"context"

	"go.uber.org/zap"

	"tradeflow/notify"
)

// HealthRefresher recomputes and caches a connection's health label.
type HealthRefresher interface {
	RefreshHealth(ctx context.Context, connectionID string) error
}

type Runner struct {
	refresher HealthRefresher
	notifier  notify.Notifier
	logger    *zap.Logger
}

// New builds a Runner; nil collaborators are skipped.
func New(refresher HealthRefresher, notifier notify.Notifier, logger *zap.Logger) *Runner {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{refresher: refresher, notifier: notifier, logger: logger}
}

// After refreshes the connection's health then emits n.
func (r *Runner) After(ctx context.Context, connectionID string, n notify.Notification) {
	if r == nil {
		return
	}
	if r.refresher != nil {
		if err := r.refresher.RefreshHealth(ctx, connectionID); err != nil {
			r.logger.Warn("health recompute failed; cached label is stale",
				zap.String("connection_id", connectionID),
				zap.String("event_type", string(n.EventType)),
				zap.Error(err))
		}
	}
	if n.RecipientID == "" {
		return
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.logger.Warn("notification dispatch failed",
			zap.String("recipient_id", n.RecipientID),
			zap.String("event_type", string(n.EventType)),
			zap.String("entity_id", n.EntityID),
			zap.Error(err))
	}
}
