package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// OutboxNotifier appends notifications to the outbox table; a relay
// outside this service picks them up for delivery.
type OutboxNotifier struct {
	db Execer
}

func NewOutboxNotifier(db Execer) *OutboxNotifier {
	return &OutboxNotifier{db: db}
}

func (o *OutboxNotifier) Notify(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"recipient_id":  n.RecipientID,
		"entity_id":     n.EntityID,
		"connection_id": n.ConnectionID,
		"message":       n.Message,
	}
	if !n.CreatedAt.IsZero() {
		payload["created_at"] = n.CreatedAt.UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := o.db.Exec(ctx, q, string(n.EventType), body); err != nil {
		return fmt.Errorf("notify: enqueue outbox: %w", err)
	}
	return nil
}
