// Package notify delivers domain notifications to the counterparty of a
// mutating interaction. Delivery guarantees belong to the implementation.
package notify

import (
	"context"
	"errors"
	"time"
)

// EventType names the interaction that produced a notification.
type EventType string

const (
	EventConnectionCreated EventType = "connection.created"
	EventTermsUpdated      EventType = "connection.terms_updated"
	EventOrderCreated      EventType = "order.created"
	EventOrderAccepted     EventType = "order.accepted"
	EventOrderDeclined     EventType = "order.declined"
	EventOrderDispatched   EventType = "order.dispatched"
	EventOrderDelivered    EventType = "order.delivered"
	EventPaymentRecorded   EventType = "payment.recorded"
	EventPaymentDisputed   EventType = "payment.disputed"
	EventPaymentAccepted   EventType = "payment.accepted"
	EventIssueRaised       EventType = "issue.raised"
	EventIssueResolved     EventType = "issue.resolved"
)

// Notification is the tuple handed to a Notifier.
type Notification struct {
	RecipientID  string
	EventType    EventType
	EntityID     string
	ConnectionID string
	Message      string
	CreatedAt    time.Time
}

// Notifier receives notifications emitted after successful mutations.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Multi fans a notification out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps notifications in memory; useful for tests and dry runs.
type Recorder struct {
	Sent []Notification
	Err  error
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, n)
	return nil
}
