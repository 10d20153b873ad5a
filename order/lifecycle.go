package order

import (
	"errors"
	"fmt"
	"time"

	"tradeflow/trade"
)

// State is derived from the order's timestamps; it is never persisted.
type State string

const (
	StatePlaced     State = "placed"
	StateAccepted   State = "accepted"
	StateDispatched State = "dispatched"
	StateDelivered  State = "delivered"
	StateDeclined   State = "declined"
)

// Transition names a lifecycle step.
type Transition string

const (
	TransitionAccept   Transition = "accept"
	TransitionDecline  Transition = "decline"
	TransitionDispatch Transition = "dispatch"
	TransitionDeliver  Transition = "deliver"
)

var (
	ErrInvalidTransition = errors.New("order: invalid transition")
	ErrForbidden         = errors.New("order: actor not allowed")
	ErrTermsRequired     = errors.New("order: connection has no payment terms")
	ErrNotMonotonic      = errors.New("order: timestamp precedes previous lifecycle event")
	ErrCorrupt           = errors.New("order: inconsistent lifecycle timestamps")
)

type rule struct {
	from     State
	supplier bool
}

// Supplier-only transitions carry supplier=true; deliver is open to both parties.
var rules = map[Transition]rule{
	TransitionAccept:   {from: StatePlaced, supplier: true},
	TransitionDecline:  {from: StatePlaced, supplier: true},
	TransitionDispatch: {from: StateAccepted, supplier: true},
	TransitionDeliver:  {from: StateDispatched},
}

// DeriveState maps timestamp presence to a lifecycle state.
func DeriveState(o trade.Order) State {
	switch {
	case o.DeclinedAt != nil:
		return StateDeclined
	case o.DeliveredAt != nil:
		return StateDelivered
	case o.DispatchedAt != nil:
		return StateDispatched
	case o.AcceptedAt != nil:
		return StateAccepted
	default:
		return StatePlaced
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateDeclined
}

// Authorize checks that role may request t. It does not look at order state.
func Authorize(t Transition, role trade.Role) error {
	r, ok := rules[t]
	if !ok {
		return fmt.Errorf("%w: unknown transition %q", ErrInvalidTransition, t)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: not a participant of this connection", ErrForbidden)
	}
	if r.supplier && role != trade.RoleSupplier {
		return fmt.Errorf("%w: only the supplier can %s an order", ErrForbidden, t)
	}
	return nil
}

// Apply validates t against the current derived state and returns the
// order with exactly one new timestamp set at now. The input is not modified.
func Apply(o trade.Order, t Transition, role trade.Role, now time.Time) (trade.Order, error) {
	if err := Authorize(t, role); err != nil {
		return trade.Order{}, err
	}
	if err := CheckInvariants(o); err != nil {
		return trade.Order{}, err
	}

	current := DeriveState(o)
	want := rules[t].from
	if current != want {
		return trade.Order{}, fmt.Errorf("%w: cannot %s an order that is %s (requires %s)", ErrInvalidTransition, t, current, want)
	}

	if last := latestEvent(o); now.Before(last) {
		return trade.Order{}, fmt.Errorf("%w: %s at %s is before %s", ErrNotMonotonic, t, now.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	next := o
	ts := now
	switch t {
	case TransitionAccept:
		next.AcceptedAt = &ts
	case TransitionDecline:
		next.DeclinedAt = &ts
	case TransitionDispatch:
		next.DispatchedAt = &ts
	case TransitionDeliver:
		next.DeliveredAt = &ts
	}
	return next, nil
}

// CheckInvariants enforces declined XOR delivered and monotonic timestamps.
func CheckInvariants(o trade.Order) error {
	if o.DeclinedAt != nil && (o.DeliveredAt != nil || o.DispatchedAt != nil || o.AcceptedAt != nil) {
		return fmt.Errorf("%w: declined order carries later lifecycle events", ErrCorrupt)
	}
	if o.DeliveredAt != nil && o.DispatchedAt == nil {
		return fmt.Errorf("%w: delivered without dispatch", ErrCorrupt)
	}
	if o.DispatchedAt != nil && o.AcceptedAt == nil {
		return fmt.Errorf("%w: dispatched without acceptance", ErrCorrupt)
	}
	prev := o.CreatedAt
	for _, ts := range []*time.Time{o.AcceptedAt, o.DispatchedAt, o.DeliveredAt} {
		if ts == nil {
			break
		}
		if ts.Before(prev) {
			return fmt.Errorf("%w: timestamps out of order", ErrCorrupt)
		}
		prev = *ts
	}
	if o.DeclinedAt != nil && o.DeclinedAt.Before(o.CreatedAt) {
		return fmt.Errorf("%w: declined before creation", ErrCorrupt)
	}
	return nil
}

func latestEvent(o trade.Order) time.Time {
	last := o.CreatedAt
	for _, ts := range []*time.Time{o.AcceptedAt, o.DispatchedAt, o.DeliveredAt, o.DeclinedAt} {
		if ts != nil && ts.After(last) {
			last = *ts
		}
	}
	return last
}
