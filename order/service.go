package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeflow/followup"
	"tradeflow/notify"
	"tradeflow/trade"
)

var ErrInvalidOrder = errors.New("order: invalid order")

// Repository abstracts order persistence for the service.
type Repository interface {
	Create(ctx context.Context, o trade.Order) (trade.Order, error)
	Get(ctx context.Context, id string) (trade.Order, error)
	ListByConnection(ctx context.Context, connectionID string) ([]trade.Order, error)
	ApplyTransition(ctx context.Context, id string, t Transition, at time.Time) (trade.Order, error)
}

// Connections resolves the connection an order belongs to.
type Connections interface {
	Get(ctx context.Context, id string) (trade.Connection, error)
}

// CreateParams captures an order placed by a participant.
type CreateParams struct {
	ConnectionID string
	ActorID      string
	Description  string
	Value        decimal.Decimal
}

type Service struct {
	repo        Repository
	connections Connections
	followup    *followup.Runner
	idGen       func() string
	now         func() time.Time
}

func NewService(repo Repository, connections Connections) *Service {
	return &Service{
		repo:        repo,
		connections: connections,
		idGen:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithFollowup(r *followup.Runner) *Service {
	s.followup = r
	return s
}

// Create places an order under the connection, freezing a copy of its
// current payment terms onto the order.
func (s *Service) Create(ctx context.Context, params CreateParams) (trade.Order, error) {
	desc := strings.TrimSpace(params.Description)
	if desc == "" {
		return trade.Order{}, fmt.Errorf("%w: description is required", ErrInvalidOrder)
	}
	if !params.Value.IsPositive() {
		return trade.Order{}, fmt.Errorf("%w: value must be greater than zero", ErrInvalidOrder)
	}

	c, err := s.connections.Get(ctx, params.ConnectionID)
	if err != nil {
		return trade.Order{}, err
	}
	if !c.Participant(params.ActorID) {
		return trade.Order{}, ErrNotFound
	}
	if c.Terms == nil {
		return trade.Order{}, fmt.Errorf("%w: the supplier must set payment terms first", ErrTermsRequired)
	}

	o := trade.Order{
		ID:           s.idGen(),
		ConnectionID: c.ID,
		Description:  desc,
		Value:        params.Value,
		Terms:        *c.Terms,
		CreatedBy:    params.ActorID,
		CreatedAt:    s.now(),
	}
	created, err := s.repo.Create(ctx, o)
	if err != nil {
		return trade.Order{}, err
	}

	s.followup.After(ctx, c.ID, notify.Notification{
		RecipientID:  c.Counterparty(params.ActorID),
		EventType:    notify.EventOrderCreated,
		EntityID:     created.ID,
		ConnectionID: c.ID,
		Message:      fmt.Sprintf("New order placed: %s (%s)", created.Description, created.Value.StringFixed(2)),
		CreatedAt:    created.CreatedAt,
	})
	return created, nil
}

func (s *Service) Accept(ctx context.Context, orderID, actorID string) (trade.Order, error) {
	return s.Transition(ctx, orderID, actorID, TransitionAccept)
}

func (s *Service) Decline(ctx context.Context, orderID, actorID string) (trade.Order, error) {
	return s.Transition(ctx, orderID, actorID, TransitionDecline)
}

func (s *Service) Dispatch(ctx context.Context, orderID, actorID string) (trade.Order, error) {
	return s.Transition(ctx, orderID, actorID, TransitionDispatch)
}

func (s *Service) Deliver(ctx context.Context, orderID, actorID string) (trade.Order, error) {
	return s.Transition(ctx, orderID, actorID, TransitionDeliver)
}

// Transition re-reads the order, validates t against that fresh state and
// writes conditionally. ErrConflict is returned when the order moved in
// between; callers re-read and retry.
func (s *Service) Transition(ctx context.Context, orderID, actorID string, t Transition) (trade.Order, error) {
	current, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return trade.Order{}, err
	}
	c, err := s.connections.Get(ctx, current.ConnectionID)
	if err != nil {
		return trade.Order{}, err
	}
	role, ok := c.RoleOf(actorID)
	if !ok {
		return trade.Order{}, ErrNotFound
	}

	next, err := Apply(current, t, role, s.now())
	if err != nil {
		return trade.Order{}, err
	}
	updated, err := s.repo.ApplyTransition(ctx, orderID, t, *stampOf(next, t))
	if err != nil {
		return trade.Order{}, err
	}

	s.followup.After(ctx, c.ID, notify.Notification{
		RecipientID:  c.Counterparty(actorID),
		EventType:    transitionEvents[t],
		EntityID:     updated.ID,
		ConnectionID: c.ID,
		Message:      fmt.Sprintf("Order %q is now %s", updated.Description, DeriveState(updated)),
		CreatedAt:    *stampOf(updated, t),
	})
	return updated, nil
}

// Get returns the order when actorID participates in its connection.
func (s *Service) Get(ctx context.Context, orderID, actorID string) (trade.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return trade.Order{}, err
	}
	c, err := s.connections.Get(ctx, o.ConnectionID)
	if err != nil {
		return trade.Order{}, err
	}
	if !c.Participant(actorID) {
		return trade.Order{}, ErrNotFound
	}
	return o, nil
}

// List returns the connection's orders in creation order.
func (s *Service) List(ctx context.Context, connectionID, actorID string) ([]trade.Order, error) {
	c, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !c.Participant(actorID) {
		return nil, ErrNotFound
	}
	return s.repo.ListByConnection(ctx, c.ID)
}

var transitionEvents = map[Transition]notify.EventType{
	TransitionAccept:   notify.EventOrderAccepted,
	TransitionDecline:  notify.EventOrderDeclined,
	TransitionDispatch: notify.EventOrderDispatched,
	TransitionDeliver:  notify.EventOrderDelivered,
}

func stampOf(o trade.Order, t Transition) *time.Time {
	switch t {
	case TransitionAccept:
		return o.AcceptedAt
	case TransitionDecline:
		return o.DeclinedAt
	case TransitionDispatch:
		return o.DispatchedAt
	default:
		return o.DeliveredAt
	}
}
