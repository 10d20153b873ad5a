package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradeflow/followup"
	"tradeflow/notify"
	"tradeflow/settlement"
	"tradeflow/trade"
)

// Repository abstracts payment persistence for the service.
type Repository interface {
	// Insert must re-check the balance atomically with the write.
	Insert(ctx context.Context, p trade.PaymentEvent) (trade.PaymentEvent, error)
	Get(ctx context.Context, id string) (trade.PaymentEvent, error)
	ListByOrder(ctx context.Context, orderID string) ([]trade.PaymentEvent, error)
	MarkDisputed(ctx context.Context, id string, at time.Time) (trade.PaymentEvent, error)
	MarkAccepted(ctx context.Context, id string, at time.Time) (trade.PaymentEvent, error)
}

type Orders interface {
	Get(ctx context.Context, id string) (trade.Order, error)
}

type Connections interface {
	Get(ctx context.Context, id string) (trade.Connection, error)
}

type Service struct {
	repo        Repository
	orders      Orders
	connections Connections
	followup    *followup.Runner
	idGen       func() string
	now         func() time.Time
}

func NewService(repo Repository, orders Orders, connections Connections) *Service {
	return &Service{
		repo:        repo,
		orders:      orders,
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

// Record stores a self-reported payment against an order.
func (s *Service) Record(ctx context.Context, params RecordParams) (trade.PaymentEvent, error) {
	o, c, err := s.scope(ctx, params.OrderID, params.ActorID)
	if err != nil {
		return trade.PaymentEvent{}, err
	}
	if o.DeclinedAt != nil {
		return trade.PaymentEvent{}, ErrOrderDeclined
	}
	existing, err := s.repo.ListByOrder(ctx, o.ID)
	if err != nil {
		return trade.PaymentEvent{}, err
	}
	if err := settlement.CheckPayment(o.Value, existing, params.Amount); err != nil {
		return trade.PaymentEvent{}, err
	}

	p, err := s.repo.Insert(ctx, trade.PaymentEvent{
		ID:         s.idGen(),
		OrderID:    o.ID,
		Amount:     params.Amount,
		RecordedBy: params.ActorID,
		RecordedAt: s.now(),
	})
	if err != nil {
		return trade.PaymentEvent{}, err
	}

	s.followup.After(ctx, c.ID, notify.Notification{
		RecipientID:  c.Counterparty(params.ActorID),
		EventType:    notify.EventPaymentRecorded,
		EntityID:     p.ID,
		ConnectionID: c.ID,
		Message:      fmt.Sprintf("Payment of %s recorded against %q", p.Amount.StringFixed(2), o.Description),
		CreatedAt:    p.RecordedAt,
	})
	return p, nil
}

// Dispute flags a payment the counterparty does not recognise.
func (s *Service) Dispute(ctx context.Context, paymentID, actorID string) (trade.PaymentEvent, error) {
	return s.respond(ctx, paymentID, actorID, true)
}

// Accept confirms a payment recorded by the counterparty.
func (s *Service) Accept(ctx context.Context, paymentID, actorID string) (trade.PaymentEvent, error) {
	return s.respond(ctx, paymentID, actorID, false)
}

func (s *Service) respond(ctx context.Context, paymentID, actorID string, dispute bool) (trade.PaymentEvent, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return trade.PaymentEvent{}, err
	}
	o, c, err := s.scope(ctx, p.OrderID, actorID)
	if err != nil {
		return trade.PaymentEvent{}, err
	}
	if actorID == p.RecordedBy {
		return trade.PaymentEvent{}, fmt.Errorf("%w: only the counterparty can respond to a payment", ErrForbidden)
	}

	already := p.AcceptedAt != nil
	event, verb := notify.EventPaymentAccepted, "accepted"
	if dispute {
		already = p.DisputedAt != nil
		event, verb = notify.EventPaymentDisputed, "disputed"
	}
	if already {
		return p, nil
	}

	mark := s.repo.MarkAccepted
	if dispute {
		mark = s.repo.MarkDisputed
	}
	updated, err := mark(ctx, p.ID, s.now())
	if err != nil {
		return trade.PaymentEvent{}, err
	}

	s.followup.After(ctx, c.ID, notify.Notification{
		RecipientID:  p.RecordedBy,
		EventType:    event,
		EntityID:     p.ID,
		ConnectionID: c.ID,
		Message:      fmt.Sprintf("Payment of %s on %q was %s", p.Amount.StringFixed(2), o.Description, verb),
		CreatedAt:    s.now(),
	})
	return updated, nil
}

// ListByOrder returns the order's payments when actorID participates.
func (s *Service) ListByOrder(ctx context.Context, orderID, actorID string) ([]trade.PaymentEvent, error) {
	o, _, err := s.scope(ctx, orderID, actorID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByOrder(ctx, o.ID)
}

// scope loads the order and its connection, hiding both from outsiders.
func (s *Service) scope(ctx context.Context, orderID, actorID string) (trade.Order, trade.Connection, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return trade.Order{}, trade.Connection{}, err
	}
	c, err := s.connections.Get(ctx, o.ConnectionID)
	if err != nil {
		return trade.Order{}, trade.Connection{}, err
	}
	if !c.Participant(actorID) {
		return trade.Order{}, trade.Connection{}, ErrNotFound
	}
	return o, c, nil
}
