// Package overview is the read side: it loads histories and runs the
// derivation pipeline for a caller. It also recomputes the cached health
// label after mutations.
package overview

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tradeflow/attention"
	"tradeflow/behaviour"
	"tradeflow/health"
	"tradeflow/insight"
	"tradeflow/settlement"
	"tradeflow/trade"
)

var ErrNotFound = errors.New("overview: not found")

type Histories interface {
	Load(ctx context.Context, connectionID string) (trade.History, error)
	LoadForBusiness(ctx context.Context, businessID string) ([]trade.History, error)
}

type Orders interface {
	Get(ctx context.Context, id string) (trade.Order, error)
}

type HealthStore interface {
	SaveHealth(ctx context.Context, connectionID, label string) error
}

// Report is the health view of one connection.
type Report struct {
	ConnectionID string
	Signals      behaviour.Signals
	Health       health.State
}

// OrderSettlement pairs an order with its derived settlement state.
type OrderSettlement struct {
	Order trade.Order
	State settlement.State
}

type Service struct {
	histories Histories
	orders    Orders
	store     HealthStore
	now       func() time.Time
	loc       *time.Location
	logger    *zap.Logger
}

func NewService(histories Histories, orders Orders, store HealthStore) *Service {
	return &Service{
		histories: histories,
		orders:    orders,
		store:     store,
		now:       time.Now,
		loc:       time.UTC,
		logger:    zap.NewNop(),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithLocation sets the zone that decides which calendar day is today.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Attention returns the sorted worklist across every connection of businessID.
func (s *Service) Attention(ctx context.Context, businessID string) ([]attention.Item, error) {
	hs, err := s.histories.LoadForBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	return attention.Prioritize(businessID, hs, s.now(), s.loc), nil
}

// Insights returns up to two sentences about one connection, from the
// point of view of businessID's role in it.
func (s *Service) Insights(ctx context.Context, businessID, connectionID string) ([]insight.Insight, error) {
	h, role, err := s.load(ctx, businessID, connectionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	items := attention.Prioritize(businessID, []trade.History{h}, now, s.loc)
	friction := attention.FrictionFor(items, connectionID)
	return insight.Select(behaviour.Aggregate(h, now), friction, role), nil
}

// Settlement derives the settlement state of one order.
func (s *Service) Settlement(ctx context.Context, businessID, orderID string) (OrderSettlement, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return OrderSettlement{}, err
	}
	h, _, err := s.load(ctx, businessID, o.ConnectionID)
	if err != nil {
		return OrderSettlement{}, err
	}
	for _, sibling := range h.Orders {
		if sibling.ID == o.ID {
			o = sibling
			break
		}
	}
	st := settlement.Evaluate(o, h.OrdersByCreation(), h.PaymentsFor(o.ID), s.now())
	return OrderSettlement{Order: o, State: st}, nil
}

// Signals returns the behaviour signals and health of a connection for one
// of its participants.
func (s *Service) Signals(ctx context.Context, businessID, connectionID string) (Report, error) {
	h, _, err := s.load(ctx, businessID, connectionID)
	if err != nil {
		return Report{}, err
	}
	return s.report(h), nil
}

// Health computes the report without a membership check. Operator tooling only.
func (s *Service) Health(ctx context.Context, connectionID string) (Report, error) {
	h, err := s.histories.Load(ctx, connectionID)
	if err != nil {
		return Report{}, err
	}
	return s.report(h), nil
}

// RefreshHealth recomputes the connection's label and caches it.
func (s *Service) RefreshHealth(ctx context.Context, connectionID string) error {
	r, err := s.Health(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := s.store.SaveHealth(ctx, connectionID, string(r.Health)); err != nil {
		return err
	}
	s.logger.Debug("health refreshed", zap.String("connection_id", connectionID), zap.String("health", string(r.Health)))
	return nil
}

func (s *Service) report(h trade.History) Report {
	sig := behaviour.Aggregate(h, s.now())
	return Report{ConnectionID: h.Connection.ID, Signals: sig, Health: health.Classify(sig)}
}

func (s *Service) load(ctx context.Context, businessID, connectionID string) (trade.History, trade.Role, error) {
	h, err := s.histories.Load(ctx, connectionID)
	if err != nil {
		return trade.History{}, "", err
	}
	role, ok := h.Connection.RoleOf(businessID)
	if !ok {
		return trade.History{}, "", ErrNotFound
	}
	return h, role, nil
}
