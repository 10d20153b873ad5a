package issue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeflow/followup"
	"tradeflow/notify"
	"tradeflow/trade"
)

type Repository interface {
	Create(ctx context.Context, rep trade.IssueReport) (trade.IssueReport, error)
	Get(ctx context.Context, id string) (trade.IssueReport, error)
	ListByOrder(ctx context.Context, orderID string) ([]trade.IssueReport, error)
	Resolve(ctx context.Context, id string, at time.Time) (trade.IssueReport, error)
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

// Raise opens an issue against an order. The raising role is taken from the
// connection, never from the caller.
func (s *Service) Raise(ctx context.Context, params RaiseParams) (trade.IssueReport, error) {
	if !params.Type.Valid() {
		return trade.IssueReport{}, fmt.Errorf("%w: unknown issue type %q", ErrInvalid, params.Type)
	}
	if !params.Severity.Valid() {
		return trade.IssueReport{}, fmt.Errorf("%w: unknown severity %q", ErrInvalid, params.Severity)
	}
	o, c, role, err := s.scope(ctx, params.OrderID, params.ActorID)
	if err != nil {
		return trade.IssueReport{}, err
	}

	rep, err := s.repo.Create(ctx, trade.IssueReport{
		ID:          s.idGen(),
		OrderID:     o.ID,
		Type:        params.Type,
		Severity:    params.Severity,
		RaisedBy:    role,
		Description: strings.TrimSpace(params.Description),
		Status:      trade.IssueOpen,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return trade.IssueReport{}, err
	}

	s.followup.After(ctx, c.ID, notify.Notification{
		RecipientID:  c.Counterparty(params.ActorID),
		EventType:    notify.EventIssueRaised,
		EntityID:     rep.ID,
		ConnectionID: c.ID,
		Message:      fmt.Sprintf("%s issue (%s) raised on %q", strings.ReplaceAll(string(rep.Type), "_", " "), rep.Severity, o.Description),
		CreatedAt:    rep.CreatedAt,
	})
	return rep, nil
}

// Resolve closes an issue. Only the party that raised it may resolve it.
func (s *Service) Resolve(ctx context.Context, issueID, actorID string) (trade.IssueReport, error) {
	rep, err := s.repo.Get(ctx, issueID)
	if err != nil {
		return trade.IssueReport{}, err
	}
	o, c, role, err := s.scope(ctx, rep.OrderID, actorID)
	if err != nil {
		return trade.IssueReport{}, err
	}
	if role != rep.RaisedBy {
		return trade.IssueReport{}, fmt.Errorf("%w: only the %s can resolve this issue", ErrForbidden, rep.RaisedBy)
	}
	if !rep.Open() {
		return trade.IssueReport{}, fmt.Errorf("%w: issue already resolved", ErrBadStatus)
	}

	resolved, err := s.repo.Resolve(ctx, rep.ID, s.now())
	if err != nil {
		return trade.IssueReport{}, err
	}

	s.followup.After(ctx, c.ID, notify.Notification{
		RecipientID:  c.Counterparty(actorID),
		EventType:    notify.EventIssueResolved,
		EntityID:     rep.ID,
		ConnectionID: c.ID,
		Message:      fmt.Sprintf("Issue on %q resolved", o.Description),
		CreatedAt:    *resolved.ResolvedAt,
	})
	return resolved, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID, actorID string) ([]trade.IssueReport, error) {
	o, _, _, err := s.scope(ctx, orderID, actorID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByOrder(ctx, o.ID)
}

func (s *Service) scope(ctx context.Context, orderID, actorID string) (trade.Order, trade.Connection, trade.Role, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return trade.Order{}, trade.Connection{}, "", err
	}
	c, err := s.connections.Get(ctx, o.ConnectionID)
	if err != nil {
		return trade.Order{}, trade.Connection{}, "", err
	}
	role, ok := c.RoleOf(actorID)
	if !ok {
		return trade.Order{}, trade.Connection{}, "", ErrNotFound
	}
	return o, c, role, nil
}
