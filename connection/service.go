package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeflow/followup"
	"tradeflow/notify"
	"tradeflow/trade"
)

var (
	ErrForbidden    = errors.New("connection: forbidden")
	ErrInvalidParty = errors.New("connection: invalid party")
)

// Repository abstracts persistence for the service.
type Repository interface {
	Create(ctx context.Context, c trade.Connection) (trade.Connection, error)
	Get(ctx context.Context, id string) (trade.Connection, error)
	ListForBusiness(ctx context.Context, businessID string) ([]trade.Connection, error)
	SetTerms(ctx context.Context, id string, terms trade.PaymentTerm) (trade.Connection, error)
	SaveHealth(ctx context.Context, id, label string) error
}

// Service exposes business-level connection operations.
type Service struct {
	repo     Repository
	followup *followup.Runner
	idGen    func() string
	now      func() time.Time
}

// NewService builds a Service using the provided repository.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		idGen: func() string { return uuid.NewString() },
		now:   time.Now,
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

// Create opens a connection between the actor and a counterparty.
func (s *Service) Create(ctx context.Context, params CreateParams) (trade.Connection, error) {
	actor := strings.TrimSpace(params.ActorID)
	counterparty := strings.TrimSpace(params.CounterpartyID)
	if actor == "" || counterparty == "" {
		return trade.Connection{}, fmt.Errorf("%w: both business ids are required", ErrInvalidParty)
	}
	if actor == counterparty {
		return trade.Connection{}, fmt.Errorf("%w: a business cannot connect to itself", ErrInvalidParty)
	}
	if !params.ActorRole.Valid() {
		return trade.Connection{}, fmt.Errorf("%w: role must be buyer or supplier, got %q", ErrInvalidParty, params.ActorRole)
	}
	if params.Terms != nil {
		if params.ActorRole != trade.RoleSupplier {
			return trade.Connection{}, fmt.Errorf("%w: only the supplier sets payment terms", ErrForbidden)
		}
		if err := params.Terms.Validate(); err != nil {
			return trade.Connection{}, err
		}
	}

	now := s.now()
	c := trade.Connection{
		ID:        s.idGen(),
		Terms:     params.Terms,
		Health:    DefaultHealth,
		CreatedAt: now,
	}
	if params.ActorRole == trade.RoleBuyer {
		c.BuyerID, c.SupplierID = actor, counterparty
	} else {
		c.BuyerID, c.SupplierID = counterparty, actor
	}

	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return trade.Connection{}, err
	}

	s.followup.After(ctx, created.ID, notify.Notification{
		RecipientID:  counterparty,
		EventType:    notify.EventConnectionCreated,
		EntityID:     created.ID,
		ConnectionID: created.ID,
		Message:      fmt.Sprintf("%s added you as a trading partner", actor),
		CreatedAt:    now,
	})
	return created, nil
}

// SetTerms lets the supplier set or change payment terms. Orders already
// placed keep the snapshot taken at their creation.
func (s *Service) SetTerms(ctx context.Context, params SetTermsParams) (trade.Connection, error) {
	if err := params.Terms.Validate(); err != nil {
		return trade.Connection{}, err
	}
	c, err := s.repo.Get(ctx, params.ConnectionID)
	if err != nil {
		return trade.Connection{}, err
	}
	role, ok := c.RoleOf(params.ActorID)
	if !ok {
		return trade.Connection{}, ErrNotFound
	}
	if role != trade.RoleSupplier {
		return trade.Connection{}, fmt.Errorf("%w: only the supplier sets payment terms", ErrForbidden)
	}

	updated, err := s.repo.SetTerms(ctx, c.ID, params.Terms)
	if err != nil {
		return trade.Connection{}, err
	}

	s.followup.After(ctx, updated.ID, notify.Notification{
		RecipientID:  updated.BuyerID,
		EventType:    notify.EventTermsUpdated,
		EntityID:     updated.ID,
		ConnectionID: updated.ID,
		Message:      fmt.Sprintf("Payment terms changed to %s", params.Terms),
		CreatedAt:    s.now(),
	})
	return updated, nil
}

// Get returns the connection when actorID participates in it. Outsiders
// get ErrNotFound so existence is not leaked.
func (s *Service) Get(ctx context.Context, id, actorID string) (trade.Connection, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return trade.Connection{}, err
	}
	if !c.Participant(actorID) {
		return trade.Connection{}, ErrNotFound
	}
	return c, nil
}

// ListForBusiness returns the connections businessID participates in.
func (s *Service) ListForBusiness(ctx context.Context, businessID string) ([]trade.Connection, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: business id required", ErrInvalidParty)
	}
	return s.repo.ListForBusiness(ctx, businessID)
}
