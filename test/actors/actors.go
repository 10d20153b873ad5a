// Package actors drives the real services against a shared pool so the
// stress suite can check store invariants under contention.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeflow/connection"
	"tradeflow/followup"
	"tradeflow/issue"
	"tradeflow/ledger"
	"tradeflow/notify"
	"tradeflow/order"
	"tradeflow/overview"
	"tradeflow/payment"
	"tradeflow/settlement"
	"tradeflow/trade"
)

// Stack is the service graph the API process builds, minus HTTP.
type Stack struct {
	Connections *connection.Service
	Orders      *order.Service
	Payments    *payment.Service
	Issues      *issue.Service
	Overview    *overview.Service
	Sweep       *payment.Sweep
}

func NewStack(pool *pgxpool.Pool, logger *zap.Logger) *Stack {
	connRepo := connection.NewRepository(pool)
	orderRepo := order.NewRepository(pool)
	paymentRepo := payment.NewRepository(pool)
	issueRepo := issue.NewRepository(pool)

	ov := overview.NewService(ledger.NewLoader(connRepo, orderRepo, paymentRepo, issueRepo), orderRepo, connRepo).WithLogger(logger)
	runner := followup.New(ov, notify.NewOutboxNotifier(pool), logger)

	return &Stack{
		Connections: connection.NewService(connRepo).WithFollowup(runner),
		Orders:      order.NewService(orderRepo, connRepo).WithFollowup(runner),
		Payments:    payment.NewService(paymentRepo, orderRepo, connRepo).WithFollowup(runner),
		Issues:      issue.NewService(issueRepo, orderRepo, connRepo).WithFollowup(runner),
		Overview:    ov,
		Sweep:       payment.NewSweep(paymentRepo, logger),
	}
}

// Party is one side of a seeded connection.
type Party struct {
	ConnectionID string
	BuyerID      string
	SupplierID   string
}

// expected reports errors that are legitimate outcomes of racing actors.
func expected(err error) bool {
	return err == nil ||
		errors.Is(err, order.ErrInvalidTransition) ||
		errors.Is(err, order.ErrConflict) ||
		errors.Is(err, order.ErrForbidden) ||
		errors.Is(err, order.ErrNotMonotonic) ||
		errors.Is(err, settlement.ErrExceedsBalance) ||
		errors.Is(err, payment.ErrOrderDeclined) ||
		errors.Is(err, payment.ErrForbidden) ||
		errors.Is(err, issue.ErrBadStatus) ||
		errors.Is(err, issue.ErrForbidden) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Placer keeps the buyer placing fresh orders.
func Placer(ctx context.Context, s *Stack, p Party, stop <-chan struct{}) error {
	for i := 0; !stopped(ctx, stop); i++ {
		_, err := s.Orders.Create(ctx, order.CreateParams{
			ConnectionID: p.ConnectionID,
			ActorID:      p.BuyerID,
			Description:  fmt.Sprintf("stress order %d", i),
			Value:        decimal.NewFromInt(int64(50 + rand.Intn(500))),
		})
		if !expected(err) {
			return fmt.Errorf("placer: %w", err)
		}
		pause(40, 60)
	}
	return nil
}

var transitions = []order.Transition{
	order.TransitionAccept,
	order.TransitionDecline,
	order.TransitionDispatch,
	order.TransitionDeliver,
}

// Mover fires random transitions from random parties at random orders of
// the connection. Most attempts are rejected; none may corrupt the row.
func Mover(ctx context.Context, s *Stack, p Party, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		orders, err := s.Orders.List(ctx, p.ConnectionID, p.BuyerID)
		if err != nil {
			if expected(err) {
				continue
			}
			return fmt.Errorf("mover list: %w", err)
		}
		if len(orders) == 0 {
			pause(20, 20)
			continue
		}
		o := orders[rand.Intn(len(orders))]
		actor := p.SupplierID
		if rand.Intn(3) == 0 {
			actor = p.BuyerID
		}
		if _, err := s.Orders.Transition(ctx, o.ID, actor, transitions[rand.Intn(len(transitions))]); !expected(err) {
			return fmt.Errorf("mover %s: %w", o.ID, err)
		}
		pause(10, 30)
	}
	return nil
}

// Payer records random partial payments; concurrent payers on the same
// order must never push it past its value.
func Payer(ctx context.Context, s *Stack, p Party, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		orders, err := s.Orders.List(ctx, p.ConnectionID, p.BuyerID)
		if err != nil || len(orders) == 0 {
			pause(20, 20)
			continue
		}
		o := orders[rand.Intn(len(orders))]
		amount := decimal.NewFromInt(int64(1 + rand.Intn(200)))
		if _, err := s.Payments.Record(ctx, payment.RecordParams{OrderID: o.ID, ActorID: p.BuyerID, Amount: amount}); !expected(err) {
			return fmt.Errorf("payer %s: %w", o.ID, err)
		}
		pause(15, 30)
	}
	return nil
}

// Responder has the supplier accept or dispute whatever payments exist.
func Responder(ctx context.Context, s *Stack, p Party, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		orders, err := s.Orders.List(ctx, p.ConnectionID, p.SupplierID)
		if err != nil || len(orders) == 0 {
			pause(20, 20)
			continue
		}
		o := orders[rand.Intn(len(orders))]
		ps, err := s.Payments.ListByOrder(ctx, o.ID, p.SupplierID)
		if err != nil || len(ps) == 0 {
			pause(20, 20)
			continue
		}
		pe := ps[rand.Intn(len(ps))]
		if rand.Intn(4) == 0 {
			_, err = s.Payments.Dispute(ctx, pe.ID, p.SupplierID)
		} else {
			_, err = s.Payments.Accept(ctx, pe.ID, p.SupplierID)
		}
		if !expected(err) {
			return fmt.Errorf("responder %s: %w", pe.ID, err)
		}
		pause(30, 40)
	}
	return nil
}

var issueTypes = []trade.IssueType{trade.IssueDamagedGoods, trade.IssueShortSupply, trade.IssueBillingError}

// Complainer raises issues as either party and races to resolve them.
func Complainer(ctx context.Context, s *Stack, p Party, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		orders, err := s.Orders.List(ctx, p.ConnectionID, p.BuyerID)
		if err != nil || len(orders) == 0 {
			pause(20, 20)
			continue
		}
		o := orders[rand.Intn(len(orders))]
		raiser := p.BuyerID
		if rand.Intn(2) == 0 {
			raiser = p.SupplierID
		}
		rep, err := s.Issues.Raise(ctx, issue.RaiseParams{
			OrderID:  o.ID,
			ActorID:  raiser,
			Type:     issueTypes[rand.Intn(len(issueTypes))],
			Severity: trade.SeverityMedium,
		})
		if !expected(err) {
			return fmt.Errorf("complainer raise: %w", err)
		}
		if err == nil && rand.Intn(2) == 0 {
			if _, err := s.Issues.Resolve(ctx, rep.ID, raiser); !expected(err) {
				return fmt.Errorf("complainer resolve: %w", err)
			}
		}
		pause(80, 80)
	}
	return nil
}

// Sweeper runs the auto-accept pass back to back with the responders.
func Sweeper(ctx context.Context, s *Stack, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := s.Sweep.Run(ctx); err != nil && !expected(err) {
			return fmt.Errorf("sweeper: %w", err)
		}
		pause(100, 100)
	}
	return nil
}

// Reader hammers the read side while writes are in flight.
func Reader(ctx context.Context, s *Stack, p Party, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := s.Overview.Attention(ctx, p.BuyerID); err != nil && !expected(err) {
			return fmt.Errorf("reader attention: %w", err)
		}
		if _, err := s.Overview.Insights(ctx, p.SupplierID, p.ConnectionID); err != nil && !expected(err) {
			return fmt.Errorf("reader insights: %w", err)
		}
		pause(50, 50)
	}
	return nil
}
