// Package ledger assembles a connection's full event log from the event
// store so the derivation pipeline can run over it.
package ledger

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradeflow/trade"
)

type Connections interface {
	Get(ctx context.Context, id string) (trade.Connection, error)
	ListForBusiness(ctx context.Context, businessID string) ([]trade.Connection, error)
}

type Orders interface {
	ListByConnection(ctx context.Context, connectionID string) ([]trade.Order, error)
}

type Payments interface {
	ListByConnection(ctx context.Context, connectionID string) ([]trade.PaymentEvent, error)
}

type Issues interface {
	ListByConnection(ctx context.Context, connectionID string) ([]trade.IssueReport, error)
}

type Loader struct {
	connections Connections
	orders      Orders
	payments    Payments
	issues      Issues
}

func NewLoader(connections Connections, orders Orders, payments Payments, issues Issues) *Loader {
	return &Loader{connections: connections, orders: orders, payments: payments, issues: issues}
}

// Load returns the history of one connection.
func (l *Loader) Load(ctx context.Context, connectionID string) (trade.History, error) {
	c, err := l.connections.Get(ctx, connectionID)
	if err != nil {
		return trade.History{}, err
	}
	return l.fill(ctx, c)
}

// LoadForBusiness returns the histories of every connection businessID
// participates in.
func (l *Loader) LoadForBusiness(ctx context.Context, businessID string) ([]trade.History, error) {
	conns, err := l.connections.ListForBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	out := make([]trade.History, len(conns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range conns {
		i, c := i, c
		g.Go(func() error {
			h, err := l.fill(gctx, c)
			if err != nil {
				return err
			}
			out[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) fill(ctx context.Context, c trade.Connection) (trade.History, error) {
	h := trade.History{Connection: c}
	var err error
	if h.Orders, err = l.orders.ListByConnection(ctx, c.ID); err != nil {
		return trade.History{}, fmt.Errorf("ledger: orders of %s: %w", c.ID, err)
	}
	if h.Payments, err = l.payments.ListByConnection(ctx, c.ID); err != nil {
		return trade.History{}, fmt.Errorf("ledger: payments of %s: %w", c.ID, err)
	}
	if h.Issues, err = l.issues.ListByConnection(ctx, c.ID); err != nil {
		return trade.History{}, fmt.Errorf("ledger: issues of %s: %w", c.ID, err)
	}
	return h, nil
}
