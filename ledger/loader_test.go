package ledger

import (
	"context"
	"errors"
	"testing"

	"tradeflow/trade"
)

type memStore struct {
	conns    []trade.Connection
	orders   []trade.Order
	payments map[string][]trade.PaymentEvent
	issues   map[string][]trade.IssueReport
	failOn   string
}

func (m *memStore) Get(_ context.Context, id string) (trade.Connection, error) {
	for _, c := range m.conns {
		if c.ID == id {
			return c, nil
		}
	}
	return trade.Connection{}, errors.New("missing")
}

func (m *memStore) ListForBusiness(_ context.Context, businessID string) ([]trade.Connection, error) {
	var out []trade.Connection
	for _, c := range m.conns {
		if c.Participant(businessID) {
			out = append(out, c)
		}
	}
	return out, nil
}

type orderSource struct{ *memStore }

func (o orderSource) ListByConnection(_ context.Context, id string) ([]trade.Order, error) {
	if id == o.failOn {
		return nil, errors.New("boom")
	}
	var out []trade.Order
	for _, x := range o.orders {
		if x.ConnectionID == id {
			out = append(out, x)
		}
	}
	return out, nil
}

type paymentSource struct{ *memStore }

func (p paymentSource) ListByConnection(_ context.Context, id string) ([]trade.PaymentEvent, error) {
	return p.payments[id], nil
}

type issueSource struct{ *memStore }

func (i issueSource) ListByConnection(_ context.Context, id string) ([]trade.IssueReport, error) {
	return i.issues[id], nil
}

func newLoader(m *memStore) *Loader {
	return NewLoader(m, orderSource{m}, paymentSource{m}, issueSource{m})
}

func fixture() *memStore {
	return &memStore{
		conns: []trade.Connection{
			{ID: "c1", BuyerID: "shop", SupplierID: "mill"},
			{ID: "c2", BuyerID: "shop", SupplierID: "farm"},
			{ID: "c3", BuyerID: "cafe", SupplierID: "mill"},
		},
		orders: []trade.Order{
			{ID: "o1", ConnectionID: "c1"},
			{ID: "o2", ConnectionID: "c2"},
			{ID: "o3", ConnectionID: "c3"},
		},
		payments: map[string][]trade.PaymentEvent{"c1": {{ID: "p1", OrderID: "o1"}}},
		issues:   map[string][]trade.IssueReport{"c2": {{ID: "i1", OrderID: "o2"}}},
	}
}

func TestLoad(t *testing.T) {
	h, err := newLoader(fixture()).Load(context.Background(), "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.Connection.ID != "c1" || len(h.Orders) != 1 || len(h.Payments) != 1 || len(h.Issues) != 0 {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestLoadForBusiness_KeepsConnectionOrder(t *testing.T) {
	hs, err := newLoader(fixture()).LoadForBusiness(context.Background(), "shop")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(hs) != 2 || hs[0].Connection.ID != "c1" || hs[1].Connection.ID != "c2" {
		t.Fatalf("unexpected histories %+v", hs)
	}
	if len(hs[1].Issues) != 1 || hs[1].Orders[0].ID != "o2" {
		t.Fatalf("c2 history incomplete: %+v", hs[1])
	}
}

func TestLoadForBusiness_PropagatesErrors(t *testing.T) {
	m := fixture()
	m.failOn = "c2"
	if _, err := newLoader(m).LoadForBusiness(context.Background(), "shop"); err == nil {
		t.Fatalf("expected error")
	}
}
