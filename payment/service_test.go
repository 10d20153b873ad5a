package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/followup"
	"tradeflow/notify"
	"tradeflow/settlement"
	"tradeflow/trade"
)

type fakeRepo struct {
	payments []trade.PaymentEvent
	orders   map[string]trade.Order
}

func (f *fakeRepo) Insert(_ context.Context, p trade.PaymentEvent) (trade.PaymentEvent, error) {
	o := f.orders[p.OrderID]
	existing, _ := f.ListByOrder(context.Background(), p.OrderID)
	if err := settlement.CheckPayment(o.Value, existing, p.Amount); err != nil {
		return trade.PaymentEvent{}, err
	}
	f.payments = append(f.payments, p)
	return p, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (trade.PaymentEvent, error) {
	for _, p := range f.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return trade.PaymentEvent{}, ErrNotFound
}

func (f *fakeRepo) ListByOrder(_ context.Context, orderID string) ([]trade.PaymentEvent, error) {
	var out []trade.PaymentEvent
	for _, p := range f.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkDisputed(_ context.Context, id string, at time.Time) (trade.PaymentEvent, error) {
	return f.set(id, func(p *trade.PaymentEvent) {
		if p.DisputedAt == nil {
			p.DisputedAt = &at
		}
	})
}

func (f *fakeRepo) MarkAccepted(_ context.Context, id string, at time.Time) (trade.PaymentEvent, error) {
	return f.set(id, func(p *trade.PaymentEvent) {
		if p.AcceptedAt == nil {
			p.AcceptedAt = &at
		}
	})
}

// AutoAccept mirrors the conditional UPDATE used by the PG repository.
func (f *fakeRepo) AutoAccept(_ context.Context, cutoff, at time.Time) (int64, error) {
	var n int64
	for i := range f.payments {
		p := &f.payments[i]
		if p.AcceptedAt == nil && p.DisputedAt == nil && !p.RecordedAt.After(cutoff) {
			ts := at
			p.AcceptedAt = &ts
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) set(id string, mut func(p *trade.PaymentEvent)) (trade.PaymentEvent, error) {
	for i := range f.payments {
		if f.payments[i].ID == id {
			mut(&f.payments[i])
			return f.payments[i], nil
		}
	}
	return trade.PaymentEvent{}, ErrNotFound
}

type fakeOrders map[string]trade.Order

func (f fakeOrders) Get(_ context.Context, id string) (trade.Order, error) {
	o, ok := f[id]
	if !ok {
		return trade.Order{}, errors.New("order not found")
	}
	return o, nil
}

type fakeConnections map[string]trade.Connection

func (f fakeConnections) Get(_ context.Context, id string) (trade.Connection, error) {
	return f[id], nil
}

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc  *Service
	repo *fakeRepo
	rec  *notify.Recorder
	now  time.Time
}

func newFixture() *fixture {
	delivered := start
	orders := fakeOrders{
		"o-1": {ID: "o-1", ConnectionID: "c-1", Description: "rice", Value: decimal.NewFromInt(10000), Terms: trade.DaysAfterDelivery(7), CreatedAt: start.Add(-48 * time.Hour), DeliveredAt: &delivered},
		"o-2": {ID: "o-2", ConnectionID: "c-1", Description: "oil", Value: decimal.NewFromInt(100), DeclinedAt: &delivered},
	}
	f := &fixture{
		repo: &fakeRepo{orders: orders},
		rec:  &notify.Recorder{},
		now:  start,
	}
	conns := fakeConnections{"c-1": {ID: "c-1", BuyerID: "shop", SupplierID: "mill"}}
	ids := 0
	f.svc = NewService(f.repo, orders, conns).
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("p-%d", ids) }).
		WithClock(func() time.Time { return f.now }).
		WithFollowup(followup.New(nil, f.rec, nil))
	return f
}

func TestRecord_PartialPaymentScenario(t *testing.T) {
	f := newFixture()
	f.now = start.Add(48 * time.Hour)

	p, err := f.svc.Record(context.Background(), RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.NewFromInt(4000)})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(f.rec.Sent) != 1 || f.rec.Sent[0].RecipientID != "mill" {
		t.Fatalf("expected supplier notification, got %+v", f.rec.Sent)
	}

	o := f.repo.orders["o-1"]
	st := settlement.Evaluate(o, []trade.Order{o}, []trade.PaymentEvent{p}, f.now)
	if st.Status != settlement.StatusPartialPayment {
		t.Fatalf("expected partial payment, got %s", st.Status)
	}
	if !st.Pending.Equal(decimal.NewFromInt(6000)) {
		t.Fatalf("expected 6000 pending, got %s", st.Pending)
	}
	if st.DueDate == nil || !st.DueDate.Equal(start.Add(7*24*time.Hour)) {
		t.Fatalf("unexpected due date %v", st.DueDate)
	}
}

func TestRecord_RejectsOverpaymentAndNonPositive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.Zero}); !errors.Is(err, settlement.ErrNonPositiveAmount) {
		t.Fatalf("zero: expected ErrNonPositiveAmount, got %v", err)
	}
	if _, err := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.NewFromInt(9000)}); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if _, err := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.NewFromInt(1001)}); !errors.Is(err, settlement.ErrExceedsBalance) {
		t.Fatalf("overpay: expected ErrExceedsBalance, got %v", err)
	}
	if _, err := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "mill", Amount: decimal.NewFromInt(1000)}); err != nil {
		t.Fatalf("exact remainder: %v", err)
	}
}

func TestRecord_RejectsDeclinedAndOutsiders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Record(ctx, RecordParams{OrderID: "o-2", ActorID: "shop", Amount: decimal.NewFromInt(1)}); !errors.Is(err, ErrOrderDeclined) {
		t.Fatalf("declined: expected ErrOrderDeclined, got %v", err)
	}
	if _, err := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "stranger", Amount: decimal.NewFromInt(1)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outsider: expected ErrNotFound, got %v", err)
	}
}

func TestRespond_OnlyCounterpartyAndIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, err := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := f.svc.Accept(ctx, p.ID, "shop"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("recorder accept: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Dispute(ctx, p.ID, "shop"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("recorder dispute: expected ErrForbidden, got %v", err)
	}

	f.now = start.Add(time.Hour)
	first, err := f.svc.Accept(ctx, p.ID, "mill")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	sent := len(f.rec.Sent)
	f.now = start.Add(2 * time.Hour)
	second, err := f.svc.Accept(ctx, p.ID, "mill")
	if err != nil {
		t.Fatalf("repeat accept: %v", err)
	}
	if !second.AcceptedAt.Equal(*first.AcceptedAt) {
		t.Fatalf("repeat accept moved the timestamp: %v -> %v", first.AcceptedAt, second.AcceptedAt)
	}
	if len(f.rec.Sent) != sent {
		t.Fatalf("repeat accept must not notify again")
	}
}

func TestSweep_AcceptsOnlyStaleUndisputed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	stale, _ := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.NewFromInt(10)})
	disputed, _ := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.NewFromInt(10)})
	if _, err := f.svc.Dispute(ctx, disputed.ID, "mill"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	f.now = start.Add(47 * time.Hour)
	fresh, _ := f.svc.Record(ctx, RecordParams{OrderID: "o-1", ActorID: "shop", Amount: decimal.NewFromInt(10)})

	sweepAt := start.Add(49 * time.Hour)
	sweep := NewSweep(f.repo, nil).WithClock(func() time.Time { return sweepAt })
	n, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one payment accepted, got %d", n)
	}
	for _, p := range f.repo.payments {
		accepted := p.AcceptedAt != nil
		if accepted != (p.ID == stale.ID) {
			t.Errorf("payment %s accepted=%v", p.ID, accepted)
		}
	}
	if p, _ := f.repo.Get(ctx, fresh.ID); p.AcceptedAt != nil {
		t.Fatalf("fresh payment must wait")
	}

	again, err := sweep.Run(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second sweep should be a no-op, got %d err %v", again, err)
	}
}
