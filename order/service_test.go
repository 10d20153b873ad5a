package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/followup"
	"tradeflow/notify"
	"tradeflow/trade"
)

type fakeConnections map[string]trade.Connection

func (f fakeConnections) Get(_ context.Context, id string) (trade.Connection, error) {
	c, ok := f[id]
	if !ok {
		return trade.Connection{}, errors.New("connection not found")
	}
	return c, nil
}

type fakeRepo struct {
	orders map[string]trade.Order
	// beforeWrite runs just before a transition is persisted, to simulate a racing writer.
	beforeWrite func(id string)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{orders: map[string]trade.Order{}}
}

func (f *fakeRepo) Create(_ context.Context, o trade.Order) (trade.Order, error) {
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (trade.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return trade.Order{}, ErrNotFound
	}
	return o, nil
}

func (f *fakeRepo) ListByConnection(_ context.Context, connectionID string) ([]trade.Order, error) {
	var out []trade.Order
	for _, o := range f.orders {
		if o.ConnectionID == connectionID {
			out = append(out, o)
		}
	}
	trade.SortByCreation(out)
	return out, nil
}

// ApplyTransition mirrors the conditional UPDATE of the PG repository.
func (f *fakeRepo) ApplyTransition(_ context.Context, id string, t Transition, at time.Time) (trade.Order, error) {
	if f.beforeWrite != nil {
		f.beforeWrite(id)
	}
	o, ok := f.orders[id]
	if !ok {
		return trade.Order{}, ErrNotFound
	}
	if DeriveState(o) != rules[t].from {
		return trade.Order{}, ErrConflict
	}
	ts := at
	switch t {
	case TransitionAccept:
		o.AcceptedAt = &ts
	case TransitionDecline:
		o.DeclinedAt = &ts
	case TransitionDispatch:
		o.DispatchedAt = &ts
	case TransitionDeliver:
		o.DeliveredAt = &ts
	}
	f.orders[id] = o
	return o, nil
}

type countingRefresher struct{ calls []string }

func (c *countingRefresher) RefreshHealth(_ context.Context, id string) error {
	c.calls = append(c.calls, id)
	return nil
}

type fixture struct {
	svc       *Service
	repo      *fakeRepo
	rec       *notify.Recorder
	refresher *countingRefresher
	now       time.Time
}

func newFixture(terms *trade.PaymentTerm) *fixture {
	f := &fixture{
		repo:      newFakeRepo(),
		rec:       &notify.Recorder{},
		refresher: &countingRefresher{},
		now:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	conns := fakeConnections{"c-1": {ID: "c-1", BuyerID: "shop", SupplierID: "mill", Terms: terms}}
	ids := 0
	f.svc = NewService(f.repo, conns).
		WithIDGenerator(func() string { ids++; return fmt.Sprintf("o-%d", ids) }).
		WithClock(func() time.Time { return f.now }).
		WithFollowup(followup.New(f.refresher, f.rec, nil))
	return f
}

func (f *fixture) tick(d time.Duration) { f.now = f.now.Add(d) }

func TestCreate_RequiresTermsForEitherParty(t *testing.T) {
	f := newFixture(nil)
	for _, actor := range []string{"shop", "mill"} {
		_, err := f.svc.Create(context.Background(), CreateParams{ConnectionID: "c-1", ActorID: actor, Description: "flour", Value: decimal.NewFromInt(100)})
		if !errors.Is(err, ErrTermsRequired) {
			t.Fatalf("%s: expected ErrTermsRequired, got %v", actor, err)
		}
	}
	if len(f.repo.orders) != 0 {
		t.Fatalf("no order should have been written")
	}
}

func TestCreate_SnapshotsTerms(t *testing.T) {
	terms := trade.DaysAfterDelivery(7)
	f := newFixture(&terms)

	o, err := f.svc.Create(context.Background(), CreateParams{ConnectionID: "c-1", ActorID: "shop", Description: "flour", Value: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	terms.Days = 30
	if o.Terms.Days != 7 || f.repo.orders[o.ID].Terms.Days != 7 {
		t.Fatalf("order terms must be a copy, got %+v", o.Terms)
	}
	if len(f.rec.Sent) != 1 || f.rec.Sent[0].RecipientID != "mill" || f.rec.Sent[0].EventType != notify.EventOrderCreated {
		t.Fatalf("unexpected notifications: %+v", f.rec.Sent)
	}
	if len(f.refresher.calls) != 1 {
		t.Fatalf("expected one health refresh, got %d", len(f.refresher.calls))
	}
}

func TestCreate_Validation(t *testing.T) {
	terms := trade.AdvanceRequired()
	f := newFixture(&terms)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, CreateParams{ConnectionID: "c-1", ActorID: "shop", Description: "x", Value: decimal.Zero}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("zero value: expected ErrInvalidOrder, got %v", err)
	}
	if _, err := f.svc.Create(ctx, CreateParams{ConnectionID: "c-1", ActorID: "shop", Description: "  ", Value: decimal.NewFromInt(1)}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("blank description: expected ErrInvalidOrder, got %v", err)
	}
	if _, err := f.svc.Create(ctx, CreateParams{ConnectionID: "c-1", ActorID: "stranger", Description: "x", Value: decimal.NewFromInt(1)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outsider: expected ErrNotFound, got %v", err)
	}
}

func TestTransition_FullLifecycleNotifiesCounterparty(t *testing.T) {
	terms := trade.PaymentOnDelivery()
	f := newFixture(&terms)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, CreateParams{ConnectionID: "c-1", ActorID: "shop", Description: "flour", Value: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.tick(time.Hour)
	if _, err := f.svc.Accept(ctx, o.ID, "mill"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.tick(time.Hour)
	if _, err := f.svc.Dispatch(ctx, o.ID, "mill"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	f.tick(time.Hour)
	delivered, err := f.svc.Deliver(ctx, o.ID, "shop")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if DeriveState(delivered) != StateDelivered {
		t.Fatalf("expected delivered, got %s", DeriveState(delivered))
	}

	want := []struct {
		to    string
		event notify.EventType
	}{
		{"mill", notify.EventOrderCreated},
		{"shop", notify.EventOrderAccepted},
		{"shop", notify.EventOrderDispatched},
		{"mill", notify.EventOrderDelivered},
	}
	if len(f.rec.Sent) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(f.rec.Sent))
	}
	for i, w := range want {
		if f.rec.Sent[i].RecipientID != w.to || f.rec.Sent[i].EventType != w.event {
			t.Errorf("notification %d: got %s/%s want %s/%s", i, f.rec.Sent[i].RecipientID, f.rec.Sent[i].EventType, w.to, w.event)
		}
	}
	if len(f.refresher.calls) != 4 {
		t.Fatalf("expected health refresh after every mutation, got %d", len(f.refresher.calls))
	}
}

func TestTransition_RejectsBeforeWrite(t *testing.T) {
	terms := trade.PaymentOnDelivery()
	f := newFixture(&terms)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, CreateParams{ConnectionID: "c-1", ActorID: "shop", Description: "flour", Value: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sent := len(f.rec.Sent)

	if _, err := f.svc.Accept(ctx, o.ID, "shop"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("buyer accept: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Dispatch(ctx, o.ID, "mill"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("dispatch placed: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, o.ID, "stranger"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outsider: expected ErrNotFound, got %v", err)
	}
	if DeriveState(f.repo.orders[o.ID]) != StatePlaced {
		t.Fatalf("rejected transitions must not write")
	}
	if len(f.rec.Sent) != sent {
		t.Fatalf("rejected transitions must not notify")
	}
}

func TestTransition_LostRaceReturnsConflict(t *testing.T) {
	terms := trade.PaymentOnDelivery()
	f := newFixture(&terms)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, CreateParams{ConnectionID: "c-1", ActorID: "shop", Description: "flour", Value: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.tick(time.Minute)
	f.repo.beforeWrite = func(id string) {
		racer := f.repo.orders[id]
		at := f.now
		racer.DeclinedAt = &at
		f.repo.orders[id] = racer
		f.repo.beforeWrite = nil
	}

	if _, err := f.svc.Accept(ctx, o.ID, "mill"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, o.ID, "mill"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retry on fresh state: expected ErrInvalidTransition, got %v", err)
	}
}

func TestList_HidesFromOutsiders(t *testing.T) {
	terms := trade.BillToBill()
	f := newFixture(&terms)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		f.tick(time.Minute)
		if _, err := f.svc.Create(ctx, CreateParams{ConnectionID: "c-1", ActorID: "shop", Description: "flour", Value: decimal.NewFromInt(10)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	orders, err := f.svc.List(ctx, "c-1", "mill")
	if err != nil || len(orders) != 2 || orders[0].ID != "o-1" {
		t.Fatalf("unexpected list %+v err %v", orders, err)
	}
	if _, err := f.svc.List(ctx, "c-1", "stranger"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("outsider list: expected ErrNotFound, got %v", err)
	}
}
