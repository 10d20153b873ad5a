package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradeflow/connection"
	"tradeflow/order"
	"tradeflow/payment"
	"tradeflow/settlement"
	"tradeflow/test/actors"
	"tradeflow/test/chaos"
	"tradeflow/test/infra"
	"tradeflow/test/oracles"
	"tradeflow/trade"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "actors of each kind per connection")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "randomly terminate backend connections")
)

// openDatabase returns a migrated pool, skipping the test when neither a DSN
// nor Docker nor a local Postgres is available.
func openDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("stress suite skipped in -short mode")
	}

	var (
		pgC    *infra.PGContainer
		dsn    string
		err    error
		shared bool
	)
	switch {
	case *flDSN != "":
		dsn, shared, pgC = *flDSN, true, &infra.PGContainer{}
	case os.Getenv(infra.DSNEnv) != "":
		dsn, shared, pgC = os.Getenv(infra.DSNEnv), true, &infra.PGContainer{}
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no database available: %v", err)
		}
		pgC = &infra.PGContainer{}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}

func TestTradeflowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	pool := openDatabase(t, ctx)
	stack := actors.NewStack(pool, zap.NewNop())
	parties := mustSeed(t, ctx, stack)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, p := range parties {
		p := p
		g.Go(func() error { return actors.Placer(ctx2, stack, p, stop) })
		g.Go(func() error { return actors.Complainer(ctx2, stack, p, stop) })
		g.Go(func() error { return actors.Reader(ctx2, stack, p, stop) })
		for i := 0; i < *flConcurrency; i++ {
			g.Go(func() error { return actors.Mover(ctx2, stack, p, stop) })
			g.Go(func() error { return actors.Payer(ctx2, stack, p, stop) })
			g.Go(func() error { return actors.Responder(ctx2, stack, p, stop) })
		}
	}
	g.Go(func() error { return actors.Sweeper(ctx2, stack, stop) })
	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, infra.ApplicationName, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	if name, row, err := oracles.Run(context.Background(), pool); err != nil || name != "" {
		t.Fatalf("final oracle pass: %s %s %v (seed=%d)", name, row, err, seed)
	}
}

// TestAcceptDeclineRace fires Accept and Decline at the same placed order
// from many goroutines: exactly one call may succeed.
func TestAcceptDeclineRace(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool := openDatabase(t, ctx)
	stack := actors.NewStack(pool, zap.NewNop())
	p := mustSeed(t, ctx, stack)[0]

	for round := 0; round < 20; round++ {
		o, err := stack.Orders.Create(ctx, order.CreateParams{
			ConnectionID: p.ConnectionID,
			ActorID:      p.BuyerID,
			Description:  fmt.Sprintf("race %d", round),
			Value:        decimal.NewFromInt(100),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		var wins atomic.Int32
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 8; i++ {
			i := i
			g.Go(func() error {
				var err error
				if i%2 == 0 {
					_, err = stack.Orders.Accept(gctx, o.ID, p.SupplierID)
				} else {
					_, err = stack.Orders.Decline(gctx, o.ID, p.SupplierID)
				}
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, order.ErrConflict), errors.Is(err, order.ErrInvalidTransition):
				default:
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if got := wins.Load(); got != 1 {
			t.Fatalf("round %d: %d transitions succeeded, want exactly 1", round, got)
		}
	}
}

// TestConcurrentPaymentsNeverOverpay races payers for the full value of one
// delivered order: the accepted payments must sum to at most the value.
func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool := openDatabase(t, ctx)
	stack := actors.NewStack(pool, zap.NewNop())
	p := mustSeed(t, ctx, stack)[0]

	o, err := stack.Orders.Create(ctx, order.CreateParams{ConnectionID: p.ConnectionID, ActorID: p.BuyerID, Description: "bulk", Value: decimal.NewFromInt(1000)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := stack.Payments.Record(gctx, payment.RecordParams{OrderID: o.ID, ActorID: p.BuyerID, Amount: decimal.NewFromInt(150)})
			if err != nil && !errors.Is(err, settlement.ErrExceedsBalance) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("record: %v", err)
	}

	ps, err := stack.Payments.ListByOrder(ctx, o.ID, p.BuyerID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	total := decimal.Zero
	for _, pe := range ps {
		total = total.Add(pe.Amount)
	}
	if total.GreaterThan(o.Value) || len(ps) != 6 {
		t.Fatalf("recorded %d payments totalling %s against %s", len(ps), total, o.Value)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

// mustSeed opens two connections with terms through the service layer.
func mustSeed(t *testing.T, ctx context.Context, s *actors.Stack) []actors.Party {
	t.Helper()
	run := rand.Int63()
	terms := []trade.PaymentTerm{trade.DaysAfterDelivery(7), trade.BillToBill()}
	out := make([]actors.Party, 0, len(terms))
	for i, term := range terms {
		buyer := fmt.Sprintf("buyer-%d-%d", run, i)
		supplier := fmt.Sprintf("supplier-%d-%d", run, i)
		c, err := s.Connections.Create(ctx, connection.CreateParams{
			ActorID:        supplier,
			CounterpartyID: buyer,
			ActorRole:      trade.RoleSupplier,
			Terms:          &term,
		})
		if err != nil {
			t.Fatalf("seed connection: %v", err)
		}
		out = append(out, actors.Party{ConnectionID: c.ID, BuyerID: buyer, SupplierID: supplier})
	}
	return out
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	dumps := []struct {
		name string
		sql  string
	}{
		{"orders", `SELECT id, value, created_at, accepted_at, dispatched_at, delivered_at, declined_at FROM orders ORDER BY created_at DESC LIMIT 30`},
		{"payments", `SELECT id, order_id, amount, recorded_at, disputed_at, accepted_at FROM payments ORDER BY recorded_at DESC LIMIT 30`},
		{"outbox", `SELECT id, topic, created_at FROM outbox ORDER BY id DESC LIMIT 30`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
