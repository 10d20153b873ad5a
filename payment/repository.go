package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tradeflow/db"
	"tradeflow/settlement"
	"tradeflow/trade"
)

var (
	ErrNotFound      = errors.New("payment: not found")
	ErrForbidden     = errors.New("payment: forbidden")
	ErrOrderDeclined = errors.New("payment: order was declined")
)

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const paymentColumns = `id::text, order_id::text, amount::text, recorded_by, recorded_at, disputed_at, accepted_at`

// Insert records p after re-checking the balance with the order row locked,
// so concurrent payments cannot jointly overpay.
func (r *PGRepository) Insert(ctx context.Context, p trade.PaymentEvent) (trade.PaymentEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return trade.PaymentEvent{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		value    string
		declined *time.Time
	)
	err = tx.QueryRow(ctx, `SELECT value::text, declined_at FROM orders WHERE id = $1 FOR UPDATE`, p.OrderID).
		Scan(&value, &declined)
	if err != nil {
		if db.NoRows(err) {
			return trade.PaymentEvent{}, fmt.Errorf("%w: order %s", ErrNotFound, p.OrderID)
		}
		return trade.PaymentEvent{}, fmt.Errorf("payment: lock order: %w", err)
	}
	if declined != nil {
		return trade.PaymentEvent{}, ErrOrderDeclined
	}
	orderValue, err := decimal.NewFromString(value)
	if err != nil {
		return trade.PaymentEvent{}, fmt.Errorf("payment: parse order value: %w", err)
	}

	existing, err := listByOrder(ctx, tx, p.OrderID)
	if err != nil {
		return trade.PaymentEvent{}, err
	}
	if err := settlement.CheckPayment(orderValue, existing, p.Amount); err != nil {
		return trade.PaymentEvent{}, err
	}

	out, err := scanPayment(tx.QueryRow(ctx, `
		INSERT INTO payments (id, order_id, amount, recorded_by, recorded_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		RETURNING `+paymentColumns,
		p.ID, p.OrderID, p.Amount.String(), p.RecordedBy, p.RecordedAt))
	if err != nil {
		return trade.PaymentEvent{}, fmt.Errorf("payment: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return trade.PaymentEvent{}, fmt.Errorf("payment: commit: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (trade.PaymentEvent, error) {
	out, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if err != nil {
		if db.NoRows(err) {
			return trade.PaymentEvent{}, ErrNotFound
		}
		return trade.PaymentEvent{}, fmt.Errorf("payment: query by id: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListByOrder(ctx context.Context, orderID string) ([]trade.PaymentEvent, error) {
	return listByOrder(ctx, r.pool, orderID)
}

// ListByConnection returns every payment on the connection's orders.
func (r *PGRepository) ListByConnection(ctx context.Context, connectionID string) ([]trade.PaymentEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id::text, p.order_id::text, p.amount::text, p.recorded_by, p.recorded_at, p.disputed_at, p.accepted_at
		FROM payments p
		JOIN orders o ON o.id = p.order_id
		WHERE o.connection_id = $1
		ORDER BY p.recorded_at ASC, p.id ASC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("payment: list by connection: %w", err)
	}
	return collect(rows)
}

// MarkDisputed sets disputed_at once; later calls keep the first timestamp.
func (r *PGRepository) MarkDisputed(ctx context.Context, id string, at time.Time) (trade.PaymentEvent, error) {
	return r.setOnce(ctx, `UPDATE payments SET disputed_at = COALESCE(disputed_at, $2) WHERE id = $1 RETURNING `+paymentColumns, id, at)
}

// MarkAccepted sets accepted_at once; later calls keep the first timestamp.
func (r *PGRepository) MarkAccepted(ctx context.Context, id string, at time.Time) (trade.PaymentEvent, error) {
	return r.setOnce(ctx, `UPDATE payments SET accepted_at = COALESCE(accepted_at, $2) WHERE id = $1 RETURNING `+paymentColumns, id, at)
}

// AutoAccept accepts every payment recorded at or before cutoff that has
// neither been accepted nor disputed. Running it twice changes nothing.
func (r *PGRepository) AutoAccept(ctx context.Context, cutoff, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments
		SET accepted_at = $2
		WHERE accepted_at IS NULL AND disputed_at IS NULL AND recorded_at <= $1`, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("payment: auto accept: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) setOnce(ctx context.Context, stmt, id string, at time.Time) (trade.PaymentEvent, error) {
	out, err := scanPayment(r.pool.QueryRow(ctx, stmt, id, at))
	if err != nil {
		if db.NoRows(err) {
			return trade.PaymentEvent{}, ErrNotFound
		}
		return trade.PaymentEvent{}, fmt.Errorf("payment: update: %w", err)
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listByOrder(ctx context.Context, q querier, orderID string) ([]trade.PaymentEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY recorded_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("payment: list: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]trade.PaymentEvent, error) {
	defer rows.Close()

	out := make([]trade.PaymentEvent, 0, 4)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payment: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment: iterate: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (trade.PaymentEvent, error) {
	var (
		p      trade.PaymentEvent
		amount string
	)
	if err := row.Scan(&p.ID, &p.OrderID, &amount, &p.RecordedBy, &p.RecordedAt, &p.DisputedAt, &p.AcceptedAt); err != nil {
		return trade.PaymentEvent{}, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return trade.PaymentEvent{}, fmt.Errorf("payment: parse amount: %w", err)
	}
	return p, nil
}
