package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"tradeflow/db"
	"tradeflow/trade"
)

var (
	ErrNotFound = errors.New("order: not found")
	// ErrConflict means the order changed between read and write; re-read and retry.
	ErrConflict = errors.New("order: concurrent modification")
)

// PGRepository provides order persistence on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `id::text, connection_id::text, description, value::text, payment_terms,
	created_by, created_at, accepted_at, dispatched_at, delivered_at, declined_at`

// Each transition only writes while the timestamps its precondition depends on
// are still in the state the caller observed.
var transitionSQL = map[Transition]string{
	TransitionAccept: `UPDATE orders SET accepted_at = $2
		WHERE id = $1 AND accepted_at IS NULL AND declined_at IS NULL`,
	TransitionDecline: `UPDATE orders SET declined_at = $2
		WHERE id = $1 AND accepted_at IS NULL AND declined_at IS NULL`,
	TransitionDispatch: `UPDATE orders SET dispatched_at = $2
		WHERE id = $1 AND accepted_at IS NOT NULL AND dispatched_at IS NULL AND declined_at IS NULL`,
	TransitionDeliver: `UPDATE orders SET delivered_at = $2
		WHERE id = $1 AND dispatched_at IS NOT NULL AND delivered_at IS NULL`,
}

// Create inserts o with its payment term snapshot.
func (r *PGRepository) Create(ctx context.Context, o trade.Order) (trade.Order, error) {
	terms, err := json.Marshal(o.Terms)
	if err != nil {
		return trade.Order{}, fmt.Errorf("order: marshal terms: %w", err)
	}
	query := `
		INSERT INTO orders (id, connection_id, description, value, payment_terms, created_by, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::jsonb, $6, $7)
		RETURNING ` + orderColumns

	out, err := scanOrder(r.pool.QueryRow(ctx, query,
		o.ID, o.ConnectionID, o.Description, o.Value.String(), terms, o.CreatedBy, o.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return trade.Order{}, fmt.Errorf("%w: connection %s", ErrNotFound, o.ConnectionID)
		}
		return trade.Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (trade.Order, error) {
	out, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if db.NoRows(err) {
			return trade.Order{}, ErrNotFound
		}
		return trade.Order{}, fmt.Errorf("order: query by id: %w", err)
	}
	return out, nil
}

// ListByConnection returns the connection's orders in creation order.
func (r *PGRepository) ListByConnection(ctx context.Context, connectionID string) ([]trade.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE connection_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("order: list: %w", err)
	}
	defer rows.Close()

	out := make([]trade.Order, 0, 16)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate: %w", err)
	}
	return out, nil
}

// ApplyTransition writes the timestamp for t at the given instant. It returns
// ErrConflict when another writer got there first.
func (r *PGRepository) ApplyTransition(ctx context.Context, id string, t Transition, at time.Time) (trade.Order, error) {
	stmt, ok := transitionSQL[t]
	if !ok {
		return trade.Order{}, fmt.Errorf("%w: unknown transition %q", ErrInvalidTransition, t)
	}
	out, err := scanOrder(r.pool.QueryRow(ctx, stmt+` RETURNING `+orderColumns, id, at))
	if err != nil {
		if db.NoRows(err) {
			return trade.Order{}, fmt.Errorf("%w: %s lost to a concurrent change", ErrConflict, t)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return trade.Order{}, fmt.Errorf("%w: %s", ErrNotMonotonic, pgErr.ConstraintName)
		}
		return trade.Order{}, fmt.Errorf("order: %s: %w", t, err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (trade.Order, error) {
	var (
		o     trade.Order
		value string
		terms []byte
	)
	err := row.Scan(&o.ID, &o.ConnectionID, &o.Description, &value, &terms,
		&o.CreatedBy, &o.CreatedAt, &o.AcceptedAt, &o.DispatchedAt, &o.DeliveredAt, &o.DeclinedAt)
	if err != nil {
		return trade.Order{}, err
	}
	if o.Value, err = decimal.NewFromString(value); err != nil {
		return trade.Order{}, fmt.Errorf("order: parse value: %w", err)
	}
	if err := json.Unmarshal(terms, &o.Terms); err != nil {
		return trade.Order{}, fmt.Errorf("order: decode terms: %w", err)
	}
	return o, nil
}
