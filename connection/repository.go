package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/db"
	"tradeflow/trade"
)

var (
	// ErrNotFound signals the requested connection does not exist.
	ErrNotFound = errors.New("connection: not found")
	// ErrAlreadyExists signals the two businesses are already connected.
	ErrAlreadyExists = errors.New("connection: relationship already exists between these businesses")
)

// PGRepository provides connection persistence on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const connectionColumns = `id::text, buyer_id, supplier_id, payment_terms, health_state, created_at`

// Create inserts a connection. The unique pair index rejects a second
// connection between the same two businesses regardless of role order.
func (r *PGRepository) Create(ctx context.Context, c trade.Connection) (trade.Connection, error) {
	terms, err := encodeTerms(c.Terms)
	if err != nil {
		return trade.Connection{}, err
	}
	query := `
		INSERT INTO connections (id, buyer_id, supplier_id, payment_terms, health_state, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		RETURNING ` + connectionColumns

	out, err := scanConnection(r.pool.QueryRow(ctx, query, c.ID, c.BuyerID, c.SupplierID, terms, c.Health, c.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return trade.Connection{}, ErrAlreadyExists
		}
		return trade.Connection{}, fmt.Errorf("connection: insert: %w", err)
	}
	return out, nil
}

// Get fetches a connection by its primary key.
func (r *PGRepository) Get(ctx context.Context, id string) (trade.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	out, err := scanConnection(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if db.NoRows(err) {
			return trade.Connection{}, ErrNotFound
		}
		return trade.Connection{}, fmt.Errorf("connection: query by id: %w", err)
	}
	return out, nil
}

// ListForBusiness returns every connection businessID participates in,
// oldest first.
func (r *PGRepository) ListForBusiness(ctx context.Context, businessID string) ([]trade.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE buyer_id = $1 OR supplier_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("connection: list: %w", err)
	}
	defer rows.Close()

	out := make([]trade.Connection, 0, 8)
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("connection: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connection: iterate: %w", err)
	}
	return out, nil
}

// SetTerms overwrites the connection's current payment terms.
func (r *PGRepository) SetTerms(ctx context.Context, id string, terms trade.PaymentTerm) (trade.Connection, error) {
	body, err := encodeTerms(&terms)
	if err != nil {
		return trade.Connection{}, err
	}
	query := `
		UPDATE connections
		SET payment_terms = $2::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING ` + connectionColumns

	out, err := scanConnection(r.pool.QueryRow(ctx, query, id, body))
	if err != nil {
		if db.NoRows(err) {
			return trade.Connection{}, ErrNotFound
		}
		return trade.Connection{}, fmt.Errorf("connection: set terms: %w", err)
	}
	return out, nil
}

// SaveHealth overwrites the cached health label.
func (r *PGRepository) SaveHealth(ctx context.Context, id, label string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE connections SET health_state = $2, updated_at = now() WHERE id = $1`, id, label)
	if err != nil {
		return fmt.Errorf("connection: save health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (trade.Connection, error) {
	var (
		c     trade.Connection
		terms []byte
	)
	if err := row.Scan(&c.ID, &c.BuyerID, &c.SupplierID, &terms, &c.Health, &c.CreatedAt); err != nil {
		return trade.Connection{}, err
	}
	if len(terms) > 0 {
		var t trade.PaymentTerm
		if err := json.Unmarshal(terms, &t); err != nil {
			return trade.Connection{}, err
		}
		c.Terms = &t
	}
	return c, nil
}

func encodeTerms(t *trade.PaymentTerm) (any, error) {
	if t == nil {
		return nil, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("connection: marshal terms: %w", err)
	}
	return b, nil
}
