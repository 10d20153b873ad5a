package issue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/db"
	"tradeflow/trade"
)

var (
	ErrNotFound  = errors.New("issue: not found")
	ErrForbidden = errors.New("issue: forbidden")
	ErrBadStatus = errors.New("issue: invalid status transition")
	ErrInvalid   = errors.New("issue: invalid report")
)

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const issueColumns = `id::text, order_id::text, issue_type, severity, raised_by, description, status, created_at, resolved_at`

func (r *PGRepository) Create(ctx context.Context, rep trade.IssueReport) (trade.IssueReport, error) {
	const query = `
		INSERT INTO issues (id, order_id, issue_type, severity, raised_by, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'open', $7)
		RETURNING ` + issueColumns

	out, err := scanIssue(r.pool.QueryRow(ctx, query,
		rep.ID, rep.OrderID, rep.Type, rep.Severity, rep.RaisedBy, rep.Description, rep.CreatedAt))
	if err != nil {
		return trade.IssueReport{}, fmt.Errorf("issue: create: %w", err)
	}
	return out, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (trade.IssueReport, error) {
	out, err := scanIssue(r.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id))
	if err != nil {
		if db.NoRows(err) {
			return trade.IssueReport{}, ErrNotFound
		}
		return trade.IssueReport{}, fmt.Errorf("issue: query by id: %w", err)
	}
	return out, nil
}

// ListByOrder returns the order's issues, newest first.
func (r *PGRepository) ListByOrder(ctx context.Context, orderID string) ([]trade.IssueReport, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("issue: list: %w", err)
	}
	return collect(rows)
}

// ListByConnection returns every issue on the connection's orders, oldest first.
func (r *PGRepository) ListByConnection(ctx context.Context, connectionID string) ([]trade.IssueReport, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id::text, i.order_id::text, i.issue_type, i.severity, i.raised_by, i.description, i.status, i.created_at, i.resolved_at
		FROM issues i
		JOIN orders o ON o.id = i.order_id
		WHERE o.connection_id = $1
		ORDER BY i.created_at ASC, i.id ASC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("issue: list by connection: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]trade.IssueReport, error) {
	defer rows.Close()

	out := make([]trade.IssueReport, 0, 4)
	for rows.Next() {
		rep, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("issue: scan: %w", err)
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("issue: iterate: %w", err)
	}
	return out, nil
}

// Resolve moves an open issue to resolved. A second call reports ErrBadStatus.
func (r *PGRepository) Resolve(ctx context.Context, id string, at time.Time) (trade.IssueReport, error) {
	const query = `
		UPDATE issues
		SET status = 'resolved', resolved_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING ` + issueColumns

	out, err := scanIssue(r.pool.QueryRow(ctx, query, id, at))
	if err != nil {
		if db.NoRows(err) {
			return trade.IssueReport{}, ErrBadStatus
		}
		return trade.IssueReport{}, fmt.Errorf("issue: resolve: %w", err)
	}
	return out, nil
}

func scanIssue(row pgx.Row) (trade.IssueReport, error) {
	var rep trade.IssueReport
	err := row.Scan(&rep.ID, &rep.OrderID, &rep.Type, &rep.Severity, &rep.RaisedBy,
		&rep.Description, &rep.Status, &rep.CreatedAt, &rep.ResolvedAt)
	return rep, err
}
