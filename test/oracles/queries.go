package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All lists invariants over the event store. Each query returns rows only
// when its invariant is broken.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_overpayment",
			SQL: `SELECT o.id, o.value, SUM(p.amount) AS paid
                  FROM orders o JOIN payments p ON p.order_id = o.id
                  GROUP BY o.id, o.value
                  HAVING SUM(p.amount) > o.value`,
		},
		{
			Name: "O2_declined_is_terminal",
			SQL: `SELECT id FROM orders
                  WHERE declined_at IS NOT NULL
                    AND (accepted_at IS NOT NULL OR dispatched_at IS NOT NULL OR delivered_at IS NOT NULL)`,
		},
		{
			Name: "O3_lifecycle_monotonic",
			SQL: `SELECT id FROM orders
                  WHERE accepted_at < created_at
                     OR dispatched_at < accepted_at
                     OR delivered_at < dispatched_at
                     OR (dispatched_at IS NOT NULL AND accepted_at IS NULL)
                     OR (delivered_at IS NOT NULL AND dispatched_at IS NULL)`,
		},
		{
			Name: "O4_no_payment_on_declined",
			SQL: `SELECT p.id FROM payments p
                  JOIN orders o ON o.id = p.order_id
                  WHERE o.declined_at IS NOT NULL`,
		},
		{
			Name: "O5_unique_pair",
			SQL: `SELECT LEAST(buyer_id, supplier_id), GREATEST(buyer_id, supplier_id), COUNT(*)
                  FROM connections
                  GROUP BY 1, 2 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_issue_resolution",
			SQL: `SELECT id FROM issues
                  WHERE (status = 'resolved') <> (resolved_at IS NOT NULL)
                     OR resolved_at < created_at`,
		},
		{
			Name: "O7_order_terms_snapshot",
			SQL:  `SELECT id FROM orders WHERE payment_terms IS NULL OR payment_terms = 'null'::jsonb`,
		},
		{
			Name: "O8_health_label_known",
			SQL: `SELECT id, health_state FROM connections
                  WHERE health_state NOT IN ('under_stress', 'friction_rising', 'active', 'stable')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
