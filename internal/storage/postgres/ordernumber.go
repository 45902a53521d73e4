package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/ordernumber"
)

// lastSequenceSQL finds the largest decimal suffix after $1. Random hex
// suffixes with a letter are skipped by the pattern.
const lastSequenceSQL = `SELECT COALESCE(MAX(substr(order_number, length($1) + 1)::bigint), 0)
	FROM orders
	WHERE starts_with(order_number, $1)
	  AND substr(order_number, length($1) + 1) ~ '^[0-9]{1,18}$'`

var _ ordernumber.Ledger = (*OrderNumberLedger)(nil)

// OrderNumberLedger reads committed order numbers outside any order
// transaction.
type OrderNumberLedger struct {
	q querier
}

// NewOrderNumberLedger returns a ledger reading from pool.
func NewOrderNumberLedger(pool *pgxpool.Pool) *OrderNumberLedger {
	return &OrderNumberLedger{q: pool}
}

// LastSequence implements ordernumber.Ledger.
func (l *OrderNumberLedger) LastSequence(ctx context.Context, prefix string) (int64, error) {
	var n int64
	if err := l.q.QueryRow(ctx, lastSequenceSQL, prefix).Scan(&n); err != nil {
		return 0, fmt.Errorf("query last order sequence %q: %w", prefix, err)
	}
	return n, nil
}
