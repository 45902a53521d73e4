package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/customer"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/product"
)

var _ order.TxManager = (*TxManager)(nil)

// TxManager runs order operations in read-committed PostgreSQL transactions.
// Counters are changed with conditional UPDATEs so concurrent transactions
// cannot push them out of range.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager returns a TxManager that uses the given pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithinTx implements order.TxManager. The transaction is rolled back when
// fn returns an error or panics.
func (m *TxManager) WithinTx(ctx context.Context, fn func(s order.Store) error) error {
	return pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(store{q: tx})
	})
}

type store struct {
	q querier
}

func (s store) Customers() customer.Repository { return &CustomerRepository{q: s.q} }
func (s store) PaymentMethods() customer.PaymentMethodRepository {
	return &PaymentMethodRepository{q: s.q}
}
func (s store) Products() product.Repository   { return &ProductRepository{q: s.q} }
func (s store) Discounts() discount.Repository { return &DiscountRepository{q: s.q} }
func (s store) Orders() order.Repository       { return &OrderRepository{q: s.q} }
