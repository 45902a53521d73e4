package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (order_number, customer_id, payment_method_id, status,
		subtotal, customer_discount, promotional_discount, total,
		notes, shipping_address, ordered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	createOrderItemSQL = `INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	createOrderDiscountSQL = `INSERT INTO order_discounts (order_id, discount_id, code, category,
		amount, stacked_with, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectOrderSQL = `SELECT id, order_number, customer_id, payment_method_id, status,
		subtotal, customer_discount, promotional_discount, total,
		notes, shipping_address, ordered_at, shipped_at, delivered_at
		FROM orders WHERE id = $1`

	listOrderItemsSQL = `SELECT id, product_id, quantity, unit_price, total_price
		FROM order_items WHERE order_id = $1 ORDER BY id`

	listOrderDiscountsSQL = `SELECT discount_id, code, category, amount, stacked_with
		FROM order_discounts WHERE order_id = $1 ORDER BY position`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, shipped_at = $3, delivered_at = $4, updated_at = now()
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	q querier
}

// Create inserts the order and then its items and applied discounts in one
// batch round trip.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.q.QueryRow(ctx, createOrderSQL,
		o.Number, o.CustomerID, o.PaymentMethodID, string(o.Status),
		o.Subtotal, o.CustomerDiscount, o.PromotionalDiscount, o.Total,
		o.Notes, o.ShippingAddress, o.OrderedAt,
	).Scan(&o.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrDuplicateNumber
		}
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}

	b := &pgx.Batch{}
	for i := range o.Items {
		it := &o.Items[i]
		b.Queue(createOrderItemSQL, o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.Total).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&it.ID)
			})
	}
	for i, d := range o.Discounts {
		b.Queue(createOrderDiscountSQL,
			o.ID, d.DiscountID, d.Code, string(d.Category), d.Amount, d.StackedWith, i,
		)
	}
	if b.Len() == 0 {
		return nil
	}
	if err := r.q.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating lines of order %q: %w", o.Number, err)
	}
	return nil
}

// Get returns the order with its items and applied discounts.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, selectOrderSQL, id)
}

// GetForUpdate is Get with the order row locked until the transaction ends.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.get(ctx, selectOrderSQL+" FOR UPDATE", id)
}

func (r *OrderRepository) get(ctx context.Context, sql string, id int64) (*order.Order, error) {
	rows, err := r.q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	rows, err = r.q.Query(ctx, listOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", id, err)
	}
	if o.Items, err = pgx.CollectRows(rows, scanOrderItem); err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", id, err)
	}

	rows, err = r.q.Query(ctx, listOrderDiscountsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing discounts of order %d: %w", id, err)
	}
	if o.Discounts, err = pgx.CollectRows(rows, scanAppliedDiscount); err != nil {
		return nil, fmt.Errorf("listing discounts of order %d: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus writes the status and fulfillment timestamps of o.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := r.q.Exec(ctx, updateOrderStatusSQL, o.ID, string(o.Status), o.ShippedAt, o.DeliveredAt)
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.PaymentMethodID, &status,
		&o.Subtotal, &o.CustomerDiscount, &o.PromotionalDiscount, &o.Total,
		&o.Notes, &o.ShippingAddress, &o.OrderedAt, &o.ShippedAt, &o.DeliveredAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Total)
	return it, err
}

func scanAppliedDiscount(row pgx.CollectableRow) (order.AppliedDiscount, error) {
	var (
		d        order.AppliedDiscount
		category string
	)
	err := row.Scan(&d.DiscountID, &d.Code, &category, &d.Amount, &d.StackedWith)
	d.Category = discount.Category(category)
	return d, err
}
