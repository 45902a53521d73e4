package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/customer"
)

const (
	getCustomerByIDSQL = `SELECT c.id, c.name, c.email,
		t.id, t.name, t.discount_percentage, t.min_order_amount
		FROM customers c
		LEFT JOIN customer_types t ON t.id = c.customer_type_id
		WHERE c.id = $1`

	getPaymentMethodByIDSQL = `SELECT id, code, name, is_active
		FROM payment_methods WHERE id = $1`
)

var (
	_ customer.Repository              = (*CustomerRepository)(nil)
	_ customer.PaymentMethodRepository = (*PaymentMethodRepository)(nil)
)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	q querier
}

// GetByID returns a customer with its tier.
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*customer.Customer, error) {
	rows, err := r.q.Query(ctx, getCustomerByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCustomer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %d: %w", id, err)
	}
	return &c, nil
}

func scanCustomer(row pgx.CollectableRow) (customer.Customer, error) {
	var (
		c        customer.Customer
		typeID   *int64
		typeName *string
		percent  decimal.NullDecimal
		minOrder decimal.NullDecimal
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &typeID, &typeName, &percent, &minOrder)
	if typeID != nil {
		c.Type = &customer.Type{
			ID:              *typeID,
			Name:            *typeName,
			DiscountPercent: percent.Decimal,
			MinOrderAmount:  minOrder.Decimal,
		}
	}
	return c, err
}

// PaymentMethodRepository implements customer.PaymentMethodRepository backed
// by PostgreSQL.
type PaymentMethodRepository struct {
	q querier
}

// GetByID returns a payment method, active or not.
func (r *PaymentMethodRepository) GetByID(ctx context.Context, id int64) (*customer.PaymentMethod, error) {
	rows, err := r.q.Query(ctx, getPaymentMethodByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting payment method %d: %w", id, err)
	}

	pm, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (customer.PaymentMethod, error) {
		var pm customer.PaymentMethod
		err := row.Scan(&pm.ID, &pm.Code, &pm.Name, &pm.Active)
		return pm, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrPaymentMethodNotFound
		}
		return nil, fmt.Errorf("getting payment method %d: %w", id, err)
	}
	return &pm, nil
}
