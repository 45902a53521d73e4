// Package customer holds the account records the order core reads: customers,
// their tier and the payment methods they can pay with. Maintaining these
// records (CRUD, tier reclassification) happens elsewhere.
package customer

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested customer does not exist.
	ErrNotFound = errors.New("customer not found")
	// ErrPaymentMethodNotFound is returned when a requested payment method does not exist.
	ErrPaymentMethodNotFound = errors.New("payment method not found")
)

// Customer is a buyer that orders are placed for.
type Customer struct {
	ID    int64
	Name  string
	Email string
	// Type is nil when the customer has not been assigned a tier yet.
	Type *Type
}

// Type is a customer tier. Customers in a tier get DiscountPercent off every
// order whose subtotal reaches MinOrderAmount.
type Type struct {
	ID              int64
	Name            string
	DiscountPercent decimal.Decimal
	MinOrderAmount  decimal.Decimal
}

// PaymentMethod is a way of paying for an order.
type PaymentMethod struct {
	ID     int64
	Code   string
	Name   string
	Active bool
}

// Repository looks up customers together with their tier.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Customer, error)
}

// PaymentMethodRepository looks up payment methods.
type PaymentMethodRepository interface {
	GetByID(ctx context.Context, id int64) (*PaymentMethod, error)
}
