package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
)

// ErrDuplicateNumber is returned by Repository.Create when the order number
// is already taken.
var ErrDuplicateNumber = errors.New("duplicate order number")

// Order is a placed customer order with its priced lines and the discounts
// that were applied to it.
type Order struct {
	ID              int64
	Number          string
	CustomerID      int64
	PaymentMethodID int64
	Status          Status

	Subtotal            decimal.Decimal
	CustomerDiscount    decimal.Decimal
	PromotionalDiscount decimal.Decimal
	Total               decimal.Decimal

	Notes           string
	ShippingAddress string

	OrderedAt   time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time

	Items     []Item
	Discounts []AppliedDiscount
}

// Item is an order line. UnitPrice is the product price at order time.
type Item struct {
	ID        int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// AppliedDiscount records a discount code applied to an order and the exact
// amount it took off. Cancellation reads these rows to release usage.
type AppliedDiscount struct {
	DiscountID  int64
	Code        string
	Category    discount.Category
	Amount      decimal.Decimal
	StackedWith string
}

// Repository persists orders.
//
// Create stores the order with its items and applied discounts and sets
// o.ID. Get and GetForUpdate return ErrNotFound for unknown ids;
// GetForUpdate additionally locks the order until the transaction ends.
// UpdateStatus writes Status, ShippedAt and DeliveredAt.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	UpdateStatus(ctx context.Context, o *Order) error
}
