package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes Value percent off the order amount.
	KindPercentage Kind = "percentage"
	// KindFixedAmount takes a fixed monetary Value off the order amount.
	KindFixedAmount Kind = "fixed_amount"
)

// Category tags a discount and decides which other discounts it may be
// combined with. See Compatible.
type Category string

const (
	CategoryProduct   Category = "product"
	CategoryPayment   Category = "payment"
	CategoryCustomer  Category = "customer"
	CategorySeasonal  Category = "seasonal"
	CategoryPromotion Category = "promotion"
)

// Reasons a discount fails its validity predicate.
var (
	ErrNotFound          = errors.New("discount not found")
	ErrInactive          = errors.New("discount is not active")
	ErrNotStarted        = errors.New("discount is not active yet")
	ErrExpired           = errors.New("discount has expired")
	ErrBelowMinimum      = errors.New("order amount is below the discount minimum")
	ErrUsageLimitReached = errors.New("discount usage limit reached")
)

var hundred = decimal.NewFromInt(100)

// Discount is a promotional code.
type Discount struct {
	ID       int64
	Code     string
	Name     string
	Kind     Kind
	Value    decimal.Decimal
	Category Category

	MinOrderAmount decimal.Decimal
	// MaxDiscountAmount caps the computed amount when valid.
	MaxDiscountAmount decimal.NullDecimal
	// UsageLimit is nil for unlimited codes.
	UsageLimit *int
	UsedCount  int
	CanStack   bool

	// Active window is [StartsAt, EndsAt). A nil bound is open.
	StartsAt *time.Time
	EndsAt   *time.Time
	Active   bool
}

// Check evaluates the validity predicate of d against an order amount at the
// given instant. It returns nil when the discount may be applied.
func (d *Discount) Check(amount decimal.Decimal, now time.Time) error {
	if !d.Active {
		return ErrInactive
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return ErrNotStarted
	}
	if d.EndsAt != nil && !now.Before(*d.EndsAt) {
		return ErrExpired
	}
	if amount.LessThan(d.MinOrderAmount) {
		return ErrBelowMinimum
	}
	if d.UsageLimit != nil && d.UsedCount >= *d.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

// AmountFor returns the amount d takes off an order of the given amount,
// before the stacker caps it at what is left of the order.
func (d *Discount) AmountFor(amount decimal.Decimal) decimal.Decimal {
	var v decimal.Decimal
	switch d.Kind {
	case KindPercentage:
		v = amount.Mul(d.Value).Div(hundred)
	case KindFixedAmount:
		v = d.Value
	default:
		return decimal.Zero
	}
	if d.MaxDiscountAmount.Valid && v.GreaterThan(d.MaxDiscountAmount.Decimal) {
		v = d.MaxDiscountAmount.Decimal
	}
	if v.IsNegative() {
		v = decimal.Zero
	}
	return v.Round(2)
}

// Repository provides lookup of discounts and atomic usage counters.
//
// IncrementUsage must fail with ErrUsageLimitReached instead of pushing the
// used count past the usage limit. DecrementUsage never takes the counter
// below zero.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Discount, error)
	IncrementUsage(ctx context.Context, id int64) error
	DecrementUsage(ctx context.Context, id int64) error
}
