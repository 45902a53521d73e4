// Package pricing computes order subtotals and customer tier discounts.
package pricing

import (
	"fmt"
	"math"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/customer"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/product"
)

// ErrEmptyBasket is returned when there is nothing to price.
var ErrEmptyBasket = errors.New("basket is empty")

// MaxQuantity is the largest quantity a line may carry, matching the INTEGER
// quantity columns.
const MaxQuantity = math.MaxInt32

var hundred = decimal.NewFromInt(100)

// InvalidQuantityError is returned when a line asks for zero or fewer units,
// or for more than MaxQuantity.
type InvalidQuantityError struct {
	ProductID int64
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	if e.Quantity > MaxQuantity {
		return fmt.Sprintf("quantity %d for product %d exceeds %d", e.Quantity, e.ProductID, MaxQuantity)
	}
	return fmt.Sprintf("invalid quantity %d for product %d", e.Quantity, e.ProductID)
}

// OutOfStockError is returned when a product cannot supply the requested
// quantity, either because it is inactive or because too few units are left.
type OutOfStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d out of stock: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *OutOfStockError) Unwrap() error { return product.ErrInsufficientStock }

// Line is a resolved basket entry.
type Line struct {
	Product  product.Product
	Quantity int
}

// PricedLine is a basket entry with the price it was sold at.
type PricedLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Quote is the priced basket.
type Quote struct {
	Lines            []PricedLine
	Subtotal         decimal.Decimal
	CustomerDiscount decimal.Decimal
}

// Calculate prices the basket and applies the customer's tier discount. tier
// may be nil. Calculate has no side effects.
func Calculate(lines []Line, tier *customer.Type) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyBasket
	}

	q := Quote{
		Lines:    make([]PricedLine, 0, len(lines)),
		Subtotal: decimal.Zero,
	}
	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > MaxQuantity {
			return Quote{}, &InvalidQuantityError{ProductID: l.Product.ID, Quantity: l.Quantity}
		}
		if !l.Product.Available(l.Quantity) {
			available := l.Product.Quantity
			if l.Product.Status != product.StatusActive {
				available = 0
			}
			return Quote{}, &OutOfStockError{
				ProductID: l.Product.ID,
				Requested: l.Quantity,
				Available: available,
			}
		}
		total := l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
		q.Lines = append(q.Lines, PricedLine{
			ProductID: l.Product.ID,
			Quantity:  l.Quantity,
			UnitPrice: l.Product.Price,
			Total:     total,
		})
		q.Subtotal = q.Subtotal.Add(total)
	}

	q.CustomerDiscount = TierDiscount(q.Subtotal, tier)
	return q, nil
}

// TierDiscount returns the discount a customer of the given tier gets on an
// order with the given subtotal. Tier discounts are not capped.
func TierDiscount(subtotal decimal.Decimal, tier *customer.Type) decimal.Decimal {
	if tier == nil || !tier.DiscountPercent.IsPositive() {
		return decimal.Zero
	}
	if subtotal.LessThan(tier.MinOrderAmount) {
		return decimal.Zero
	}
	return subtotal.Mul(tier.DiscountPercent).Div(hundred).Round(2)
}
