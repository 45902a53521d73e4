package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned by DecrementStock when the available
	// quantity is lower than the amount to take.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Status is the sale status of a product.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Product represents a catalog item available for purchase.
type Product struct {
	ID       int64
	SKU      string
	Name     string
	Price    decimal.Decimal
	Quantity int
	Status   Status
}

// Available reports whether qty units can be sold right now.
func (p *Product) Available(qty int) bool {
	return p.Status == StatusActive && p.Quantity >= qty
}

// Repository reads products and mutates their available quantity.
//
// DecrementStock and IncrementStock must be atomic at the data store: the
// decrement only succeeds when at least qty units are available and returns
// ErrInsufficientStock otherwise.
type Repository interface {
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
	DecrementStock(ctx context.Context, id int64, qty int) error
	IncrementStock(ctx context.Context, id int64, qty int) error
}
