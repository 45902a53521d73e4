package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/product"
)

// Error kinds returned by Service. Use errors.Is to match them and errors.As
// with the typed errors below to get the details.
var (
	ErrNotFound                = errors.New("not found")
	ErrOutOfStock              = product.ErrInsufficientStock
	ErrDiscountNotFound        = errors.New("discount not found")
	ErrDiscountNotApplicable   = errors.New("discount not applicable")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOrderNotCancellable     = errors.New("order not cancellable")
	ErrTransaction             = errors.New("transaction failed")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DiscountNotFoundError is returned when a code does not resolve to a discount.
type DiscountNotFoundError struct {
	Code string
}

func (e *DiscountNotFoundError) Error() string {
	return fmt.Sprintf("discount code %q not found", e.Code)
}

func (e *DiscountNotFoundError) Unwrap() error { return ErrDiscountNotFound }

// DiscountNotApplicableError is returned when a code exists but cannot be
// applied. Reason is one of the discount validity errors.
type DiscountNotApplicableError struct {
	Code   string
	Reason error
}

func (e *DiscountNotApplicableError) Error() string {
	return fmt.Sprintf("discount code %q not applicable: %v", e.Code, e.Reason)
}

func (e *DiscountNotApplicableError) Unwrap() error { return ErrDiscountNotApplicable }

// InvalidStatusTransitionError is returned for a status change missing from
// the transition table.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("%v: %s → %s", ErrInvalidStatusTransition, e.From, e.To)
}

func (e *InvalidStatusTransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// OrderNotCancellableError is returned when cancelling an order that already
// left the cancellable states.
type OrderNotCancellableError struct {
	OrderID int64
	Status  Status
}

func (e *OrderNotCancellableError) Error() string {
	return fmt.Sprintf("order %d cannot be cancelled in status %s", e.OrderID, e.Status)
}

func (e *OrderNotCancellableError) Unwrap() error { return ErrOrderNotCancellable }

// TransactionError wraps a storage failure. It is the only kind worth
// retrying.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) Is(target error) bool { return target == ErrTransaction }
