package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
)

const (
	getDiscountByCodeSQL = `SELECT id, code, name, kind, value, category,
		min_order_amount, max_discount_amount, usage_limit, used_count,
		can_stack, start_date, end_date, is_active
		FROM discounts WHERE code = $1`

	incrementUsageSQL = `UPDATE discounts SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	decrementUsageSQL = `UPDATE discounts SET used_count = GREATEST(used_count - 1, 0)
		WHERE id = $1`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	q querier
}

// FindByCode looks up a discount by its exact, case-sensitive code.
// Inactive and expired discounts are returned too; callers check validity.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.q.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &d, nil
}

// IncrementUsage bumps the usage counter unless the limit is reached, in
// which case no row matches and discount.ErrUsageLimitReached is returned.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, incrementUsageSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing usage of discount %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrUsageLimitReached
	}
	return nil
}

// DecrementUsage releases one use, never going below zero.
func (r *DiscountRepository) DecrementUsage(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, decrementUsageSQL, id)
	if err != nil {
		return fmt.Errorf("decrementing usage of discount %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d          discount.Discount
		kind       string
		category   string
		usageLimit *int32
		usedCount  int32
		startsAt   *time.Time
		endsAt     *time.Time
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.Name, &kind, &d.Value, &category,
		&d.MinOrderAmount, &d.MaxDiscountAmount, &usageLimit, &usedCount,
		&d.CanStack, &startsAt, &endsAt, &d.Active,
	)
	d.Kind = discount.Kind(kind)
	d.Category = discount.Category(category)
	if usageLimit != nil {
		limit := int(*usageLimit)
		d.UsageLimit = &limit
	}
	d.UsedCount = int(usedCount)
	d.StartsAt = startsAt
	d.EndsAt = endsAt
	return d, err
}
