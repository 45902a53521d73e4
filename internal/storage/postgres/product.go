package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, sku, name, price, quantity, status
		FROM products WHERE id = ANY($1)`

	decrementStockSQL = `UPDATE products SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2`

	incrementStockSQL = `UPDATE products SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	q querier
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]product.Product, error) {
	rows, err := r.q.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// DecrementStock takes qty units in a single conditional UPDATE. No row is
// touched when fewer units are left, which is reported as
// product.ErrInsufficientStock.
func (r *ProductRepository) DecrementStock(ctx context.Context, id int64, qty int) error {
	tag, err := r.q.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrInsufficientStock
	}
	return nil
}

// IncrementStock returns qty units to stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, id int64, qty int) error {
	tag, err := r.q.Exec(ctx, incrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p      product.Product
		status string
	)
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Quantity, &status)
	p.Status = product.Status(status)
	return p, err
}
