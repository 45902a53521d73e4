// Package memory implements the order store in process memory.
//
// Every transaction works on a private copy of the data and swaps it in on
// commit, so a failed transaction leaves no trace. Transactions are
// serialized by a single mutex.
package memory

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/customer"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/product"
)

var _ order.TxManager = (*DB)(nil)

type state struct {
	customers      map[int64]customer.Customer
	paymentMethods map[int64]customer.PaymentMethod
	products       map[int64]product.Product
	discounts      map[int64]discount.Discount
	orders         map[int64]order.Order
	lastOrderID    int64
}

func (s *state) clone() *state {
	c := &state{
		customers:      maps.Clone(s.customers),
		paymentMethods: maps.Clone(s.paymentMethods),
		products:       maps.Clone(s.products),
		discounts:      maps.Clone(s.discounts),
		orders:         make(map[int64]order.Order, len(s.orders)),
		lastOrderID:    s.lastOrderID,
	}
	for id, o := range s.orders {
		c.orders[id] = cloneOrder(o)
	}
	return c
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	o.Discounts = slices.Clone(o.Discounts)
	return o
}

// DB is an in-memory order store.
type DB struct {
	mu sync.Mutex
	s  *state

	// Committed order numbers, readable while a transaction holds mu.
	numbersMu sync.Mutex
	numbers   []string
}

// New returns an empty DB.
func New() *DB {
	return &DB{s: &state{
		customers:      map[int64]customer.Customer{},
		paymentMethods: map[int64]customer.PaymentMethod{},
		products:       map[int64]product.Product{},
		discounts:      map[int64]discount.Discount{},
		orders:         map[int64]order.Order{},
	}}
}

// WithinTx implements order.TxManager.
func (db *DB) WithinTx(ctx context.Context, fn func(s order.Store) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &txStore{s: db.s.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	db.numbersMu.Lock()
	for id := db.s.lastOrderID + 1; id <= tx.s.lastOrderID; id++ {
		db.numbers = append(db.numbers, tx.s.orders[id].Number)
	}
	db.numbersMu.Unlock()

	db.s = tx.s
	return nil
}

// LastSequence implements ordernumber.Ledger over committed orders.
func (db *DB) LastSequence(_ context.Context, prefix string) (int64, error) {
	db.numbersMu.Lock()
	defer db.numbersMu.Unlock()

	var last int64
	for _, number := range db.numbers {
		suffix, ok := strings.CutPrefix(number, prefix)
		if !ok || suffix == "" || strings.TrimLeft(suffix, "0123456789") != "" {
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		last = max(last, n)
	}
	return last, nil
}

// PutCustomer stores c, replacing any customer with the same id.
func (db *DB) PutCustomer(c customer.Customer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.s.customers[c.ID] = c
}

// PutPaymentMethod stores pm, replacing any payment method with the same id.
func (db *DB) PutPaymentMethod(pm customer.PaymentMethod) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.s.paymentMethods[pm.ID] = pm
}

// PutProduct stores p, replacing any product with the same id.
func (db *DB) PutProduct(p product.Product) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.s.products[p.ID] = p
}

// PutDiscount stores d, replacing any discount with the same id.
func (db *DB) PutDiscount(d discount.Discount) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.s.discounts[d.ID] = d
}

// Product returns the committed state of a product.
func (db *DB) Product(id int64) (product.Product, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.s.products[id]
	return p, ok
}

// Discount returns the committed state of a discount.
func (db *DB) Discount(id int64) (discount.Discount, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	d, ok := db.s.discounts[id]
	return d, ok
}

// Orders returns the number of committed orders.
func (db *DB) Orders() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.s.orders)
}

type txStore struct {
	s *state
}

func (t *txStore) Customers() customer.Repository                   { return customers{t} }
func (t *txStore) PaymentMethods() customer.PaymentMethodRepository { return paymentMethods{t} }
func (t *txStore) Products() product.Repository                     { return products{t} }
func (t *txStore) Discounts() discount.Repository                   { return discounts{t} }
func (t *txStore) Orders() order.Repository                         { return orders{t} }

type customers struct{ *txStore }

func (r customers) GetByID(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := r.s.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	if c.Type != nil {
		tier := *c.Type
		c.Type = &tier
	}
	return &c, nil
}

type paymentMethods struct{ *txStore }

func (r paymentMethods) GetByID(_ context.Context, id int64) (*customer.PaymentMethod, error) {
	pm, ok := r.s.paymentMethods[id]
	if !ok {
		return nil, customer.ErrPaymentMethodNotFound
	}
	return &pm, nil
}

type products struct{ *txStore }

func (r products) GetByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r products) DecrementStock(_ context.Context, id int64, qty int) error {
	p, ok := r.s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	if p.Quantity < qty {
		return product.ErrInsufficientStock
	}
	p.Quantity -= qty
	r.s.products[id] = p
	return nil
}

func (r products) IncrementStock(_ context.Context, id int64, qty int) error {
	p, ok := r.s.products[id]
	if !ok {
		return product.ErrNotFound
	}
	p.Quantity += qty
	r.s.products[id] = p
	return nil
}

type discounts struct{ *txStore }

func (r discounts) FindByCode(_ context.Context, code string) (*discount.Discount, error) {
	for _, d := range r.s.discounts {
		if d.Code == code {
			return &d, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (r discounts) IncrementUsage(_ context.Context, id int64) error {
	d, ok := r.s.discounts[id]
	if !ok {
		return discount.ErrNotFound
	}
	if d.UsageLimit != nil && d.UsedCount >= *d.UsageLimit {
		return discount.ErrUsageLimitReached
	}
	d.UsedCount++
	r.s.discounts[id] = d
	return nil
}

func (r discounts) DecrementUsage(_ context.Context, id int64) error {
	d, ok := r.s.discounts[id]
	if !ok {
		return discount.ErrNotFound
	}
	d.UsedCount = max(d.UsedCount-1, 0)
	r.s.discounts[id] = d
	return nil
}

type orders struct{ *txStore }

func (r orders) Create(_ context.Context, o *order.Order) error {
	for _, existing := range r.s.orders {
		if existing.Number == o.Number {
			return order.ErrDuplicateNumber
		}
	}
	r.s.lastOrderID++
	o.ID = r.s.lastOrderID
	r.s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (r orders) Get(_ context.Context, id int64) (*order.Order, error) {
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r orders) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r orders) UpdateStatus(_ context.Context, o *order.Order) error {
	stored, ok := r.s.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	stored.Status = o.Status
	stored.ShippedAt = o.ShippedAt
	stored.DeliveredAt = o.DeliveredAt
	r.s.orders[o.ID] = stored
	return nil
}
