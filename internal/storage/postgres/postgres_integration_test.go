//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/ordernumber"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/storage/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "orderdesk",
				"POSTGRES_PASSWORD": "orderdesk",
				"POSTGRES_DB":       "orderdesk",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://orderdesk:orderdesk@%s:%s/orderdesk?sslmode=disable", host, port.Port())
	pool, err = postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := seed(ctx); err != nil {
		log.Fatalf("seed: %v", err)
	}

	return m.Run()
}

func seed(ctx context.Context) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO customer_types (id, name, discount_percentage, min_order_amount)
			VALUES (1, 'gold', 5, 1000000);
		INSERT INTO customers (id, name, email, customer_type_id)
			VALUES (1, 'Alice', 'alice@example.com', 1), (2, 'Bob', 'bob@example.com', NULL);
		INSERT INTO payment_methods (id, code, name) VALUES (1, 'card', 'Card');
		INSERT INTO discounts (id, code, name, kind, value, category, can_stack)
			VALUES (100, 'SAVE10', '10% off', 'percentage', 10, 'product', TRUE),
			       (101, 'PAY5', 'Card bonus', 'fixed_amount', 50000, 'payment', TRUE);
	`)
	return err
}

// newProduct inserts a product with its own id so tests do not share stock.
func newProduct(t *testing.T, price string, qty int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO products (sku, name, price, quantity) VALUES ('SKU-' || gen_random_uuid(), 'Item', $1, $2) RETURNING id`,
		decimal.RequireFromString(price), qty,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// newDiscount inserts a discount with a usage limit and returns its code and id.
func newDiscount(t *testing.T, limit int) (string, int64) {
	t.Helper()
	code := fmt.Sprintf("LIMIT-%d", time.Now().UnixNano())
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO discounts (code, name, kind, value, category, usage_limit)
			VALUES ($1, 'limited', 'fixed_amount', 1, 'seasonal', $2) RETURNING id`,
		code, limit,
	).Scan(&id)
	require.NoError(t, err)
	return code, id
}

func quantity(t *testing.T, productID int64) int {
	t.Helper()
	var q int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT quantity FROM products WHERE id = $1`, productID).Scan(&q))
	return q
}

func usedCount(t *testing.T, discountID int64) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT used_count FROM discounts WHERE id = $1`, discountID).Scan(&n))
	return n
}

func newService(t *testing.T) *order.Service {
	t.Helper()
	svc, err := order.NewService(postgres.NewTxManager(pool), ordernumber.New("ORD", nil, nil), order.Options{})
	require.NoError(t, err)
	return svc
}

func TestCreateAndCancelOrder(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	laptop := newProduct(t, "500000", 3)
	mouse := newProduct(t, "250000", 10)
	usedBefore := usedCount(t, 100)

	o, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		CustomerID:      1,
		PaymentMethodID: 1,
		Items: []order.LineRequest{
			{ProductID: laptop, Quantity: 3},
			{ProductID: mouse, Quantity: 2},
		},
		DiscountCodes:   []string{"SAVE10", "PAY5"},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1650000).Equal(o.Total), "total %s", o.Total)
	assert.Equal(t, 0, quantity(t, laptop))
	assert.Equal(t, 8, quantity(t, mouse))
	assert.Equal(t, usedBefore+1, usedCount(t, 100))

	stored, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, stored.Number)
	assert.Equal(t, "1 Main St", stored.ShippingAddress)
	require.Len(t, stored.Items, 2)
	require.Len(t, stored.Discounts, 2)
	assert.Equal(t, "SAVE10", stored.Discounts[0].Code)
	assert.Equal(t, "SAVE10", stored.Discounts[1].StackedWith)
	assert.True(t, decimal.NewFromInt(200000).Equal(stored.Discounts[0].Amount))

	_, err = svc.UpdateOrderStatus(ctx, o.ID, order.StatusConfirmed)
	require.NoError(t, err)

	cancelled, err := svc.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 3, quantity(t, laptop))
	assert.Equal(t, 10, quantity(t, mouse))
	assert.Equal(t, usedBefore, usedCount(t, 100))
}

func TestCreateOrder_RollsBack(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	ok := newProduct(t, "10", 10)
	scarce := newProduct(t, "10", 3)

	var ordersBefore int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&ordersBefore))

	_, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		CustomerID:      2,
		PaymentMethodID: 1,
		Items: []order.LineRequest{
			{ProductID: ok, Quantity: 1},
			{ProductID: scarce, Quantity: 5},
		},
	})
	require.ErrorIs(t, err, order.ErrOutOfStock)

	var ordersAfter int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&ordersAfter))
	assert.Equal(t, ordersBefore, ordersAfter)
	assert.Equal(t, 10, quantity(t, ok))
	assert.Equal(t, 3, quantity(t, scarce))
}

func TestShippedOrderNotCancellable(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	p := newProduct(t, "10", 5)

	o, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		CustomerID:      2,
		PaymentMethodID: 1,
		Items:           []order.LineRequest{{ProductID: p, Quantity: 2}},
	})
	require.NoError(t, err)
	for _, s := range []order.Status{order.StatusConfirmed, order.StatusProcessing, order.StatusShipped} {
		_, err := svc.UpdateOrderStatus(ctx, o.ID, s)
		require.NoError(t, err)
	}

	_, err = svc.CancelOrder(ctx, o.ID)
	require.ErrorIs(t, err, order.ErrOrderNotCancellable)
	assert.Equal(t, 3, quantity(t, p))

	stored, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ShippedAt)
}

func TestConcurrentOrders_UsageLimit(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	p := newProduct(t, "10", 100)
	code, discountID := newDiscount(t, 3)

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
				CustomerID:      2,
				PaymentMethodID: 1,
				Items:           []order.LineRequest{{ProductID: p, Quantity: 1}},
				DiscountCodes:   []string{code},
			})
			if err != nil {
				assert.ErrorIs(t, err, order.ErrDiscountNotApplicable)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 3, usedCount(t, discountID))
	assert.Equal(t, 97, quantity(t, p))
}

func TestConcurrentOrders_Stock(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	p := newProduct(t, "10", 5)

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
				CustomerID:      2,
				PaymentMethodID: 1,
				Items:           []order.LineRequest{{ProductID: p, Quantity: 1}},
			})
			if err != nil {
				assert.ErrorIs(t, err, order.ErrOutOfStock)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, quantity(t, p))
}

func TestOrderNumberLedger_LastSequence(t *testing.T) {
	ctx := context.Background()
	tx := postgres.NewTxManager(pool)
	for _, number := range []string{
		"LED-20260115-000007",
		"LED-20260115-000012",
		"LED-20260115-3F2A9C01B7D4",
		"LED-20260115-123456789012",
		"LED-20260116-000099",
	} {
		require.NoError(t, tx.WithinTx(ctx, func(s order.Store) error {
			return s.Orders().Create(ctx, &order.Order{
				Number:          number,
				CustomerID:      1,
				PaymentMethodID: 1,
				Status:          order.StatusPending,
				OrderedAt:       time.Now(),
			})
		}))
	}

	ledger := postgres.NewOrderNumberLedger(pool)
	for prefix, want := range map[string]int64{
		"LED-20260115-": 123456789012,
		"LED-20260116-": 99,
		"LED-20260117-": 0,
	} {
		got, err := ledger.LastSequence(ctx, prefix)
		require.NoError(t, err)
		assert.Equal(t, want, got, prefix)
	}
}
