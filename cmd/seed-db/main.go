package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/hoanghuydev/crm-laravel-sub000/db"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/storage/postgres"
)

type catalog struct {
	CustomerTypes []struct {
		ID                 int64           `json:"id"`
		Name               string          `json:"name"`
		DiscountPercentage decimal.Decimal `json:"discount_percentage"`
		MinOrderAmount     decimal.Decimal `json:"min_order_amount"`
	} `json:"customer_types"`
	Customers []struct {
		ID             int64  `json:"id"`
		Name           string `json:"name"`
		Email          string `json:"email"`
		CustomerTypeID *int64 `json:"customer_type_id"`
	} `json:"customers"`
	PaymentMethods []struct {
		ID     int64  `json:"id"`
		Code   string `json:"code"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	} `json:"payment_methods"`
	Products []struct {
		ID       int64           `json:"id"`
		SKU      string          `json:"sku"`
		Name     string          `json:"name"`
		Price    decimal.Decimal `json:"price"`
		Quantity int             `json:"quantity"`
		Status   string          `json:"status"`
	} `json:"products"`
	Discounts []struct {
		ID                int64               `json:"id"`
		Code              string              `json:"code"`
		Name              string              `json:"name"`
		Kind              string              `json:"kind"`
		Value             decimal.Decimal     `json:"value"`
		Category          string              `json:"category"`
		MinOrderAmount    decimal.Decimal     `json:"min_order_amount"`
		MaxDiscountAmount decimal.NullDecimal `json:"max_discount_amount"`
		UsageLimit        *int                `json:"usage_limit"`
		CanStack          bool                `json:"can_stack"`
		StartsAt          *time.Time          `json:"starts_at"`
		EndsAt            *time.Time          `json:"ends_at"`
		Active            bool                `json:"active"`
	} `json:"discounts"`
}

// Upserts keep explicit ids so that re-running the seed is idempotent.
const (
	upsertCustomerTypeSQL = `
INSERT INTO customer_types (id, name, discount_percentage, min_order_amount)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    discount_percentage = EXCLUDED.discount_percentage,
    min_order_amount = EXCLUDED.min_order_amount`

	upsertCustomerSQL = `
INSERT INTO customers (id, name, email, customer_type_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    email = EXCLUDED.email,
    customer_type_id = EXCLUDED.customer_type_id`

	upsertPaymentMethodSQL = `
INSERT INTO payment_methods (id, code, name, is_active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    code = EXCLUDED.code,
    name = EXCLUDED.name,
    is_active = EXCLUDED.is_active`

	upsertProductSQL = `
INSERT INTO products (id, sku, name, price, quantity, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    sku = EXCLUDED.sku,
    name = EXCLUDED.name,
    price = EXCLUDED.price,
    quantity = EXCLUDED.quantity,
    status = EXCLUDED.status,
    updated_at = now()`

	// used_count is left alone on conflict so seeding never resets usage.
	upsertDiscountSQL = `
INSERT INTO discounts (id, code, name, kind, value, category, min_order_amount,
                       max_discount_amount, usage_limit, can_stack, start_date, end_date, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
    code = EXCLUDED.code,
    name = EXCLUDED.name,
    kind = EXCLUDED.kind,
    value = EXCLUDED.value,
    category = EXCLUDED.category,
    min_order_amount = EXCLUDED.min_order_amount,
    max_discount_amount = EXCLUDED.max_discount_amount,
    usage_limit = EXCLUDED.usage_limit,
    can_stack = EXCLUDED.can_stack,
    start_date = EXCLUDED.start_date,
    end_date = EXCLUDED.end_date,
    is_active = EXCLUDED.is_active`
)

// Explicit ids bypass BIGSERIAL, so sequences are moved past the seeded rows.
var sequenceTables = []string{"customer_types", "customers", "payment_methods", "products", "discounts"}

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file (defaults to the embedded catalog)")
	flag.Parse()

	_ = godotenv.Load()
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	data := db.Catalog
	if catalogFile != "" {
		slog.Info("reading catalog file", slog.String("path", catalogFile))
		b, err := os.ReadFile(catalogFile)
		if err != nil {
			return errors.Wrap(err, "read catalog file")
		}
		data = b
	}

	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return seed(ctx, tx, &c)
	})
}

func seed(ctx context.Context, tx pgx.Tx, c *catalog) error {
	batch := &pgx.Batch{}
	for _, t := range c.CustomerTypes {
		batch.Queue(upsertCustomerTypeSQL, t.ID, t.Name, t.DiscountPercentage, t.MinOrderAmount)
	}
	for _, cu := range c.Customers {
		batch.Queue(upsertCustomerSQL, cu.ID, cu.Name, cu.Email, cu.CustomerTypeID)
	}
	for _, pm := range c.PaymentMethods {
		batch.Queue(upsertPaymentMethodSQL, pm.ID, pm.Code, pm.Name, pm.Active)
	}
	for _, p := range c.Products {
		batch.Queue(upsertProductSQL, p.ID, p.SKU, p.Name, p.Price, p.Quantity, p.Status)
	}
	for _, d := range c.Discounts {
		batch.Queue(upsertDiscountSQL,
			d.ID, d.Code, d.Name, d.Kind, d.Value, d.Category, d.MinOrderAmount,
			d.MaxDiscountAmount, d.UsageLimit, d.CanStack, d.StartsAt, d.EndsAt, d.Active,
		)
	}
	for _, table := range sequenceTables {
		batch.Queue(`SELECT setval(pg_get_serial_sequence('` + table + `', 'id'), COALESCE((SELECT MAX(id) FROM ` + table + `), 1))`)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert catalog")
	}

	slog.Info("upserted catalog",
		slog.Int("customer_types", len(c.CustomerTypes)),
		slog.Int("customers", len(c.Customers)),
		slog.Int("payment_methods", len(c.PaymentMethods)),
		slog.Int("products", len(c.Products)),
		slog.Int("discounts", len(c.Discounts)),
	)
	return nil
}
