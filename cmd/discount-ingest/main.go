// Command discount-ingest bulk-loads promotional codes from gzip-compressed
// code lists and inserts them with the discount template given on the
// command line. Existing codes are left untouched.
//
// By default every well-formed code is imported. When a campaign's codes
// come from several sources, for example the print agency's export and the
// point-of-sale vendor's activation list, --min-files N imports only codes
// present in at least N of the files, so codes that were printed but never
// activated stay out of the catalog.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	batchSize     = 5_000
	maxFiles      = 64

	// Any single file is enough unless the operator asks for cross-checking.
	defaultMinFiles = 1
)

const insertDiscountSQL = `
INSERT INTO discounts (code, name, kind, value, category, min_order_amount,
                       max_discount_amount, usage_limit, can_stack, start_date, end_date, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
ON CONFLICT (code) DO NOTHING`

// template holds the discount attributes shared by every ingested code.
type template struct {
	Name              string
	Kind              discount.Kind
	Value             decimal.Decimal
	Category          discount.Category
	MinOrderAmount    decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal
	UsageLimit        *int
	CanStack          bool
	StartsAt          *time.Time
	EndsAt            *time.Time
}

// codeFilter bounds accepted code lengths.
type codeFilter struct {
	minLen, maxLen int
}

func (f codeFilter) accept(code string) bool {
	return len(code) >= f.minLen && len(code) <= f.maxLen
}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint64
}

type options struct {
	dataDir     string
	databaseURL string
	capacity    uint
	minFiles    int
	filter      codeFilter
	dryRun      bool
	tmpl        template
}

func main() {
	var (
		opts                         options
		kind, category               string
		value, minOrder, maxDiscount string
		usageLimit                   int
		startsAt, endsAt             string
	)

	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing *.gz code lists")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.capacity, "bloom-capacity", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.IntVar(&opts.minFiles, "min-files", defaultMinFiles, "number of files a code must appear in to be accepted")
	flag.IntVar(&opts.filter.minLen, "min-len", 6, "minimum code length")
	flag.IntVar(&opts.filter.maxLen, "max-len", 20, "maximum code length")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "report accepted codes without writing them")
	flag.StringVar(&opts.tmpl.Name, "name", "Promotional code", "discount name")
	flag.StringVar(&kind, "kind", string(discount.KindPercentage), "discount kind: percentage or fixed_amount")
	flag.StringVar(&value, "value", "10", "percentage or fixed amount")
	flag.StringVar(&category, "category", string(discount.CategoryPromotion), "discount category")
	flag.StringVar(&minOrder, "min-order-amount", "0", "minimum order amount")
	flag.StringVar(&maxDiscount, "max-discount-amount", "", "cap on the discount amount (empty for none)")
	flag.IntVar(&usageLimit, "usage-limit", 0, "usage limit per code (0 for unlimited)")
	flag.BoolVar(&opts.tmpl.CanStack, "can-stack", true, "whether codes may stack with other discounts")
	flag.StringVar(&startsAt, "starts-at", "", "RFC 3339 start of the validity window")
	flag.StringVar(&endsAt, "ends-at", "", "RFC 3339 end of the validity window")
	flag.Parse()

	_ = godotenv.Load()
	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" && !opts.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	tmpl, err := parseTemplate(opts.tmpl, kind, category, value, minOrder, maxDiscount, usageLimit, startsAt, endsAt)
	if err != nil {
		slog.Error("invalid discount template", slog.String("error", err.Error()))
		os.Exit(1)
	}
	opts.tmpl = tmpl

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("discount ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount ingest completed successfully")
}

func parseTemplate(
	t template,
	kind, category, value, minOrder, maxDiscount string,
	usageLimit int,
	startsAt, endsAt string,
) (template, error) {
	t.Kind = discount.Kind(kind)
	if t.Kind != discount.KindPercentage && t.Kind != discount.KindFixedAmount {
		return t, errors.Errorf("unknown kind %q", kind)
	}
	t.Category = discount.Category(category)
	if !t.Category.Valid() {
		return t, errors.Errorf("unknown category %q", category)
	}

	var err error
	if t.Value, err = decimal.NewFromString(value); err != nil {
		return t, errors.Wrap(err, "parse value")
	}
	if t.Value.IsNegative() {
		return t, errors.New("value must not be negative")
	}
	if t.Kind == discount.KindPercentage && t.Value.GreaterThan(decimal.NewFromInt(100)) {
		return t, errors.New("percentage must not exceed 100")
	}
	if t.MinOrderAmount, err = decimal.NewFromString(minOrder); err != nil {
		return t, errors.Wrap(err, "parse min order amount")
	}
	if maxDiscount != "" {
		v, err := decimal.NewFromString(maxDiscount)
		if err != nil {
			return t, errors.Wrap(err, "parse max discount amount")
		}
		t.MaxDiscountAmount = decimal.NewNullDecimal(v)
	}
	if usageLimit < 0 {
		return t, errors.New("usage limit must not be negative")
	}
	if usageLimit > 0 {
		t.UsageLimit = &usageLimit
	}
	if t.StartsAt, err = parseTime(startsAt); err != nil {
		return t, errors.Wrap(err, "parse starts-at")
	}
	if t.EndsAt, err = parseTime(endsAt); err != nil {
		return t, errors.Wrap(err, "parse ends-at")
	}
	if t.StartsAt != nil && t.EndsAt != nil && !t.EndsAt.After(*t.StartsAt) {
		return t, errors.New("ends-at must be after starts-at")
	}
	return t, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func run(ctx context.Context, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list code files")
	}
	slices.Sort(files)
	switch {
	case len(files) == 0:
		return errors.Errorf("no *.gz files in %s", opts.dataDir)
	case len(files) > maxFiles:
		return errors.Errorf("%d files exceed the limit of %d", len(files), maxFiles)
	case opts.minFiles < 1 || opts.minFiles > len(files):
		return errors.Errorf("min-files must be between 1 and %d", len(files))
	}

	validCodes, err := acceptedCodes(ctx, files, opts)
	if err != nil {
		return err
	}

	slog.Info("accepted codes", slog.Int("count", len(validCodes)))

	if len(validCodes) == 0 || opts.dryRun {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeDiscounts(ctx, pool, opts.tmpl, validCodes); err != nil {
		return errors.Wrap(err, "write discounts to database")
	}

	return nil
}

// acceptedCodes returns, in sorted order, the codes found in at least
// opts.minFiles files. With a single required file no bloom pass is needed.
func acceptedCodes(ctx context.Context, files []string, opts options) ([]string, error) {
	if opts.minFiles == 1 {
		seen := make(map[string]struct{})
		for _, f := range files {
			if err := streamGzFile(ctx, f, func(code string) {
				if opts.filter.accept(code) {
					seen[code] = struct{}{}
				}
			}); err != nil {
				return nil, err
			}
		}
		out := make([]string, 0, len(seen))
		for code := range seen {
			out = append(out, code)
		}
		slices.Sort(out)
		return out, nil
	}

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, opts)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Keep codes that appear in enough files.
	slog.Info("pass 2: finding candidate codes")

	codes, err := findValidCodes(ctx, files, filters, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find valid codes")
	}
	return codes, nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, opts options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.capacity, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, f, func(code string) {
				if !opts.filter.accept(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", f), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}

			slog.Info("pass 1 complete", slog.String("file", f), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValidCodes re-streams each file and records, per code, the bitmask of
// files whose bloom filter reports it. Bloom false positives can only add
// bits, so each code is confirmed by the exact own-file bit set in pass 2.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, opts options) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint64)
			var count uint64

			if err := streamGzFile(ctx, f, func(code string) {
				if !opts.filter.accept(code) {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", f), slog.Uint64("codes", count))
				}

				hits := 1
				for j, other := range filters {
					if j != i && other.TestString(code) {
						hits++
					}
				}
				if hits >= opts.minFiles {
					candidates[code] |= uint64(1) << uint(i)
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", f)
			}

			slog.Info("pass 2 complete",
				slog.String("file", f),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(candidates)),
			)
			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge the exact per-file bits; a code counts for a file only when that
	// file actually contained it.
	merged := make(map[string]uint64)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= opts.minFiles {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each trimmed,
// upper-cased, non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if code == "" {
			continue
		}
		fn(code)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// writeDiscounts inserts codes in batches, one transaction per batch.
func writeDiscounts(ctx context.Context, pool *pgxpool.Pool, t template, codes []string) error {
	slog.Info("writing discounts to database", slog.Int("count", len(codes)))

	var inserted int64
	for start := 0; start < len(codes); start += batchSize {
		chunk := codes[start:min(start+batchSize, len(codes))]

		batch := &pgx.Batch{}
		for _, code := range chunk {
			batch.Queue(insertDiscountSQL,
				code, t.Name, string(t.Kind), t.Value, string(t.Category), t.MinOrderAmount,
				t.MaxDiscountAmount, t.UsageLimit, t.CanStack, t.StartsAt, t.EndsAt,
			).Exec(func(ct pgconn.CommandTag) error {
				inserted += ct.RowsAffected()
				return nil
			})
		}

		if err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		}); err != nil {
			return errors.Wrapf(err, "insert batch at %d", start)
		}

		slog.Info("write progress",
			slog.Int("written", start+len(chunk)),
			slog.Int("total", len(codes)),
			slog.Int64("inserted", inserted),
		)
	}

	slog.Info("skipped existing codes", slog.Int64("count", int64(len(codes))-inserted))
	return nil
}
