package order

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/customer"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/pricing"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/product"
)

// Store gives access to the repositories bound to one transaction.
type Store interface {
	Customers() customer.Repository
	PaymentMethods() customer.PaymentMethodRepository
	Products() product.Repository
	Discounts() discount.Repository
	Orders() Repository
}

// TxManager runs fn inside a single atomic transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(s Store) error) error
}

// NumberGenerator issues unique human-readable order numbers.
type NumberGenerator interface {
	Next(ctx context.Context) (string, error)
}

// LineRequest is a basket entry as submitted by the caller.
type LineRequest struct {
	ProductID int64
	Quantity  int
}

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	CustomerID      int64
	PaymentMethodID int64
	Items           []LineRequest
	DiscountCodes   []string
	Notes           string
	ShippingAddress string
}

// Options configures optional Service collaborators. Zero values fall back
// to no-op implementations.
type Options struct {
	Publisher Publisher
	// PublishTimeout bounds each event publish after commit. Defaults to 2s.
	PublishTimeout time.Duration
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (o *Options) setDefaults() {
	if o.Publisher == nil {
		o.Publisher = nopPublisher{}
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 2 * time.Second
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
}

// Service creates orders and moves them through their lifecycle.
type Service struct {
	tx             TxManager
	numbers        NumberGenerator
	publisher      Publisher
	publishTimeout time.Duration
	tracer         trace.Tracer
	now            func() time.Time

	ordersCreated     metric.Int64Counter
	ordersCancelled   metric.Int64Counter
	discountsApplied  metric.Int64Counter
	discountsRejected metric.Int64Counter
}

// NewService creates an order Service.
func NewService(tx TxManager, numbers NumberGenerator, opts Options) (*Service, error) {
	opts.setDefaults()

	const name = "orderdesk/order"
	meter := opts.MeterProvider.Meter(name)
	s := &Service{
		tx:             tx,
		numbers:        numbers,
		publisher:      opts.Publisher,
		publishTimeout: opts.PublishTimeout,
		tracer:         opts.TracerProvider.Tracer(name),
		now:            time.Now,
	}

	var err error
	if s.ordersCreated, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if s.ordersCancelled, err = meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled with stock and usage restored"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled")
	}
	if s.discountsApplied, err = meter.Int64Counter("discounts.applied",
		metric.WithDescription("Discount codes applied to committed orders"),
	); err != nil {
		return nil, errors.Wrap(err, "discounts.applied")
	}
	if s.discountsRejected, err = meter.Int64Counter("discounts.rejected",
		metric.WithDescription("Valid discount codes dropped by stacking"),
	); err != nil {
		return nil, errors.Wrap(err, "discounts.rejected")
	}
	return s, nil
}

// CreateOrder prices the basket, applies the customer tier discount and the
// stacked promotional codes, and persists the order while taking stock and
// discount usage, all in one transaction.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(attribute.Int64("customer.id", req.CustomerID)),
	)
	defer func() { endSpan(span, rerr) }()

	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var (
		o        *Order
		rejected []discount.Rejection
	)
	err = s.tx.WithinTx(ctx, func(st Store) error {
		cust, err := st.Customers().GetByID(ctx, req.CustomerID)
		if err != nil {
			return notFound(err, customer.ErrNotFound, "customer", req.CustomerID)
		}
		pm, err := st.PaymentMethods().GetByID(ctx, req.PaymentMethodID)
		if err != nil {
			return notFound(err, customer.ErrPaymentMethodNotFound, "payment method", req.PaymentMethodID)
		}
		if !pm.Active {
			return &NotFoundError{Entity: "payment method", ID: pm.ID}
		}

		priced, err := s.resolveLines(ctx, st, lines)
		if err != nil {
			return err
		}
		quote, err := pricing.Calculate(priced, cust.Type)
		if err != nil {
			return err
		}

		inputs, err := s.resolveCodes(ctx, st, req.DiscountCodes, quote.Subtotal, now)
		if err != nil {
			return err
		}
		stacked := discount.Stack(quote.Subtotal, inputs, now)
		rejected = stacked.Rejected

		total := quote.Subtotal.Sub(quote.CustomerDiscount).Sub(stacked.Total)
		if total.IsNegative() {
			total = decimal.Zero
		}

		number, err := s.numbers.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "generate order number")
		}

		o = &Order{
			Number:              number,
			CustomerID:          cust.ID,
			PaymentMethodID:     pm.ID,
			Status:              StatusPending,
			Subtotal:            quote.Subtotal,
			CustomerDiscount:    quote.CustomerDiscount,
			PromotionalDiscount: stacked.Total,
			Total:               total.Round(2),
			Notes:               req.Notes,
			ShippingAddress:     req.ShippingAddress,
			OrderedAt:           now,
		}
		for _, l := range quote.Lines {
			o.Items = append(o.Items, Item{
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
				Total:     l.Total,
			})
		}
		for _, a := range stacked.Applied {
			o.Discounts = append(o.Discounts, AppliedDiscount{
				DiscountID:  a.Discount.ID,
				Code:        a.Discount.Code,
				Category:    a.Discount.Category,
				Amount:      a.Amount,
				StackedWith: a.StackedWith,
			})
		}
		if err := st.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		if err := takeStock(ctx, st.Products(), o.Items); err != nil {
			return err
		}
		return takeUsage(ctx, st.Discounts(), o.Discounts)
	})
	if err != nil {
		return nil, classify("create order", err)
	}

	lg := zctx.From(ctx)
	s.ordersCreated.Add(ctx, 1)
	s.discountsApplied.Add(ctx, int64(len(o.Discounts)))
	if len(rejected) > 0 {
		s.discountsRejected.Add(ctx, int64(len(rejected)))
		for _, r := range rejected {
			lg.Debug("Discount not stacked",
				zap.String("code", r.Discount.Code),
				zap.String("reason", r.Reason),
			)
		}
	}
	lg.Info("Order created",
		zap.Int64("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.Stringer("total", o.Total),
	)
	s.publish(ctx, newEvent(EventCreated, o, "", now))
	return o, nil
}

// CancelOrder cancels an order that has not shipped yet, returning its
// items to stock and releasing the discount usage it took.
func (s *Service) CancelOrder(ctx context.Context, id int64) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder",
		trace.WithAttributes(attribute.Int64("order.id", id)),
	)
	defer func() { endSpan(span, rerr) }()

	now := s.now()
	var (
		o    *Order
		prev Status
	)
	err := s.tx.WithinTx(ctx, func(st Store) error {
		var err error
		o, err = st.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, ErrNotFound, "order", id)
		}
		prev = o.Status
		if !o.Status.Cancellable() {
			return &OrderNotCancellableError{OrderID: o.ID, Status: o.Status}
		}
		return compensate(ctx, st, o, now)
	})
	if err != nil {
		return nil, classify("cancel order", err)
	}

	s.ordersCancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled",
		zap.Int64("order_id", o.ID),
		zap.String("previous_status", string(prev)),
	)
	s.publish(ctx, newEvent(EventCancelled, o, prev, now))
	return o, nil
}

// UpdateOrderStatus moves an order to the given status. Moving to cancelled
// restores stock and discount usage like CancelOrder does.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, to Status) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateOrderStatus",
		trace.WithAttributes(
			attribute.Int64("order.id", id),
			attribute.String("order.status", string(to)),
		),
	)
	defer func() { endSpan(span, rerr) }()

	now := s.now()
	var (
		o    *Order
		prev Status
	)
	err := s.tx.WithinTx(ctx, func(st Store) error {
		var err error
		o, err = st.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, ErrNotFound, "order", id)
		}
		prev = o.Status
		if !CanTransition(o.Status, to) {
			return &InvalidStatusTransitionError{From: o.Status, To: to}
		}
		if to == StatusCancelled {
			return compensate(ctx, st, o, now)
		}
		o.moveTo(to, now)
		if err := st.Orders().UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update status")
		}
		return nil
	})
	if err != nil {
		return nil, classify("update order status", err)
	}

	typ := EventStatusChanged
	if to == StatusCancelled {
		typ = EventCancelled
		s.ordersCancelled.Add(ctx, 1)
	}
	zctx.From(ctx).Info("Order status changed",
		zap.Int64("order_id", o.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(to)),
	)
	s.publish(ctx, newEvent(typ, o, prev, now))
	return o, nil
}

// GetOrder returns an order with its items and applied discounts.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var o *Order
	err := s.tx.WithinTx(ctx, func(st Store) error {
		var err error
		o, err = st.Orders().Get(ctx, id)
		if err != nil {
			return notFound(err, ErrNotFound, "order", id)
		}
		return nil
	})
	if err != nil {
		return nil, classify("get order", err)
	}
	return o, nil
}

// PreviewDiscounts runs the stacking algorithm for the given codes without
// touching any counters, so callers can show which codes would apply.
func (s *Service) PreviewDiscounts(ctx context.Context, amount decimal.Decimal, codes []string) (_ discount.StackResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PreviewDiscounts")
	defer func() { endSpan(span, rerr) }()

	var res discount.StackResult
	err := s.tx.WithinTx(ctx, func(st Store) error {
		inputs := make([]discount.Input, 0, len(codes))
		for _, code := range dedupe(codes) {
			d, err := st.Discounts().FindByCode(ctx, code)
			switch {
			case errors.Is(err, discount.ErrNotFound):
				d = nil
			case err != nil:
				return errors.Wrapf(err, "find discount %q", code)
			}
			inputs = append(inputs, discount.Input{Code: code, Discount: d})
		}
		res = discount.Stack(amount, inputs, s.now())
		return nil
	})
	if err != nil {
		return discount.StackResult{}, classify("preview discounts", err)
	}
	return res, nil
}

func (s *Service) resolveLines(ctx context.Context, st Store, lines []LineRequest) ([]pricing.Line, error) {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	fetched, err := st.Products().GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[int64]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	out := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, &NotFoundError{Entity: "product", ID: l.ProductID}
		}
		out = append(out, pricing.Line{Product: p, Quantity: l.Quantity})
	}
	return out, nil
}

// resolveCodes looks up every code and checks it against the subtotal. The
// first missing or inapplicable code fails the whole order.
func (s *Service) resolveCodes(
	ctx context.Context,
	st Store,
	codes []string,
	subtotal decimal.Decimal,
	now time.Time,
) ([]discount.Input, error) {
	codes = dedupe(codes)
	inputs := make([]discount.Input, 0, len(codes))
	for _, code := range codes {
		d, err := st.Discounts().FindByCode(ctx, code)
		if errors.Is(err, discount.ErrNotFound) {
			return nil, &DiscountNotFoundError{Code: code}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "find discount %q", code)
		}
		if err := d.Check(subtotal, now); err != nil {
			return nil, &DiscountNotApplicableError{Code: code, Reason: err}
		}
		inputs = append(inputs, discount.Input{Code: code, Discount: d})
	}
	return inputs, nil
}

// compensate restores stock and usage for o and marks it cancelled.
func compensate(ctx context.Context, st Store, o *Order, now time.Time) error {
	items := slices.Clone(o.Items)
	slices.SortFunc(items, func(a, b Item) int { return cmp.Compare(a.ProductID, b.ProductID) })
	for _, it := range items {
		if err := st.Products().IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			return errors.Wrapf(err, "restore stock of product %d", it.ProductID)
		}
	}

	applied := slices.Clone(o.Discounts)
	slices.SortFunc(applied, func(a, b AppliedDiscount) int { return cmp.Compare(a.DiscountID, b.DiscountID) })
	for _, d := range applied {
		if err := st.Discounts().DecrementUsage(ctx, d.DiscountID); err != nil {
			return errors.Wrapf(err, "release discount %q", d.Code)
		}
	}

	o.moveTo(StatusCancelled, now)
	if err := st.Orders().UpdateStatus(ctx, o); err != nil {
		return errors.Wrap(err, "update status")
	}
	return nil
}

// takeStock decrements stock in ascending product id order so concurrent
// orders lock rows in the same order.
func takeStock(ctx context.Context, products product.Repository, items []Item) error {
	items = slices.Clone(items)
	slices.SortFunc(items, func(a, b Item) int { return cmp.Compare(a.ProductID, b.ProductID) })
	for _, it := range items {
		err := products.DecrementStock(ctx, it.ProductID, it.Quantity)
		if errors.Is(err, product.ErrInsufficientStock) {
			oos := &pricing.OutOfStockError{ProductID: it.ProductID, Requested: it.Quantity}
			if current, err := products.GetByIDs(ctx, []int64{it.ProductID}); err == nil && len(current) == 1 {
				oos.Available = current[0].Quantity
			}
			return oos
		}
		if err != nil {
			return errors.Wrapf(err, "take stock of product %d", it.ProductID)
		}
	}
	return nil
}

// takeUsage increments usage counters in ascending discount id order. A
// counter that hit its limit since validation fails the order.
func takeUsage(ctx context.Context, discounts discount.Repository, applied []AppliedDiscount) error {
	applied = slices.Clone(applied)
	slices.SortFunc(applied, func(a, b AppliedDiscount) int { return cmp.Compare(a.DiscountID, b.DiscountID) })
	for _, d := range applied {
		err := discounts.IncrementUsage(ctx, d.DiscountID)
		if errors.Is(err, discount.ErrUsageLimitReached) {
			return &DiscountNotApplicableError{Code: d.Code, Reason: err}
		}
		if err != nil {
			return errors.Wrapf(err, "take usage of discount %q", d.Code)
		}
	}
	return nil
}

// publish runs after commit, so it outlives a cancelled request and never
// holds the response longer than publishTimeout.
func (s *Service) publish(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", string(e.Type)),
			zap.Int64("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

// mergeLines validates the basket and folds repeated products into one line,
// keeping the position of the first occurrence. A merged quantity above
// pricing.MaxQuantity is rejected.
func mergeLines(items []LineRequest) ([]LineRequest, error) {
	if len(items) == 0 {
		return nil, pricing.ErrEmptyBasket
	}
	out := make([]LineRequest, 0, len(items))
	pos := make(map[int64]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 || it.Quantity > pricing.MaxQuantity {
			return nil, &pricing.InvalidQuantityError{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		if i, ok := pos[it.ProductID]; ok {
			// Both addends are at most MaxQuantity, so the sum cannot wrap.
			merged := int64(out[i].Quantity) + int64(it.Quantity)
			if merged > pricing.MaxQuantity {
				return nil, &pricing.InvalidQuantityError{ProductID: it.ProductID, Quantity: int(merged)}
			}
			out[i].Quantity = int(merged)
			continue
		}
		pos[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// notFound turns the repository sentinel into a NotFoundError.
func notFound(err, sentinel error, entity string, id int64) error {
	if errors.Is(err, sentinel) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return errors.Wrapf(err, "get %s %d", entity, id)
}

// classify passes domain errors through and wraps anything else as a
// TransactionError.
func classify(op string, err error) error {
	var (
		iqErr  *pricing.InvalidQuantityError
		oosErr *pricing.OutOfStockError
	)
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrDiscountNotFound),
		errors.Is(err, ErrDiscountNotApplicable),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrOrderNotCancellable),
		errors.Is(err, ErrTransaction),
		errors.Is(err, pricing.ErrEmptyBasket),
		errors.As(err, &iqErr),
		errors.As(err, &oosErr):
		return err
	}
	return &TransactionError{Op: op, Err: err}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
