//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"testing"
)

// Seeded catalog ids, see db/seed/catalog.json.
const (
	goldCustomer = 1
	cardPayment  = 2
	inactivePay  = 4
	laptop       = 1
	mouse        = 2
	usbHub       = 6 // no stock
	webcam       = 7 // inactive
)

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{8}-\d{6}$`)

func baseOrder(codes ...string) orderRequest {
	return orderRequest{
		CustomerID:      goldCustomer,
		PaymentMethodID: cardPayment,
		Items: []orderItemRequest{
			{ProductID: laptop, Quantity: 3},
			{ProductID: mouse, Quantity: 2},
		},
		DiscountCodes:   codes,
		ShippingAddress: "1 Integration Way",
	}
}

func createOrder(t *testing.T, req orderRequest) orderResponse {
	t.Helper()

	resp := doPost(t, "/api/orders", req)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusCreated)

	return decodeJSON[orderResponse](t, resp)
}

func TestCreateOrder_Totals(t *testing.T) {
	o := createOrder(t, baseOrder("SAVE10", "CARD50K"))

	if !orderNumberPattern.MatchString(o.OrderNumber) {
		t.Errorf("order number %q does not match %s", o.OrderNumber, orderNumberPattern)
	}
	if o.Status != "pending" {
		t.Errorf("status: got %q, want pending", o.Status)
	}
	for _, tt := range []struct {
		name string
		got  string
		want string
	}{
		{"subtotal", o.Subtotal.String(), "2000000.00"},
		{"customer_discount", o.CustomerDiscount.String(), "100000.00"},
		{"promotional_discount", o.PromotionalDiscount.String(), "250000.00"},
		{"total", o.Total.String(), "1650000.00"},
	} {
		if tt.got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, tt.got, tt.want)
		}
	}
	if len(o.Discounts) != 2 {
		t.Fatalf("expected 2 applied discounts, got %d", len(o.Discounts))
	}
	if o.Discounts[1].StackedWith != "SAVE10" {
		t.Errorf("CARD50K stacked_with: got %q, want SAVE10", o.Discounts[1].StackedWith)
	}
}

func TestCreateOrder_SequentialNumbers(t *testing.T) {
	a := createOrder(t, baseOrder())
	b := createOrder(t, baseOrder())

	if a.OrderNumber >= b.OrderNumber {
		t.Errorf("order numbers not increasing: %s then %s", a.OrderNumber, b.OrderNumber)
	}
}

func TestCreateOrder_Errors(t *testing.T) {
	for _, tt := range []struct {
		name   string
		req    orderRequest
		status int
		code   string
	}{
		{
			name:   "EmptyBasket",
			req:    orderRequest{CustomerID: goldCustomer, PaymentMethodID: cardPayment, Items: []orderItemRequest{}},
			status: http.StatusBadRequest,
			code:   "empty_basket",
		},
		{
			name: "UnknownProduct",
			req: orderRequest{
				CustomerID: goldCustomer, PaymentMethodID: cardPayment,
				Items: []orderItemRequest{{ProductID: 9999, Quantity: 1}},
			},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name: "InactivePaymentMethod",
			req: orderRequest{
				CustomerID: goldCustomer, PaymentMethodID: inactivePay,
				Items: []orderItemRequest{{ProductID: mouse, Quantity: 1}},
			},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name: "NoStock",
			req: orderRequest{
				CustomerID: goldCustomer, PaymentMethodID: cardPayment,
				Items: []orderItemRequest{{ProductID: usbHub, Quantity: 1}},
			},
			status: http.StatusConflict,
			code:   "out_of_stock",
		},
		{
			name: "InactiveProduct",
			req: orderRequest{
				CustomerID: goldCustomer, PaymentMethodID: cardPayment,
				Items: []orderItemRequest{{ProductID: webcam, Quantity: 1}},
			},
			status: http.StatusConflict,
			code:   "out_of_stock",
		},
		{
			name:   "UnknownCode",
			req:    baseOrder("NOSUCHCODE"),
			status: http.StatusUnprocessableEntity,
			code:   "discount_not_found",
		},
		{
			name:   "InactiveCode",
			req:    baseOrder("WELCOME20"),
			status: http.StatusUnprocessableEntity,
			code:   "discount_not_applicable",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPost(t, "/api/orders", tt.req)
			defer resp.Body.Close()
			expectStatus(t, resp, tt.status)

			body := decodeJSON[errorResponse](t, resp)
			if body.Code != tt.code {
				t.Errorf("code: got %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestOrderLifecycle(t *testing.T) {
	o := createOrder(t, baseOrder("SAVE10"))
	path := fmt.Sprintf("/api/orders/%d", o.ID)

	resp := doGet(t, path)
	expectStatus(t, resp, http.StatusOK)
	got := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()
	if got.OrderNumber != o.OrderNumber {
		t.Fatalf("order number: got %q, want %q", got.OrderNumber, o.OrderNumber)
	}

	for _, status := range []string{"confirmed", "processing", "shipped", "delivered"} {
		resp := do(t, http.MethodPatch, path+"/status", map[string]string{"status": status})
		expectStatus(t, resp, http.StatusOK)
		o = decodeJSON[orderResponse](t, resp)
		resp.Body.Close()
		if o.Status != status {
			t.Fatalf("status: got %q, want %q", o.Status, status)
		}
	}
	if o.ShippedAt == "" || o.DeliveredAt == "" {
		t.Errorf("expected shipped_at and delivered_at, got %q and %q", o.ShippedAt, o.DeliveredAt)
	}

	resp = doPost(t, path+"/cancel", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusConflict)
}

func TestCancelOrder(t *testing.T) {
	o := createOrder(t, baseOrder("SAVE10"))

	resp := doPost(t, fmt.Sprintf("/api/orders/%d/cancel", o.ID), nil)
	expectStatus(t, resp, http.StatusOK)
	cancelled := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()
	if cancelled.Status != "cancelled" {
		t.Fatalf("status: got %q, want cancelled", cancelled.Status)
	}

	resp = doPost(t, fmt.Sprintf("/api/orders/%d/cancel", o.ID), nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusConflict)
}

func TestPreviewDiscounts(t *testing.T) {
	resp := doPost(t, "/api/discounts/preview", map[string]any{
		"amount": "2000000",
		"codes":  []string{"SAVE10", "CARD50K", "LOYAL5", "TET2026", "NOSUCHCODE"},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	body := decodeJSON[previewResponse](t, resp)
	if len(body.Applied) != 2 {
		t.Fatalf("expected SAVE10 and CARD50K applied, got %+v", body.Applied)
	}
	if len(body.Rejected) != 1 || body.Rejected[0].Code != "LOYAL5" {
		t.Errorf("expected LOYAL5 rejected, got %+v", body.Rejected)
	}
	if len(body.Errors) != 2 {
		t.Errorf("expected TET2026 and NOSUCHCODE errors, got %+v", body.Errors)
	}
}

func TestPreviewDiscounts_NotStackable(t *testing.T) {
	resp := doPost(t, "/api/discounts/preview", map[string]any{
		"amount": 2000000,
		"codes":  []string{"FLASH100K", "SAVE10"},
	})
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	body := decodeJSON[previewResponse](t, resp)
	if len(body.Applied) != 1 || body.Applied[0].Code != "FLASH100K" {
		t.Fatalf("expected only FLASH100K applied, got %+v", body.Applied)
	}
	if body.Total.String() != "100000.00" {
		t.Errorf("total: got %s, want 100000.00", body.Total)
	}
	if len(body.Rejected) != 1 || body.Rejected[0].Reason != "category not stackable with already-applied categories" {
		t.Errorf("expected SAVE10 rejected as not stackable, got %+v", body.Rejected)
	}
}

func flushRedis(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	redis, err := stack.ServiceContainer(ctx, "redis")
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	code, _, err := redis.Exec(ctx, []string{"redis-cli", "FLUSHALL"})
	if err != nil || code != 0 {
		t.Fatalf("redis-cli FLUSHALL: code %d, err %v", code, err)
	}
}

func TestCreateOrder_AfterRedisFlush(t *testing.T) {
	before := createOrder(t, baseOrder())
	flushRedis(t)
	after := createOrder(t, baseOrder())

	if after.OrderNumber <= before.OrderNumber {
		t.Errorf("order numbers not increasing across flush: %s then %s", before.OrderNumber, after.OrderNumber)
	}
}
