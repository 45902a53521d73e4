package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateOrderRequest
	err := decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "customer_id":
			req.CustomerID, err = d.Int64()
		case "payment_method_id":
			req.PaymentMethodID, err = d.Int64()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var line order.LineRequest
				if err := d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
					switch string(key) {
					case "product_id":
						line.ProductID, err = d.Int64()
					case "quantity":
						line.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, line)
				return nil
			})
		case "discount_codes":
			req.DiscountCodes, err = decodeStrings(d)
		case "notes":
			req.Notes, err = d.Str()
		case "shipping_address":
			req.ShippingAddress, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && req.CustomerID <= 0 {
		err = badRequest("customer_id is required")
	}
	if err == nil && req.PaymentMethodID <= 0 {
		err = badRequest("payment_method_id is required")
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	o, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var to order.Status
	err = decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := d.Str()
		to = order.Status(s)
		return err
	})
	if err == nil && !to.Valid() {
		err = badRequest("unknown status %q", to)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	o, err := h.orders.UpdateOrderStatus(r.Context(), id, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("order_number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Int64(o.CustomerID) })
		e.Field("payment_method_id", func(e *jx.Encoder) { e.Int64(o.PaymentMethodID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("customer_discount", func(e *jx.Encoder) { money(e, o.CustomerDiscount) })
		e.Field("promotional_discount", func(e *jx.Encoder) { money(e, o.PromotionalDiscount) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		if o.Notes != "" {
			e.Field("notes", func(e *jx.Encoder) { e.Str(o.Notes) })
		}
		if o.ShippingAddress != "" {
			e.Field("shipping_address", func(e *jx.Encoder) { e.Str(o.ShippingAddress) })
		}
		e.Field("ordered_at", func(e *jx.Encoder) { timestamp(e, o.OrderedAt) })
		if o.ShippedAt != nil {
			e.Field("shipped_at", func(e *jx.Encoder) { timestamp(e, *o.ShippedAt) })
		}
		if o.DeliveredAt != nil {
			e.Field("delivered_at", func(e *jx.Encoder) { timestamp(e, *o.DeliveredAt) })
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						e.Field("total", func(e *jx.Encoder) { money(e, it.Total) })
					})
				}
			})
		})
		e.Field("discounts", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ad := range o.Discounts {
					e.Obj(func(e *jx.Encoder) {
						e.Field("discount_id", func(e *jx.Encoder) { e.Int64(ad.DiscountID) })
						e.Field("code", func(e *jx.Encoder) { e.Str(ad.Code) })
						e.Field("category", func(e *jx.Encoder) { e.Str(string(ad.Category)) })
						e.Field("amount", func(e *jx.Encoder) { money(e, ad.Amount) })
						if ad.StackedWith != "" {
							e.Field("stacked_with", func(e *jx.Encoder) { e.Str(ad.StackedWith) })
						}
					})
				}
			})
		})
	})
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}
