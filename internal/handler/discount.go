package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/discount"
)

// previewDiscounts runs the stacker for an amount and a set of codes without
// touching usage counters.
func (h *Handler) previewDiscounts(w http.ResponseWriter, r *http.Request) {
	var (
		amount    decimal.Decimal
		hasAmount bool
		codes     []string
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "amount":
			amount, err = decodeDecimal(d)
			hasAmount = true
		case "codes":
			codes, err = decodeStrings(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && !hasAmount {
		err = badRequest("amount is required")
	}
	if err == nil && amount.IsNegative() {
		err = badRequest("amount must not be negative")
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := h.orders.PreviewDiscounts(r.Context(), amount, codes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeStackResult(e, res) })
}

func encodeStackResult(e *jx.Encoder, res discount.StackResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("total", func(e *jx.Encoder) { money(e, res.Total) })
		e.Field("applied", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range res.Applied {
					e.Obj(func(e *jx.Encoder) {
						e.Field("code", func(e *jx.Encoder) { e.Str(a.Discount.Code) })
						e.Field("category", func(e *jx.Encoder) { e.Str(string(a.Discount.Category)) })
						e.Field("amount", func(e *jx.Encoder) { money(e, a.Amount) })
						if a.StackedWith != "" {
							e.Field("stacked_with", func(e *jx.Encoder) { e.Str(a.StackedWith) })
						}
					})
				}
			})
		})
		e.Field("rejected", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, rj := range res.Rejected {
					e.Obj(func(e *jx.Encoder) {
						e.Field("code", func(e *jx.Encoder) { e.Str(rj.Discount.Code) })
						e.Field("reason", func(e *jx.Encoder) { e.Str(rj.Reason) })
					})
				}
			})
		})
		e.Field("errors", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, ce := range res.Errors {
					e.Obj(func(e *jx.Encoder) {
						e.Field("code", func(e *jx.Encoder) { e.Str(ce.Code) })
						e.Field("error", func(e *jx.Encoder) { e.Str(ce.Err.Error()) })
					})
				}
			})
		})
	})
}
