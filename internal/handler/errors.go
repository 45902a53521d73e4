package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/pricing"
)

// writeServiceError maps domain errors to HTTP statuses. Anything it does
// not recognise is logged and reported as a 500 without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bad *badRequestError
		qty *pricing.InvalidQuantityError
	)
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, "bad_request", bad.Error())
	case errors.Is(err, pricing.ErrEmptyBasket):
		writeError(w, http.StatusBadRequest, "empty_basket", err.Error())
	case errors.As(err, &qty):
		writeError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, order.ErrOutOfStock):
		writeError(w, http.StatusConflict, "out_of_stock", err.Error())
	case errors.Is(err, order.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, order.ErrOrderNotCancellable):
		writeError(w, http.StatusConflict, "order_not_cancellable", err.Error())
	case errors.Is(err, order.ErrDiscountNotFound):
		writeError(w, http.StatusUnprocessableEntity, "discount_not_found", err.Error())
	case errors.Is(err, order.ErrDiscountNotApplicable):
		writeError(w, http.StatusUnprocessableEntity, "discount_not_applicable", err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
