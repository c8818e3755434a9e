package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/marketbay/settlement/internal/domain/coupon"
	"github.com/marketbay/settlement/internal/domain/invoice"
	"github.com/marketbay/settlement/internal/domain/order"
)

// Error taxonomy codes carried in error responses.
const (
	codeValidation  = "ValidationError"
	codeNotFound    = "NotFoundError"
	codeBusinessRule = "BusinessRuleViolation"
	codeConcurrency = "ConcurrencyConflict"
	codePersistence = "PersistenceFailure"
)

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(err.Error()) })
	})
	writeJSON(w, status, &e)
}

// classify maps a domain error to an HTTP status and taxonomy code. All
// business-rule and not-found conditions surface before any write begins, so
// a failing request never leaves partial state behind.
func classify(err error) (int, string) {
	var (
		minErr   *coupon.MinimumNotMetError
		lineErr  *order.LineItemNotFoundError
		qtyErr   *order.InvalidQuantityError
		transErr *order.IllegalTransitionError
		valErr   *validationError
	)
	switch {
	case errors.As(err, &valErr),
		errors.As(err, &qtyErr),
		errors.Is(err, order.ErrEmptyCart):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.As(err, &lineErr):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrLimitReached),
		errors.Is(err, coupon.ErrNotEligible),
		errors.As(err, &minErr),
		errors.As(err, &transErr):
		return http.StatusUnprocessableEntity, codeBusinessRule
	case errors.Is(err, order.ErrStatusConflict):
		return http.StatusConflict, codeConcurrency
	}
	return http.StatusInternalServerError, codePersistence
}

// validationError marks malformed request input.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func badRequest(msg string) error { return &validationError{msg: msg} }

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeAddress(e *jx.Encoder, a *order.Address) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
		e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
		e.Field("line2", func(e *jx.Encoder) { e.Str(a.Line2) })
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		e.Field("region", func(e *jx.Encoder) { e.Str(a.Region) })
		e.Field("postalCode", func(e *jx.Encoder) { e.Str(a.PostalCode) })
		e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
	})
}

// encodeOrder renders an order. Monetary fields are decimal strings so
// clients never see binary floating point.
func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("customerId", func(e *jx.Encoder) { e.Str(o.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("deliveryCharge", func(e *jx.Encoder) { e.Str(o.DeliveryCharge.String()) })
		if o.DeliveryOption != "" {
			e.Field("deliveryOption", func(e *jx.Encoder) { e.Str(o.DeliveryOption) })
		}
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.String()) })
		e.Field("itemsTotalDiscount", func(e *jx.Encoder) { e.Str(o.ItemsTotalDiscount.String()) })
		e.Field("couponAppliedDiscount", func(e *jx.Encoder) { e.Str(o.CouponAppliedDiscount.String()) })
		e.Field("totalWithDiscount", func(e *jx.Encoder) { e.Str(o.TotalWithDiscount.String()) })
		e.Field("netTotal", func(e *jx.Encoder) { e.Str(o.NetTotal.String()) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		if o.Billing != nil {
			e.Field("billingAddress", func(e *jx.Encoder) { encodeAddress(e, o.Billing) })
		}
		if o.Shipping != nil {
			e.Field("shippingAddress", func(e *jx.Encoder) { encodeAddress(e, o.Shipping) })
		}
		if o.Payment != nil {
			e.Field("payment", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("method", func(e *jx.Encoder) { e.Str(o.Payment.Method) })
					e.Field("amount", func(e *jx.Encoder) { e.Str(o.Payment.Amount.String()) })
					e.Field("status", func(e *jx.Encoder) { e.Str(o.Payment.Status) })
				})
			})
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					encodeOrderItem(e, item)
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}

func encodeOrderItem(e *jx.Encoder, item order.OrderItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(item.ID) })
		if item.ProductID != "" {
			e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
		}
		if item.VariantID != "" {
			e.Field("variantId", func(e *jx.Encoder) { e.Str(item.VariantID) })
		}
		e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
		e.Field("unitPrice", func(e *jx.Encoder) { e.Str(item.UnitPrice.String()) })
		if item.SalePrice.IsPositive() {
			e.Field("salePrice", func(e *jx.Encoder) { e.Str(item.SalePrice.String()) })
		}
		if item.Image != "" {
			e.Field("image", func(e *jx.Encoder) { e.Str(item.Image) })
		}
		e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
	})
}

func encodeInvoice(e *jx.Encoder, inv *invoice.Invoice) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(inv.ID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(inv.OrderID) })
		e.Field("invoiceNumber", func(e *jx.Encoder) { e.Str(inv.Number) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(inv.Type)) })
		e.Field("printedBy", func(e *jx.Encoder) { e.Str(inv.PrintedBy) })
		e.Field("printedAt", func(e *jx.Encoder) { encodeTime(e, inv.PrintedAt) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, inv.CreatedAt) })
	})
}
