package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/marketbay/settlement/internal/domain/catalog"
	"github.com/marketbay/settlement/internal/domain/order"
)

type addressPayload struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (p addressPayload) toDomain() order.Address {
	return order.Address{
		Name: p.Name, Phone: p.Phone, Line1: p.Line1, Line2: p.Line2,
		City: p.City, Region: p.Region, PostalCode: p.PostalCode, Country: p.Country,
	}
}

type createOrderPayload struct {
	CustomerID string `json:"customerId"`
	Items      []struct {
		ProductID string `json:"productId"`
		VariantID string `json:"variantId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	ShippingAddress *addressPayload `json:"shippingAddress"`
	BillingAddress  *addressPayload `json:"billingAddress"`
	CouponCode      string          `json:"couponCode"`
	DeliveryCharge  decimal.Decimal `json:"deliveryCharge"`
	DeliveryOption  string          `json:"deliveryOption"`
	Payment         *struct {
		Method string          `json:"method"`
		Amount decimal.Decimal `json:"amount"`
		Status string          `json:"status"`
	} `json:"payment"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var payload createOrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, r, badRequest("invalid request body: "+err.Error()))
		return
	}
	if payload.CustomerID == "" {
		respondError(w, r, badRequest("customerId is required"))
		return
	}
	if payload.ShippingAddress == nil || payload.ShippingAddress.Line1 == "" {
		respondError(w, r, badRequest("shippingAddress with line1 is required"))
		return
	}

	req := order.CreateOrderRequest{
		CustomerID:     payload.CustomerID,
		Shipping:       payload.ShippingAddress.toDomain(),
		CouponCode:     payload.CouponCode,
		DeliveryCharge: payload.DeliveryCharge,
		DeliveryOption: payload.DeliveryOption,
	}
	for _, item := range payload.Items {
		req.Lines = append(req.Lines, order.CartLine{
			Ref:      catalog.LineRef{ProductID: item.ProductID, VariantID: item.VariantID},
			Quantity: item.Quantity,
		})
	}
	if payload.BillingAddress != nil {
		billing := payload.BillingAddress.toDomain()
		req.Billing = &billing
	}
	if payload.Payment != nil {
		req.Payment = &order.PaymentSummary{
			Method: payload.Payment.Method,
			Amount: payload.Payment.Amount,
			Status: payload.Payment.Status,
		}
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, p, err := parseListQuery(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	orders, err := h.orders.List(r.Context(), f, p)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orders", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range orders {
					encodeOrder(e, &orders[i])
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}

func parseListQuery(r *http.Request) (order.Filter, order.Page, error) {
	var (
		f order.Filter
		p order.Page
	)
	q := r.URL.Query()

	for _, s := range q["status"] {
		status, err := order.ParseStatus(s)
		if err != nil {
			return f, p, badRequest(err.Error())
		}
		f.Statuses = append(f.Statuses, status)
	}
	f.CustomerID = q.Get("customerId")
	f.PaymentMethod = q.Get("paymentMethod")
	f.ContainsProductID = q.Get("containsProduct")

	if v := q.Get("createdFrom"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, p, badRequest("invalid createdFrom: " + err.Error())
		}
		f.CreatedFrom = &t
	}
	if v := q.Get("createdTo"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, p, badRequest("invalid createdTo: " + err.Error())
		}
		f.CreatedTo = &t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, p, badRequest("invalid limit")
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, p, badRequest("invalid offset")
		}
		p.Offset = n
	}

	return f, p, nil
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, r, badRequest("invalid request body: "+err.Error()))
		return
	}

	next, err := order.ParseStatus(payload.Status)
	if err != nil {
		respondError(w, r, badRequest(err.Error()))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), next)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}
