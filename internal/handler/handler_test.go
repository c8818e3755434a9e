package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbay/settlement/internal/domain/coupon"
	"github.com/marketbay/settlement/internal/domain/invoice"
	"github.com/marketbay/settlement/internal/domain/order"
)

type stubOrderService struct {
	order      *order.Order
	orders     []order.Order
	err        error
	gotRequest order.CreateOrderRequest
	gotFilter  order.Filter
	gotPage    order.Page
	gotStatus  order.Status
	gotDeleted string
}

func (s *stubOrderService) CreateOrder(_ context.Context, req order.CreateOrderRequest) (*order.Order, error) {
	s.gotRequest = req
	return s.order, s.err
}

func (s *stubOrderService) Get(_ context.Context, _ string) (*order.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) List(_ context.Context, f order.Filter, p order.Page) ([]order.Order, error) {
	s.gotFilter = f
	s.gotPage = p
	return s.orders, s.err
}

func (s *stubOrderService) UpdateStatus(_ context.Context, _ string, next order.Status) (*order.Order, error) {
	s.gotStatus = next
	return s.order, s.err
}

func (s *stubOrderService) Delete(_ context.Context, id string) error {
	s.gotDeleted = id
	return s.err
}

type stubInvoiceService struct {
	invoice  *invoice.Invoice
	invoices []invoice.Invoice
	err      error
	gotType  invoice.Type
	gotBy    string
}

func (s *stubInvoiceService) Create(_ context.Context, _ string, typ invoice.Type, printedBy string) (*invoice.Invoice, error) {
	s.gotType = typ
	s.gotBy = printedBy
	return s.invoice, s.err
}

func (s *stubInvoiceService) ListByOrder(_ context.Context, _ string) ([]invoice.Invoice, error) {
	return s.invoices, s.err
}

func newTestMux(orders OrderService, invoices InvoiceService) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(orders, invoices).Register(mux)
	return mux
}

func sampleOrder() *order.Order {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	shipping := &order.Address{ID: "addr-1", Line1: "1 Ship St"}
	return &order.Order{
		ID:                    "o1",
		CustomerID:            "cust-1",
		Status:                order.StatusPending,
		DeliveryCharge:        decimal.NewFromInt(30),
		Total:                 decimal.NewFromInt(250),
		ItemsTotalDiscount:    decimal.NewFromInt(10),
		CouponAppliedDiscount: decimal.NewFromInt(15),
		TotalWithDiscount:     decimal.NewFromInt(225),
		NetTotal:              decimal.NewFromInt(255),
		CouponCode:            "SAVE10CAP",
		Billing:               shipping,
		Shipping:              shipping,
		Items: []order.OrderItem{
			{
				ID:        "item-1",
				ProductID: "prod-a",
				Name:      "Widget",
				UnitPrice: decimal.NewFromInt(100),
				SalePrice: decimal.NewFromInt(95),
				Quantity:  2,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateOrder_OK(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	mux := newTestMux(orders, &stubInvoiceService{})

	body := `{
		"customerId": "cust-1",
		"items": [
			{"productId": "prod-a", "quantity": 2},
			{"variantId": "var-b", "quantity": 1}
		],
		"shippingAddress": {"line1": "1 Ship St"},
		"couponCode": "SAVE10CAP",
		"deliveryCharge": "30"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	require.Len(t, orders.gotRequest.Lines, 2)
	assert.Equal(t, "prod-a", orders.gotRequest.Lines[0].Ref.ProductID)
	assert.Equal(t, "var-b", orders.gotRequest.Lines[1].Ref.VariantID)
	assert.True(t, orders.gotRequest.DeliveryCharge.Equal(decimal.NewFromInt(30)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "o1", got["id"])
	assert.Equal(t, "250", got["total"])
	assert.Equal(t, "255", got["netTotal"])
	assert.Equal(t, "SAVE10CAP", got["couponCode"])
	assert.NotNil(t, got["billingAddress"])
}

func TestCreateOrder_MissingCustomer(t *testing.T) {
	mux := newTestMux(&stubOrderService{}, &stubInvoiceService{})

	body := `{"items": [{"productId": "p", "quantity": 1}], "shippingAddress": {"line1": "x"}}`
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertErrorCode(t, w, "ValidationError")
}

func TestCreateOrder_MissingShipping(t *testing.T) {
	mux := newTestMux(&stubOrderService{}, &stubInvoiceService{})

	body := `{"customerId": "c", "items": [{"productId": "p", "quantity": 1}]}`
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertErrorCode(t, w, "ValidationError")
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty cart", order.ErrEmptyCart, http.StatusBadRequest, "ValidationError"},
		{"line not found", &order.LineItemNotFoundError{}, http.StatusNotFound, "NotFoundError"},
		{"unknown coupon", coupon.ErrNotFound, http.StatusNotFound, "NotFoundError"},
		{"expired coupon", coupon.ErrExpired, http.StatusUnprocessableEntity, "BusinessRuleViolation"},
		{"coupon limit", coupon.ErrLimitReached, http.StatusUnprocessableEntity, "BusinessRuleViolation"},
		{"minimum not met", &coupon.MinimumNotMetError{Minimum: decimal.NewFromInt(200)}, http.StatusUnprocessableEntity, "BusinessRuleViolation"},
		{"not eligible", coupon.ErrNotEligible, http.StatusUnprocessableEntity, "BusinessRuleViolation"},
		{"storage failure", assert.AnError, http.StatusInternalServerError, "PersistenceFailure"},
	}

	body := `{"customerId": "c", "items": [{"productId": "p", "quantity": 1}], "shippingAddress": {"line1": "x"}}`
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTestMux(&stubOrderService{err: tt.err}, &stubInvoiceService{})

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body)))

			assert.Equal(t, tt.wantStatus, w.Code)
			assertErrorCode(t, w, tt.wantCode)
		})
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	mux := newTestMux(&stubOrderService{err: order.ErrNotFound}, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assertErrorCode(t, w, "NotFoundError")
}

func TestListOrders_ParsesQuery(t *testing.T) {
	orders := &stubOrderService{orders: []order.Order{*sampleOrder()}}
	mux := newTestMux(orders, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/orders?status=PENDING&status=PROCESSING&customerId=cust-1&paymentMethod=card"+
			"&containsProduct=prod-a&createdFrom=2025-06-01T00:00:00Z&limit=10&offset=20", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []order.Status{order.StatusPending, order.StatusProcessing}, orders.gotFilter.Statuses)
	assert.Equal(t, "cust-1", orders.gotFilter.CustomerID)
	assert.Equal(t, "card", orders.gotFilter.PaymentMethod)
	assert.Equal(t, "prod-a", orders.gotFilter.ContainsProductID)
	require.NotNil(t, orders.gotFilter.CreatedFrom)
	assert.Equal(t, 10, orders.gotPage.Limit)
	assert.Equal(t, 20, orders.gotPage.Offset)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got["orders"], 1)
}

func TestListOrders_BadStatus(t *testing.T) {
	mux := newTestMux(&stubOrderService{}, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders?status=SHIPPED", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertErrorCode(t, w, "ValidationError")
}

func TestUpdateOrderStatus_OK(t *testing.T) {
	updated := sampleOrder()
	updated.Status = order.StatusProcessing
	orders := &stubOrderService{order: updated}
	mux := newTestMux(orders, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/orders/o1/status",
		strings.NewReader(`{"status": "PROCESSING"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, order.StatusProcessing, orders.gotStatus)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "PROCESSING", got["status"])
}

func TestUpdateOrderStatus_Illegal(t *testing.T) {
	orders := &stubOrderService{err: &order.IllegalTransitionError{
		From: order.StatusDelivered,
		To:   order.StatusProcessing,
	}}
	mux := newTestMux(orders, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/orders/o1/status",
		strings.NewReader(`{"status": "PROCESSING"}`)))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assertErrorCode(t, w, "BusinessRuleViolation")
}

func TestUpdateOrderStatus_Conflict(t *testing.T) {
	orders := &stubOrderService{err: order.ErrStatusConflict}
	mux := newTestMux(orders, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/orders/o1/status",
		strings.NewReader(`{"status": "PROCESSING"}`)))

	assert.Equal(t, http.StatusConflict, w.Code)
	assertErrorCode(t, w, "ConcurrencyConflict")
}

func TestDeleteOrder_OK(t *testing.T) {
	orders := &stubOrderService{}
	mux := newTestMux(orders, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/orders/o1", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "o1", orders.gotDeleted)
}

func TestDeleteOrder_NotFound(t *testing.T) {
	mux := newTestMux(&stubOrderService{err: order.ErrNotFound}, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/orders/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assertErrorCode(t, w, "NotFoundError")
}

func TestCreateInvoice_OK(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	invoices := &stubInvoiceService{invoice: &invoice.Invoice{
		ID:        "inv-1",
		OrderID:   "o1",
		Number:    "INV-20250615-0001",
		Type:      invoice.TypeCustomer,
		PrintedBy: "clerk",
		PrintedAt: now,
		CreatedAt: now,
	}}
	mux := newTestMux(&stubOrderService{}, invoices)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/orders/o1/invoices",
		strings.NewReader(`{"type": "CUSTOMER", "printedBy": "clerk"}`)))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, invoice.TypeCustomer, invoices.gotType)
	assert.Equal(t, "clerk", invoices.gotBy)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "INV-20250615-0001", got["invoiceNumber"])
}

func TestCreateInvoice_BadType(t *testing.T) {
	mux := newTestMux(&stubOrderService{}, &stubInvoiceService{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/orders/o1/invoices",
		strings.NewReader(`{"type": "customer"}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertErrorCode(t, w, "ValidationError")
}

func TestCreateInvoice_UnknownOrder(t *testing.T) {
	mux := newTestMux(&stubOrderService{}, &stubInvoiceService{err: order.ErrNotFound})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/orders/missing/invoices",
		strings.NewReader(`{"type": "ADMIN"}`)))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assertErrorCode(t, w, "NotFoundError")
}

func TestListInvoices_OK(t *testing.T) {
	invoices := &stubInvoiceService{invoices: []invoice.Invoice{
		{ID: "inv-1", Number: "INV-20250615-0001"},
		{ID: "inv-2", Number: "INV-20250615-0002"},
	}}
	mux := newTestMux(&stubOrderService{}, invoices)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders/o1/invoices", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got["invoices"], 2)
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, want, body["code"])
}
