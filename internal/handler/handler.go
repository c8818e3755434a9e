// Package handler exposes the settlement engine over HTTP. Handlers decode
// requests, delegate to the domain services, and map domain errors onto the
// error taxonomy carried in responses.
package handler

import (
	"context"
	"net/http"

	"github.com/marketbay/settlement/internal/domain/invoice"
	"github.com/marketbay/settlement/internal/domain/order"
)

// OrderService is the settlement surface the handlers need.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	List(ctx context.Context, f order.Filter, p order.Page) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id string, next order.Status) (*order.Order, error)
	Delete(ctx context.Context, id string) error
}

// InvoiceService mints and lists invoices.
type InvoiceService interface {
	Create(ctx context.Context, orderID string, typ invoice.Type, printedBy string) (*invoice.Invoice, error)
	ListByOrder(ctx context.Context, orderID string) ([]invoice.Invoice, error)
}

// Handler routes settlement requests to the domain services.
type Handler struct {
	orders   OrderService
	invoices InvoiceService
}

// NewHandler constructs a Handler with the required services.
func NewHandler(orders OrderService, invoices InvoiceService) *Handler {
	return &Handler{orders: orders, invoices: invoices}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.updateOrderStatus)
	mux.HandleFunc("DELETE /api/orders/{id}", h.deleteOrder)
	mux.HandleFunc("POST /api/orders/{id}/invoices", h.createInvoice)
	mux.HandleFunc("GET /api/orders/{id}/invoices", h.listInvoices)
}
